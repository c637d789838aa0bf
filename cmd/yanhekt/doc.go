// Command yanhekt is the operator CLI for the YanheKt ingestion and insight
// daemon. It runs the daemon in the foreground and talks to a running one
// over its HTTP API to inspect and drive insight runs.
package main
