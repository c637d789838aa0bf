// Package daemon coordinates the long-running YanheKt process.
//
// It wires configuration, the state registry, the ingest service and the
// insight pipeline into a single lifecycle with flock-based locking to prevent
// multiple instances. The HTTP API under /api is the only external surface:
// upload sessions, artifact downloads, insight control and status, subtitle
// and slide lookups, search, and health.
//
// Keep orchestration here. Session and pipeline semantics live in the ingest
// and pipeline packages; the daemon only translates HTTP to their calls and
// their errors back to status codes.
package daemon
