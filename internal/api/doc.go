// Package api defines the JSON payloads served under /api and a small HTTP
// client the CLI uses to talk to a running daemon.
//
// Payload field names follow the browser extension that drives uploads:
// camelCase, with the search response keeping its snake_case video_id.
// Timestamps on insight status are Unix seconds with sub-second precision.
package api
