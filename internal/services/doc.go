// Package services defines shared utilities consumed by the ingestion and
// enrichment workers and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp object IDs, upload IDs, stage names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper, and the mapping from
//     those markers to HTTP status codes.
//
// Client packages for the object store, transcription service, search index,
// and OCR endpoint live in subpackages.
package services
