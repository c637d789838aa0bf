// Package registry persists the per-object enrichment state in SQLite.
//
// Each content object owns one JSON document (objectId, stage, progress,
// message, attempts, timestamps, and the meta/storage/transcription/results
// sub-maps plus the step ledger). Writes go through Upsert, which applies a
// one-level merge: top-level keys replace, nested maps merge key by key, and
// ledger entries are first-write-wins. Upserts are serialized inside the
// process and each one runs in its own transaction, so no partial document
// is ever observed by readers.
package registry
