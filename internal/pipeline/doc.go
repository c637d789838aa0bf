// Package pipeline drives the enrichment of a merged lecture recording:
// staging it in object storage, running an offline transcription task,
// downloading and deriving results, indexing searchable cards and cleaning
// up the remote copy.
//
// Every phase is guarded by a step in the registry ledger, so a run can be
// restarted at any point and continues past the work already done. The
// Result Post-Processor runs the download, index and cleanup phases on their
// own when a status query finds result URLs that were never downloaded.
package pipeline
