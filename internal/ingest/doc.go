// Package ingest owns chunked upload sessions and the merge worker that turns
// their parts into a final artifact.
//
// A session lives under {temp_upload_dir}/{uploadId} with a parts directory
// (part_00001.ts, ...), meta.json written once at initiation, and state.json
// rewritten under a per-session lock as segments arrive and the merge
// progresses. Progress is always recomputed from the parts on disk.
//
// Stage flow: UPLOADING -> QUEUED -> MERGING -> MERGED -> TRANSCODING -> DONE,
// with FAILED reachable from any worker step. A FAILED session keeps its
// directory so missing parts can be re-sent and complete called again. DONE
// removes the directory; the terminal record stays answerable from memory for
// a while so polling clients see the download URL.
//
// The merge runs on a workflow.Pool keyed by upload id, so concurrent complete
// calls never start two merges. Remuxing to MP4 goes through the Transcoder
// interface; when no binary is found the session finishes with the raw
// transport stream instead of failing.
package ingest
