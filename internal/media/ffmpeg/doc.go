// Package ffmpeg wraps the copy-only remux the ingestion worker runs after
// merging transport stream segments.
//
// Primary entry point:
//   - Remuxer.Remux: ffmpeg -y -loglevel error -i <src> -c copy <dst>
package ffmpeg
