// Package subtitles renders SRT subtitle files from transcription results so
// the API can serve captions next to the merged lecture video.
package subtitles
