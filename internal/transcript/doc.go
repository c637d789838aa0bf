// Package transcript decodes the result documents of a finished transcription
// task: the speaker-diarized transcript and the slide extraction.
package transcript
