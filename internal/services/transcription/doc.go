// Package transcription talks to the offline transcription service that turns
// a lecture recording into a speaker-diarized transcript and extracted slides.
//
// A task is submitted with a signed media URL, polled until it reaches a
// terminal status, and its result documents are downloaded by URL. Requests
// are retried with exponential backoff on 408, 429, 5xx and network timeouts.
package transcription
