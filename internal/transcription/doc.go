// Package transcription implements a recognizer backed by a whisper.cpp server over HTTP.
// It uploads each utterance snapshot as a WAV file in a multipart form,
// retries transient failures with exponential backoff, and keeps request statistics.
package transcription
