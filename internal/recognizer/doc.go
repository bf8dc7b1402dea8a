// Package recognizer defines the pluggable speech recognizer used by the pipeline.
//
// A Recognizer turns a buffer of mono 16 kHz float samples into ordered text
// segments. Implementations live in sub-packages (whisper for the in-process
// whisper.cpp engine) and in the transcription package (whisper-server over HTTP).
// Breaker wraps any Recognizer with a circuit breaker.
package recognizer
