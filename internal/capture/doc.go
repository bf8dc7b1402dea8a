// Package capture opens a microphone through miniaudio (malgo) and feeds
// mono float32 frames into the pipeline's frame queue from the device callback.
package capture
