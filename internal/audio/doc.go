// Package audio holds the sample-level building blocks of the segmentation pipeline.
// It provides fixed-size capture frames, the bounded drop-on-full frame queue that
// decouples the capture callback from the pipeline, the frame assembler that slices
// arbitrary callback blocks into frames, the capped utterance buffer, and WAV
// encoding/decoding for recordings and recognizer uploads.
package audio
