// Package pipeline wires the frame queue, noise gate, utterance buffer,
// boundary policy and recognizer into a running segmentation pipeline.
//
// A Context owns every piece of mutable pipeline state. Run starts two
// workers under one errgroup:
//
//   - the drain worker pops frames, runs the noise gate, appends signal
//     frames to the utterance buffer and reports the audio level
//   - the scheduler polls the buffer, recognizes a snapshot, applies the
//     boundary policy and emits Partial or Final utterances to the sink
//
// The utterance buffer is the only state shared by both workers. Its lock is
// never held across a recognizer call; the scheduler works on a snapshot and
// on closure removes only the samples that snapshot covered.
package pipeline
