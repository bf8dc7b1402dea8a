// Package segment decides when an utterance is complete.
// It holds the repeat detector, which spots a recognizer stuck on one hypothesis,
// and the boundary policy, which closes an utterance on repeats or on terminal punctuation.
package segment
