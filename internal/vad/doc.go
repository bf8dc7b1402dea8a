// Package vad provides the adaptive noise gate that decides which frames are worth keeping.
// The gate compares each frame's mean squared energy with a slowly adapting baseline;
// it is a cheap heuristic filter, not a speech classifier.
package vad
