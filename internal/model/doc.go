// Package model resolves and downloads ggml whisper model files.
package model
