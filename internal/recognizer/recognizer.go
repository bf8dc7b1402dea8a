package recognizer

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"
)

// ErrClosed is returned by recognizers used after Close.
var ErrClosed = errors.New("recognizer: closed")

// Segment is one piece of recognized text.
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Result is the output of one recognizer invocation.
type Result struct {
	Segments []Segment `json:"segments"`
}

// Text concatenates the segment texts in order.
func (r Result) Text() string {
	if len(r.Segments) == 1 {
		return r.Segments[0].Text
	}
	var b strings.Builder
	for _, s := range r.Segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

// Recognizer is a blocking speech-to-text engine.
// Transcribe is called from a single goroutine; implementations need not be reentrant.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32) (Result, error)
	Close() error
}

// Params are the decoding parameters, fixed for the lifetime of a recognizer.
type Params struct {
	SampleRate          int
	Language            string
	Threads             int
	AudioCtx            int
	MaxTokens           int
	TokenThreshold      float32
	Temperature         float32
	TemperatureFallback float32
	EntropyThreshold    float32
}

// DefaultParams returns the decoding parameters tuned for continuous Mandarin dictation.
func DefaultParams() Params {
	return Params{
		SampleRate:          16000,
		Language:            "zh",
		Threads:             runtime.NumCPU(),
		AudioCtx:            768,
		MaxTokens:           64,
		TokenThreshold:      0.01,
		Temperature:         0,
		TemperatureFallback: 0,
		EntropyThreshold:    2.6,
	}
}
