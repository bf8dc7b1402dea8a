// Package recognizertest provides a deterministic recognizer for pipeline tests.
package recognizertest

import (
	"context"
	"sync"
	"time"

	"github.com/Ireoo/autotalk/internal/recognizer"
)

// Step is one scripted recognizer response.
type Step struct {
	Text  string
	Err   error
	Delay time.Duration
}

// Scripted replays its steps in order, one per Transcribe call.
// Once exhausted it keeps returning the final step, or an empty result when there are no steps.
type Scripted struct {
	mu      sync.Mutex
	steps   []Step
	next    int
	lengths []int
	closed  bool
}

var _ recognizer.Recognizer = (*Scripted)(nil)

// New creates a scripted recognizer.
func New(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Texts creates a scripted recognizer that returns each text in turn.
func Texts(texts ...string) *Scripted {
	steps := make([]Step, len(texts))
	for i, t := range texts {
		steps[i] = Step{Text: t}
	}
	return New(steps...)
}

// Transcribe returns the next scripted step.
func (s *Scripted) Transcribe(ctx context.Context, samples []float32) (recognizer.Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return recognizer.Result{}, recognizer.ErrClosed
	}
	s.lengths = append(s.lengths, len(samples))
	var step Step
	if len(s.steps) > 0 {
		idx := s.next
		if idx >= len(s.steps) {
			idx = len(s.steps) - 1
		} else {
			s.next++
		}
		step = s.steps[idx]
	}
	s.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return recognizer.Result{}, ctx.Err()
		}
	}

	if step.Err != nil {
		return recognizer.Result{}, step.Err
	}
	if step.Text == "" {
		return recognizer.Result{}, nil
	}
	return recognizer.Result{Segments: []recognizer.Segment{{Text: step.Text}}}, nil
}

// Close marks the recognizer closed.
func (s *Scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Calls returns the number of Transcribe invocations.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lengths)
}

// SampleCounts returns the snapshot length passed to each call.
func (s *Scripted) SampleCounts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.lengths))
	copy(out, s.lengths)
	return out
}
