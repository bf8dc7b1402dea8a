package pipeline

import (
	"errors"
	"time"

	"github.com/Ireoo/autotalk/internal/segment"
)

// Kind distinguishes interim hypotheses from closed utterances.
type Kind string

const (
	KindPartial Kind = "partial"
	KindFinal   Kind = "final"
)

// Utterance is one recognized-text event.
type Utterance struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Text      string         `json:"text"`
	Reason    segment.Reason `json:"reason,omitempty"`
	Samples   int            `json:"samples"`
	Duration  time.Duration  `json:"duration"`
	EmittedAt time.Time      `json:"emitted_at"`
	Recording string         `json:"recording,omitempty"`
}

// Sink receives utterance events. Emit is called from the scheduler worker
// and should return quickly; errors are logged by the caller.
type Sink interface {
	Emit(u Utterance) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(u Utterance) error

// Emit calls f(u).
func (f SinkFunc) Emit(u Utterance) error {
	return f(u)
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

// Emit delivers u to every sink, even after a failure, and joins the errors.
func (m MultiSink) Emit(u Utterance) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type discardSink struct{}

func (discardSink) Emit(Utterance) error { return nil }
