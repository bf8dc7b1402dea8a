package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ireoo/autotalk/internal/audio"
	"github.com/Ireoo/autotalk/internal/recognizer"
	"github.com/Ireoo/autotalk/internal/segment"
)

const tracerName = "github.com/Ireoo/autotalk/internal/pipeline"

// State is the scheduler state.
type State int32

const (
	StateIdle State = iota
	StateTranscribing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTranscribing:
		return "transcribing"
	default:
		return "unknown"
	}
}

// TickResult describes what one scheduler tick did.
// Recognized is set when the recognizer was called; Skipped when the tick
// exited early because of shutdown.
type TickResult struct {
	Recognized     bool
	Skipped        bool
	Text           string
	Decision       segment.Decision
	Utterance      *Utterance
	Err            error
	SoftCapTrimmed int
}

// SchedulerStats represents recognition scheduler statistics
type SchedulerStats struct {
	State               string        `json:"state"`
	Ticks               uint64        `json:"ticks"`
	Recognitions        uint64        `json:"recognitions"`
	Failures            uint64        `json:"failures"`
	Partials            uint64        `json:"partials"`
	Finals              uint64        `json:"finals"`
	RepeatClosures      uint64        `json:"repeat_closures"`
	PunctuationClosures uint64        `json:"punctuation_closures"`
	SoftCapTrims        uint64        `json:"soft_cap_trims"`
	LastText            string        `json:"last_text,omitempty"`
	LastLatency         time.Duration `json:"last_latency"`
	LastFinal           time.Time     `json:"last_final"`
}

// Scheduler polls the utterance buffer and drives recognition.
type Scheduler struct {
	p      *Context
	tracer trace.Tracer

	minSamples     int
	softCapSamples int

	state atomic.Int32

	mu    sync.Mutex
	stats SchedulerStats
}

func newScheduler(p *Context) *Scheduler {
	return &Scheduler{
		p:              p,
		tracer:         otel.Tracer(tracerName),
		minSamples:     p.cfg.samples(p.cfg.MinAudio),
		softCapSamples: p.cfg.samples(p.cfg.SoftCap),
	}
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run ticks every poll interval until ctx is cancelled or the pipeline stops.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !s.p.running.Load() {
				return nil
			}
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling step: recognize the buffered audio if there is
// enough of it, apply the boundary policy and enforce the soft cap.
//
// A recognizer error leaves the buffer untouched except for the soft cap,
// which is applied on every tick that is not skipped, failed ones included.
func (s *Scheduler) Tick(ctx context.Context) (res TickResult) {
	p := s.p

	s.mu.Lock()
	s.stats.Ticks++
	s.mu.Unlock()

	if s.stopping(ctx) {
		res.Skipped = true
		return res
	}
	defer func() {
		res.SoftCapTrimmed = s.enforceSoftCap()
	}()

	if p.buffer.Len() < s.minSamples {
		return res
	}

	snap := p.buffer.Snapshot()
	if s.stopping(ctx) {
		res.Skipped = true
		return res
	}

	s.state.Store(int32(StateTranscribing))
	result, latency, err := s.recognize(ctx, snap)
	s.state.Store(int32(StateIdle))
	res.Recognized = true

	if err != nil {
		res.Err = err
		s.mu.Lock()
		s.stats.Failures++
		s.mu.Unlock()
		p.logger.Error("Recognition failed",
			slog.Int("samples", len(snap.Samples)),
			slog.Duration("latency", latency),
			slog.String("error", err.Error()),
		)
		return res
	}

	text := strings.TrimSpace(result.Text())
	res.Text = text
	count := p.repeat.Observe(text)
	res.Decision = p.policy.Decide(text, count)

	s.mu.Lock()
	s.stats.LastText = text
	s.stats.LastLatency = latency
	s.mu.Unlock()

	p.logger.Debug("Recognition result",
		slog.String("text", text),
		slog.Int("repeat_count", count),
		slog.Bool("close", res.Decision.Close),
		slog.Duration("latency", latency),
	)

	switch {
	case res.Decision.Close:
		u := s.finalize(snap, text, res.Decision.Reason)
		res.Utterance = &u
	case text != "":
		u := Utterance{
			ID:        uuid.NewString(),
			Kind:      KindPartial,
			Text:      text,
			Samples:   len(snap.Samples),
			Duration:  snap.Duration(p.cfg.SampleRate),
			EmittedAt: time.Now(),
		}
		s.mu.Lock()
		s.stats.Partials++
		s.mu.Unlock()
		p.metrics.RecordPartial()
		s.emit(u)
		res.Utterance = &u
	}
	return res
}

// finalize closes the utterance covered by snap.
func (s *Scheduler) finalize(snap audio.Snapshot, text string, reason segment.Reason) Utterance {
	p := s.p

	removed := p.buffer.ClearThrough(snap.End)
	p.repeat.Reset()
	p.metrics.SetBufferSamples(p.buffer.Len())
	p.metrics.RecordUtterance(string(reason))

	u := Utterance{
		ID:        uuid.NewString(),
		Kind:      KindFinal,
		Text:      text,
		Reason:    reason,
		Samples:   len(snap.Samples),
		Duration:  snap.Duration(p.cfg.SampleRate),
		EmittedAt: time.Now(),
	}

	if p.recorder != nil {
		if path, err := p.recorder.Save(u, snap.Samples); err == nil {
			u.Recording = path
		}
	}

	s.mu.Lock()
	s.stats.Finals++
	switch reason {
	case segment.ReasonRepeat:
		s.stats.RepeatClosures++
	case segment.ReasonPunctuation:
		s.stats.PunctuationClosures++
	}
	s.stats.LastFinal = u.EmittedAt
	s.mu.Unlock()

	p.logger.Info("Utterance closed",
		slog.String("utterance_id", u.ID),
		slog.String("reason", string(reason)),
		slog.String("text", text),
		slog.Duration("duration", u.Duration),
		slog.Int("cleared_samples", removed),
		slog.Int("remaining_samples", p.buffer.Len()),
	)

	s.emit(u)
	return u
}

// recognize calls the recognizer on snap. The call is detached from ctx
// cancellation so that shutdown waits for it instead of interrupting it.
func (s *Scheduler) recognize(ctx context.Context, snap audio.Snapshot) (recognizer.Result, time.Duration, error) {
	p := s.p

	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "autotalk.recognize",
		trace.WithAttributes(
			attribute.Int("audio.samples", len(snap.Samples)),
			attribute.Float64("audio.seconds", snap.Duration(p.cfg.SampleRate).Seconds()),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := p.recognizer.Transcribe(ctx, snap.Samples)
	latency := time.Since(start)

	p.metrics.RecordRecognition(latency.Seconds(), snap.Duration(p.cfg.SampleRate).Seconds(), err != nil)
	s.mu.Lock()
	s.stats.Recognitions++
	s.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return recognizer.Result{}, latency, err
	}
	span.SetAttributes(attribute.Int("result.segments", len(result.Segments)))
	span.SetStatus(codes.Ok, "")
	return result, latency, nil
}

func (s *Scheduler) emit(u Utterance) {
	if err := s.p.sink.Emit(u); err != nil {
		s.p.logger.Warn("Failed to deliver utterance",
			slog.String("utterance_id", u.ID),
			slog.String("kind", string(u.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) enforceSoftCap() int {
	trimmed := s.p.buffer.EnforceSoftCap(s.softCapSamples)
	if trimmed > 0 {
		s.mu.Lock()
		s.stats.SoftCapTrims++
		s.mu.Unlock()
		s.p.metrics.RecordEviction(trimmed)
		s.p.metrics.SetBufferSamples(s.p.buffer.Len())
		s.p.logger.Debug("Utterance buffer over soft cap, trimmed oldest samples",
			slog.Int("trimmed", trimmed),
		)
	}
	return trimmed
}

// stopping reports whether the tick should exit before doing more work.
// A scheduler driven directly by Tick, without Run, is stopped by its
// context or by Stop.
func (s *Scheduler) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	p := s.p
	p.mu.Lock()
	started := p.cancel != nil || p.stopped
	p.mu.Unlock()
	return started && !p.running.Load()
}

// GetStats returns current scheduler statistics
func (s *Scheduler) GetStats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.State = s.State().String()
	return stats
}
