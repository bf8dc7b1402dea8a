package recognizer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("recognizer: circuit breaker is open")

// BreakerState is the operating mode of a Breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig contains circuit breaker tuning
type BreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
	HalfOpenMax  int
}

// BreakerStats represents breaker statistics
type BreakerStats struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Rejected            uint64 `json:"rejected"`
	Trips               uint64 `json:"trips"`
}

// Breaker guards a Recognizer: after MaxFailures consecutive failures it rejects
// calls with ErrCircuitOpen until ResetTimeout elapses, then lets HalfOpenMax
// probe calls through before closing again.
type Breaker struct {
	next   Recognizer
	logger *slog.Logger
	cfg    BreakerConfig
	now    func() time.Time

	mu              sync.Mutex
	state           BreakerState
	consecutiveFail int
	openedAt        time.Time
	halfOpenCalls   int
	halfOpenOK      int
	rejected        uint64
	trips           uint64
}

var _ Recognizer = (*Breaker)(nil)

// NewBreaker wraps next. Zero config fields fall back to 5 failures, 30s and 3 probes.
func NewBreaker(next Recognizer, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &Breaker{
		next:   next,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Transcribe forwards to the wrapped recognizer unless the circuit is open.
// A cancelled context is not counted as a recognizer failure.
func (b *Breaker) Transcribe(ctx context.Context, samples []float32) (Result, error) {
	probe, err := b.admit()
	if err != nil {
		return Result{}, err
	}

	res, err := b.next.Transcribe(ctx, samples)
	if err != nil && ctx.Err() != nil {
		b.mu.Lock()
		if probe {
			b.halfOpenCalls--
		}
		b.mu.Unlock()
		return res, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailureLocked(probe)
	} else {
		b.recordSuccessLocked(probe)
	}
	return res, err
}

// Close closes the wrapped recognizer.
func (b *Breaker) Close() error {
	return b.next.Close()
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// GetStats returns current breaker statistics
func (b *Breaker) GetStats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFail,
		Rejected:            b.rejected,
		Trips:               b.trips,
	}
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.rejected++
			return false, ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.halfOpenCalls = 0
		b.halfOpenOK = 0
		b.log(slog.LevelInfo, "Recognizer circuit half-open, probing")
	case BreakerHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMax {
			b.rejected++
			return false, ErrCircuitOpen
		}
	}

	if b.state == BreakerHalfOpen {
		b.halfOpenCalls++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) recordFailureLocked(probe bool) {
	if probe {
		b.tripLocked()
		b.log(slog.LevelWarn, "Recognizer circuit re-opened after failed probe")
		return
	}

	b.consecutiveFail++
	if b.state == BreakerClosed && b.consecutiveFail >= b.cfg.MaxFailures {
		b.tripLocked()
		b.log(slog.LevelWarn, "Recognizer circuit opened",
			slog.Int("consecutive_failures", b.consecutiveFail),
			slog.Duration("reset_timeout", b.cfg.ResetTimeout),
		)
	}
}

func (b *Breaker) recordSuccessLocked(probe bool) {
	if !probe {
		b.consecutiveFail = 0
		return
	}

	b.halfOpenOK++
	if b.halfOpenOK >= b.cfg.HalfOpenMax {
		b.state = BreakerClosed
		b.consecutiveFail = 0
		b.halfOpenCalls = 0
		b.halfOpenOK = 0
		b.log(slog.LevelInfo, "Recognizer circuit closed")
	}
}

func (b *Breaker) tripLocked() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.trips++
}

func (b *Breaker) log(level slog.Level, msg string, attrs ...any) {
	if b.logger != nil {
		b.logger.Log(context.Background(), level, msg, attrs...)
	}
}
