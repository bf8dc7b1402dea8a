package vad

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultAlpha is the baseline adaptation rate per frame.
	DefaultAlpha = 1e-6
	// DefaultMultiplier scales the baseline into the gate threshold.
	DefaultMultiplier = 1.5
	// SilenceEnergy is the energy at or below which a frame counts as digital
	// silence. Such frames never seed the baseline.
	SilenceEnergy = 1e-10
)

// GateConfig contains noise gate parameters
type GateConfig struct {
	Enabled    bool
	Alpha      float64
	Multiplier float64
}

// DefaultGateConfig returns the gate configuration used by the microphone pipeline.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Enabled:    true,
		Alpha:      DefaultAlpha,
		Multiplier: DefaultMultiplier,
	}
}

// Validate validates gate configuration
func (c GateConfig) Validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha must be in (0, 1], got %g", c.Alpha)
	}
	if c.Multiplier <= 0 {
		return fmt.Errorf("multiplier must be positive, got %g", c.Multiplier)
	}
	return nil
}

// Decision is the gate verdict for one frame.
type Decision struct {
	Energy    float64 `json:"energy"`
	Baseline  float64 `json:"baseline"`
	Threshold float64 `json:"threshold"`
	Signal    bool    `json:"signal"`
}

// GateStats represents noise gate statistics
type GateStats struct {
	Enabled          bool      `json:"enabled"`
	Baseline         float64   `json:"baseline"`
	Threshold        float64   `json:"threshold"`
	Multiplier       float64   `json:"multiplier"`
	TotalFrames      uint64    `json:"total_frames"`
	SignalFrames     uint64    `json:"signal_frames"`
	SignalPercentage float64   `json:"signal_percentage"`
	LastProcessed    time.Time `json:"last_processed"`
}

// Gate is an energy gate with an exponential moving average baseline.
// The baseline lives for the whole process and is seeded by the first frame
// that is not digital silence.
type Gate struct {
	enabled    bool
	alpha      float64
	multiplier float64

	baseline float64
	seeded   bool

	totalFrames   uint64
	signalFrames  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// NewGate creates a noise gate.
func NewGate(cfg GateConfig) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gate{
		enabled:    cfg.Enabled,
		alpha:      cfg.Alpha,
		multiplier: cfg.Multiplier,
	}, nil
}

// Energy returns the mean squared sample value.
func Energy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return sum / float64(len(samples))
}

// Process updates the baseline with the frame energy and reports whether the
// frame carries signal. A disabled gate passes every frame but still tracks energy.
func (g *Gate) Process(samples []float32) Decision {
	e := Energy(samples)

	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case !g.seeded && e <= SilenceEnergy:
		// Streams often open with zeroed buffers; keep waiting for real background.
	case !g.seeded:
		g.baseline = e
		g.seeded = true
	default:
		g.baseline = g.baseline*(1-g.alpha) + e*g.alpha
	}

	threshold := g.baseline * g.multiplier
	signal := (g.seeded && e > threshold) || !g.enabled

	g.totalFrames++
	if signal {
		g.signalFrames++
	}
	g.lastProcessed = time.Now()

	return Decision{
		Energy:    e,
		Baseline:  g.baseline,
		Threshold: threshold,
		Signal:    signal,
	}
}

// Baseline returns the current energy baseline.
func (g *Gate) Baseline() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.baseline
}

// Threshold returns the current gate threshold.
func (g *Gate) Threshold() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.baseline * g.multiplier
}

// UpdateMultiplier changes the threshold multiplier at runtime.
func (g *Gate) UpdateMultiplier(multiplier float64) error {
	if multiplier <= 0 {
		return fmt.Errorf("multiplier must be positive, got %g", multiplier)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.multiplier = multiplier
	return nil
}

// GetStats returns current gate statistics
func (g *Gate) GetStats() GateStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	pct := float64(0)
	if g.totalFrames > 0 {
		pct = float64(g.signalFrames) / float64(g.totalFrames) * 100
	}

	return GateStats{
		Enabled:          g.enabled,
		Baseline:         g.baseline,
		Threshold:        g.baseline * g.multiplier,
		Multiplier:       g.multiplier,
		TotalFrames:      g.totalFrames,
		SignalFrames:     g.signalFrames,
		SignalPercentage: pct,
		LastProcessed:    g.lastProcessed,
	}
}
