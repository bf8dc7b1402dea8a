package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ireoo/autotalk/internal/metrics"
)

// Config contains monitor configuration
type Config struct {
	Interval    time.Duration
	HistorySize int
	BufferSize  int
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		HistorySize: 120,
		BufferSize:  256,
	}
}

// LevelSample is one recorded audio level.
type LevelSample struct {
	Level float64   `json:"level"`
	At    time.Time `json:"at"`
}

// MonitorStats represents monitor statistics
type MonitorStats struct {
	Reported    uint64    `json:"reported"`
	Dropped     uint64    `json:"dropped"`
	LastLevel   float64   `json:"last_level"`
	PeakLevel   float64   `json:"peak_level"`
	Goroutines  int       `json:"goroutines"`
	HeapAllocMB float64   `json:"heap_alloc_mb"`
	LastReport  time.Time `json:"last_report"`
}

// Monitor collects audio levels on a channel and keeps a bounded history.
type Monitor struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	levels  chan LevelSample

	mu      sync.RWMutex
	history []LevelSample
	next    int
	full    bool
	last    LevelSample
	peak    float64

	reported atomic.Uint64
	dropped  atomic.Uint64
}

// NewMonitor creates a monitor. m may be nil.
func NewMonitor(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return &Monitor{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		levels:  make(chan LevelSample, cfg.BufferSize),
		history: make([]LevelSample, cfg.HistorySize),
	}
}

// ReportAudioLevel hands a level to the monitor without blocking.
func (m *Monitor) ReportAudioLevel(level float64) {
	select {
	case m.levels <- LevelSample{Level: level, At: time.Now()}:
		m.reported.Add(1)
	default:
		m.dropped.Add(1)
	}
}

// Run consumes reports until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-m.levels:
			m.record(s)
		case <-ticker.C:
			m.logHealth()
		}
	}
}

// Drain records every pending report without blocking.
func (m *Monitor) Drain() int {
	n := 0
	for {
		select {
		case s := <-m.levels:
			m.record(s)
			n++
		default:
			return n
		}
	}
}

func (m *Monitor) record(s LevelSample) {
	m.mu.Lock()
	m.history[m.next] = s
	m.next = (m.next + 1) % len(m.history)
	if m.next == 0 {
		m.full = true
	}
	m.last = s
	if s.Level > m.peak {
		m.peak = s.Level
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetAudioLevel(s.Level)
	}
}

func (m *Monitor) logHealth() {
	stats := m.GetStats()
	m.mu.Lock()
	m.peak = 0
	m.mu.Unlock()

	if m.logger == nil {
		return
	}
	m.logger.Info("Audio monitor",
		slog.Float64("level", stats.LastLevel),
		slog.Float64("peak_level", stats.PeakLevel),
		slog.Uint64("dropped_reports", stats.Dropped),
		slog.Int("goroutines", stats.Goroutines),
		slog.Float64("heap_alloc_mb", stats.HeapAllocMB),
	)
}

// History returns recorded samples, oldest first.
func (m *Monitor) History() []LevelSample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.full {
		out := make([]LevelSample, m.next)
		copy(out, m.history[:m.next])
		return out
	}
	out := make([]LevelSample, 0, len(m.history))
	out = append(out, m.history[m.next:]...)
	out = append(out, m.history[:m.next]...)
	return out
}

// GetStats returns current monitor statistics
func (m *Monitor) GetStats() MonitorStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	defer m.mu.RUnlock()

	return MonitorStats{
		Reported:    m.reported.Load(),
		Dropped:     m.dropped.Load(),
		LastLevel:   m.last.Level,
		PeakLevel:   m.peak,
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(mem.HeapAlloc) / (1024 * 1024),
		LastReport:  m.last.At,
	}
}
