package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Ireoo/autotalk/internal/audio"
	"github.com/Ireoo/autotalk/internal/metrics"
	"github.com/Ireoo/autotalk/internal/recognizer"
	"github.com/Ireoo/autotalk/internal/segment"
	"github.com/Ireoo/autotalk/internal/vad"
)

// ErrAlreadyRunning is returned by Run when the pipeline is already running.
var ErrAlreadyRunning = errors.New("pipeline: already running")

// ErrStopped is returned by Run after Stop has been called.
var ErrStopped = errors.New("pipeline: stopped")

// Config contains pipeline configuration
type Config struct {
	SampleRate          int
	FrameSize           int
	QueueSize           int
	MaxBuffer           time.Duration
	SoftCap             time.Duration
	MinAudio            time.Duration
	PollInterval        time.Duration
	RepeatThreshold     int
	TerminalPunctuation string
	Gate                vad.GateConfig
}

// DefaultConfig returns the microphone pipeline defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:          16000,
		FrameSize:           512,
		QueueSize:           1024,
		MaxBuffer:           30 * time.Second,
		SoftCap:             20 * time.Second,
		MinAudio:            time.Second,
		PollInterval:        100 * time.Millisecond,
		RepeatThreshold:     segment.DefaultRepeatThreshold,
		TerminalPunctuation: segment.DefaultTerminalPunctuation,
		Gate:                vad.DefaultGateConfig(),
	}
}

// Validate validates pipeline configuration
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", c.FrameSize)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	}
	if c.MaxBuffer <= 0 {
		return fmt.Errorf("max buffer must be positive, got %v", c.MaxBuffer)
	}
	if c.SoftCap <= 0 || c.SoftCap > c.MaxBuffer {
		return fmt.Errorf("soft cap must be in (0, %v], got %v", c.MaxBuffer, c.SoftCap)
	}
	if c.MinAudio <= 0 || c.MinAudio > c.SoftCap {
		return fmt.Errorf("min audio must be in (0, %v], got %v", c.SoftCap, c.MinAudio)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	if err := c.Gate.Validate(); err != nil {
		return fmt.Errorf("gate: %w", err)
	}
	return nil
}

func (c Config) samples(d time.Duration) int {
	return int(int64(d) * int64(c.SampleRate) / int64(time.Second))
}

// LevelReporter receives fire-and-forget audio levels. It must not block.
type LevelReporter interface {
	ReportAudioLevel(level float64)
}

// Deps are the collaborators injected into a pipeline.
// Only Recognizer is required.
type Deps struct {
	Recognizer recognizer.Recognizer
	Sink       Sink
	Recorder   *Recorder
	Levels     LevelReporter
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Context owns all mutable state of one pipeline instance.
type Context struct {
	cfg Config

	queue  *audio.FrameQueue
	buffer *audio.UtteranceBuffer
	gate   *vad.Gate
	repeat *segment.RepeatDetector
	policy *segment.Policy

	recognizer recognizer.Recognizer
	sink       Sink
	recorder   *Recorder
	levels     LevelReporter
	metrics    *metrics.Metrics
	logger     *slog.Logger

	scheduler *Scheduler

	running atomic.Bool

	framesProcessed atomic.Uint64
	framesGated     atomic.Uint64
	lastDropped     uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// PipelineContext is the name used for the per-process pipeline state.
type PipelineContext = Context

// New creates a pipeline. It does not start any goroutine.
func New(cfg Config, deps Deps) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if deps.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sink == nil {
		deps.Sink = discardSink{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}

	buffer, err := audio.NewUtteranceBuffer(cfg.samples(cfg.MaxBuffer), cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create utterance buffer: %w", err)
	}
	gate, err := vad.NewGate(cfg.Gate)
	if err != nil {
		return nil, fmt.Errorf("failed to create noise gate: %w", err)
	}
	policy, err := segment.NewPolicy(cfg.RepeatThreshold, cfg.TerminalPunctuation)
	if err != nil {
		return nil, fmt.Errorf("failed to create boundary policy: %w", err)
	}

	p := &Context{
		cfg:        cfg,
		queue:      audio.NewFrameQueue(cfg.QueueSize, deps.Logger),
		buffer:     buffer,
		gate:       gate,
		repeat:     segment.NewRepeatDetector(),
		policy:     policy,
		recognizer: deps.Recognizer,
		sink:       deps.Sink,
		recorder:   deps.Recorder,
		levels:     deps.Levels,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
	p.scheduler = newScheduler(p)
	return p, nil
}

// Queue returns the frame queue that capture sources push into.
func (p *Context) Queue() *audio.FrameQueue { return p.queue }

// Buffer returns the utterance buffer.
func (p *Context) Buffer() *audio.UtteranceBuffer { return p.buffer }

// Gate returns the noise gate.
func (p *Context) Gate() *vad.Gate { return p.gate }

// Scheduler returns the recognition scheduler.
func (p *Context) Scheduler() *Scheduler { return p.scheduler }

// Config returns the pipeline configuration.
func (p *Context) Config() Config { return p.cfg }

// NewAssembler returns a frame assembler feeding this pipeline's queue.
// Each capture source should use its own assembler.
func (p *Context) NewAssembler() (*audio.FrameAssembler, error) {
	return audio.NewFrameAssembler(p.cfg.FrameSize, p.queue)
}

// Running reports whether the workers are running.
func (p *Context) Running() bool {
	return p.running.Load()
}

// Run starts the drain and scheduler workers and blocks until ctx is
// cancelled or Stop is called.
func (p *Context) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		cancel()
		p.running.Store(false)
		return ErrStopped
	}
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	defer close(done)
	defer cancel()
	defer p.running.Store(false)

	p.logger.Info("Pipeline started",
		slog.Int("sample_rate", p.cfg.SampleRate),
		slog.Int("frame_size", p.cfg.FrameSize),
		slog.Int("queue_size", p.cfg.QueueSize),
		slog.Duration("max_buffer", p.cfg.MaxBuffer),
		slog.Duration("soft_cap", p.cfg.SoftCap),
		slog.Duration("poll_interval", p.cfg.PollInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.drainLoop(gctx) })
	g.Go(func() error { return p.scheduler.Run(gctx) })
	err := g.Wait()

	p.logger.Info("Pipeline stopped",
		slog.Uint64("frames_processed", p.framesProcessed.Load()),
		slog.Uint64("frames_dropped", p.queue.Dropped()),
		slog.Int("buffered_samples", p.buffer.Len()),
	)
	return err
}

// Stop clears the running flag, cancels the workers and waits for them.
// An in-flight recognizer call is allowed to finish. Stop is final: a Run
// that has not yet started its workers returns ErrStopped.
func (p *Context) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	p.running.Store(false)
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// drainLoop moves frames from the queue through the gate into the buffer.
func (p *Context) drainLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if !p.running.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case f := <-p.queue.C():
			p.queue.MarkPopped()
			p.ProcessFrame(f)
		case <-ticker.C:
			p.updateQueueMetrics()
		}
	}
}

// DrainPending processes every frame currently queued without blocking and
// returns how many were processed.
func (p *Context) DrainPending() int {
	n := 0
	for {
		f, ok := p.queue.Pop()
		if !ok {
			p.updateQueueMetrics()
			return n
		}
		p.ProcessFrame(f)
		n++
	}
}

// ProcessFrame runs one frame through the gate and, if it carries signal,
// appends it to the utterance buffer.
func (p *Context) ProcessFrame(f audio.Frame) {
	p.framesProcessed.Add(1)

	level := audio.MeanAbsAmplitude(f.Samples)
	d := p.gate.Process(f.Samples)
	p.metrics.RecordFrame(d.Signal, level, d.Baseline)
	if p.levels != nil {
		p.levels.ReportAudioLevel(level)
	}

	if !d.Signal {
		p.framesGated.Add(1)
		return
	}

	if evicted := p.buffer.Append(f.Samples); evicted > 0 {
		p.metrics.RecordEviction(evicted)
		p.logger.Debug("Utterance buffer at hard cap, evicted oldest samples",
			slog.Int("evicted", evicted),
			slog.Uint64("sequence", f.Sequence),
		)
	}
	p.metrics.SetBufferSamples(p.buffer.Len())
}

func (p *Context) updateQueueMetrics() {
	p.mu.Lock()
	defer p.mu.Unlock()

	dropped := p.queue.Dropped()
	p.metrics.SetQueueState(p.queue.Len(), dropped, p.lastDropped)
	p.lastDropped = dropped
}

// Stats represents pipeline statistics
type Stats struct {
	Running         bool              `json:"running"`
	FramesProcessed uint64            `json:"frames_processed"`
	FramesGated     uint64            `json:"frames_gated"`
	Queue           audio.QueueStats  `json:"queue"`
	Gate            vad.GateStats     `json:"gate"`
	Buffer          audio.BufferStats `json:"buffer"`
	Scheduler       SchedulerStats    `json:"scheduler"`
	RepeatCount     int               `json:"repeat_count"`
	RepeatText      string            `json:"repeat_text,omitempty"`
}

// GetStats returns current pipeline statistics
func (p *Context) GetStats() Stats {
	return Stats{
		Running:         p.running.Load(),
		FramesProcessed: p.framesProcessed.Load(),
		FramesGated:     p.framesGated.Load(),
		Queue:           p.queue.GetStats(),
		Gate:            p.gate.GetStats(),
		Buffer:          p.buffer.GetStats(),
		Scheduler:       p.scheduler.GetStats(),
		RepeatCount:     p.repeat.Count(),
		RepeatText:      p.repeat.Last(),
	}
}
