package audio

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrInvalidFrame is returned when a frame does not have the configured size.
var ErrInvalidFrame = errors.New("audio: invalid frame")

// dropWarnInterval bounds how often a full queue is reported in the log.
const dropWarnInterval = 5 * time.Second

// FrameQueue is a fixed-capacity single-producer/single-consumer queue of frames.
// Push never blocks: when the queue is full the newest frame is dropped and counted.
type FrameQueue struct {
	frames chan Frame
	logger *slog.Logger
	warn   *rate.Limiter

	pushed  atomic.Uint64
	popped  atomic.Uint64
	dropped atomic.Uint64
}

// QueueStats represents frame queue statistics for monitoring
type QueueStats struct {
	Capacity int    `json:"capacity"`
	Depth    int    `json:"depth"`
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
}

// NewFrameQueue creates a queue holding at most capacity frames.
func NewFrameQueue(capacity int, logger *slog.Logger) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{
		frames: make(chan Frame, capacity),
		logger: logger,
		warn:   rate.NewLimiter(rate.Every(dropWarnInterval), 1),
	}
}

// Push enqueues a frame without blocking and reports whether it was accepted.
func (q *FrameQueue) Push(f Frame) bool {
	select {
	case q.frames <- f:
		q.pushed.Add(1)
		return true
	default:
		dropped := q.dropped.Add(1)
		if q.logger != nil && q.warn.Allow() {
			q.logger.Warn("Frame queue full, dropping newest frame",
				slog.Int("capacity", cap(q.frames)),
				slog.Uint64("dropped_total", dropped),
			)
		}
		return false
	}
}

// Pop returns the oldest frame, or false when the queue is empty.
func (q *FrameQueue) Pop() (Frame, bool) {
	select {
	case f := <-q.frames:
		q.popped.Add(1)
		return f, true
	default:
		return Frame{}, false
	}
}

// C exposes the receive side for consumers that select on it.
// Frames received through C must be acknowledged with MarkPopped.
func (q *FrameQueue) C() <-chan Frame {
	return q.frames
}

// MarkPopped records a frame taken directly from C.
func (q *FrameQueue) MarkPopped() {
	q.popped.Add(1)
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	return len(q.frames)
}

// Cap returns the fixed capacity.
func (q *FrameQueue) Cap() int {
	return cap(q.frames)
}

// Dropped returns the number of frames rejected because the queue was full.
func (q *FrameQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// GetStats returns current queue statistics
func (q *FrameQueue) GetStats() QueueStats {
	return QueueStats{
		Capacity: cap(q.frames),
		Depth:    len(q.frames),
		Pushed:   q.pushed.Load(),
		Popped:   q.popped.Load(),
		Dropped:  q.dropped.Load(),
	}
}
