package audio

import (
	"fmt"
	"time"
)

// FrameAssembler slices capture blocks of arbitrary length into fixed-size frames
// and pushes them to a queue. It is owned by a single producer and is not safe
// for concurrent use.
type FrameAssembler struct {
	frameSize int
	queue     *FrameQueue
	pending   []float32
	sequence  uint64
	now       func() time.Time
}

// NewFrameAssembler creates an assembler emitting frames of frameSize samples.
func NewFrameAssembler(frameSize int, queue *FrameQueue) (*FrameAssembler, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", frameSize)
	}
	if queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	return &FrameAssembler{
		frameSize: frameSize,
		queue:     queue,
		pending:   make([]float32, 0, frameSize*2),
		now:       time.Now,
	}, nil
}

// Write appends samples and pushes every complete frame.
// It returns the number of frames accepted by the queue.
func (a *FrameAssembler) Write(samples []float32) int {
	a.pending = append(a.pending, samples...)

	accepted := 0
	for len(a.pending) >= a.frameSize {
		frame := make([]float32, a.frameSize)
		copy(frame, a.pending[:a.frameSize])
		a.pending = append(a.pending[:0], a.pending[a.frameSize:]...)

		a.sequence++
		if a.queue.Push(Frame{Samples: frame, Sequence: a.sequence, Captured: a.now()}) {
			accepted++
		}
	}
	return accepted
}

// WriteFloat32LE decodes little-endian float32 PCM and writes it.
func (a *FrameAssembler) WriteFloat32LE(data []byte) (int, error) {
	samples, err := DecodeFloat32LE(data)
	if err != nil {
		return 0, err
	}
	return a.Write(samples), nil
}

// Pending returns the number of buffered samples not yet forming a full frame.
func (a *FrameAssembler) Pending() int {
	return len(a.pending)
}

// FrameSize returns the configured frame length.
func (a *FrameAssembler) FrameSize() int {
	return a.frameSize
}
