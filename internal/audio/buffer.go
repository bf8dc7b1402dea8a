package audio

import (
	"fmt"
	"sync"
	"time"
)

// UtteranceBuffer holds the audio of the utterance that has not been finalized yet.
// Its length never exceeds the hard cap: appends evict the oldest samples first.
// All operations are guarded by one mutex that is never held across a recognizer call.
type UtteranceBuffer struct {
	samples    []float32
	maxLen     int
	sampleRate int

	// removed counts every sample ever taken off the front, so that positions
	// handed out by Snapshot stay valid after later evictions.
	removed uint64

	appended   uint64
	evicted    uint64
	cleared    uint64
	lastUpdate time.Time

	mu sync.RWMutex
}

// Snapshot is an immutable copy of the buffer contents.
// End is the absolute position one past the last copied sample.
type Snapshot struct {
	Samples []float32
	End     uint64
}

// Duration returns the snapshot length as audio time.
func (s Snapshot) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(sampleRate)
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Samples       int       `json:"samples"`
	Seconds       float64   `json:"seconds"`
	MaxSamples    int       `json:"max_samples"`
	AppendedTotal uint64    `json:"appended_total"`
	EvictedTotal  uint64    `json:"evicted_total"`
	ClearedTotal  uint64    `json:"cleared_total"`
	LastUpdate    time.Time `json:"last_update"`
}

// NewUtteranceBuffer creates a buffer capped at maxLen samples.
func NewUtteranceBuffer(maxLen, sampleRate int) (*UtteranceBuffer, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("max length must be positive, got %d", maxLen)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	return &UtteranceBuffer{
		samples:    make([]float32, 0, min(maxLen, sampleRate*2)),
		maxLen:     maxLen,
		sampleRate: sampleRate,
		lastUpdate: time.Now(),
	}, nil
}

// Append adds samples at the end, evicting the oldest samples beyond the hard cap.
// It returns the number of evicted samples.
func (b *UtteranceBuffer) Append(samples []float32) int {
	if len(samples) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.appended += uint64(len(samples))
	b.lastUpdate = time.Now()

	evicted := 0
	if len(samples) >= b.maxLen {
		// The new block alone fills the window.
		evicted = len(b.samples) + len(samples) - b.maxLen
		b.samples = append(b.samples[:0], samples[len(samples)-b.maxLen:]...)
	} else {
		if overflow := len(b.samples) + len(samples) - b.maxLen; overflow > 0 {
			b.dropFrontLocked(overflow)
			evicted = overflow
		}
		b.samples = append(b.samples, samples...)
	}

	if evicted > 0 {
		b.removed += uint64(evicted)
		b.evicted += uint64(evicted)
	}
	b.checkCapLocked()
	return evicted
}

// TrimFront removes up to n samples from the front and returns how many were removed.
func (b *UtteranceBuffer) TrimFront(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trimFrontLocked(n)
}

// EnforceSoftCap keeps only the most recent limit samples.
// It returns the number of samples removed.
func (b *UtteranceBuffer) EnforceSoftCap(limit int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit < 0 || len(b.samples) <= limit {
		return 0
	}
	return b.trimFrontLocked(len(b.samples) - limit)
}

// Clear empties the buffer.
func (b *UtteranceBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removed += uint64(len(b.samples))
	b.samples = b.samples[:0]
	b.cleared++
}

// ClearThrough removes every sample before the absolute position end, as returned
// by Snapshot. Samples appended after the snapshot are kept.
func (b *UtteranceBuffer) ClearThrough(end uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if end <= b.removed {
		b.cleared++
		return 0
	}
	n := int(end - b.removed)
	removed := b.trimFrontLocked(n)
	b.cleared++
	return removed
}

// Snapshot returns a copy of the current samples.
func (b *UtteranceBuffer) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return Snapshot{Samples: out, End: b.removed + uint64(len(b.samples))}
}

// Len returns the current number of samples.
func (b *UtteranceBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// MaxLen returns the hard cap in samples.
func (b *UtteranceBuffer) MaxLen() int {
	return b.maxLen
}

// SampleRate returns the sample rate used for duration reporting.
func (b *UtteranceBuffer) SampleRate() int {
	return b.sampleRate
}

// GetStats returns current buffer statistics
func (b *UtteranceBuffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		Samples:       len(b.samples),
		Seconds:       float64(len(b.samples)) / float64(b.sampleRate),
		MaxSamples:    b.maxLen,
		AppendedTotal: b.appended,
		EvictedTotal:  b.evicted,
		ClearedTotal:  b.cleared,
		LastUpdate:    b.lastUpdate,
	}
}

func (b *UtteranceBuffer) trimFrontLocked(n int) int {
	if n <= 0 {
		return 0
	}
	if n > len(b.samples) {
		n = len(b.samples)
	}
	b.dropFrontLocked(n)
	b.removed += uint64(n)
	return n
}

// dropFrontLocked shifts the retained samples to the start of the backing array
// so that eviction never grows memory.
func (b *UtteranceBuffer) dropFrontLocked(n int) {
	b.samples = append(b.samples[:0], b.samples[n:]...)
}

func (b *UtteranceBuffer) checkCapLocked() {
	if len(b.samples) > b.maxLen {
		panic(fmt.Sprintf("audio: utterance buffer holds %d samples, cap is %d", len(b.samples), b.maxLen))
	}
}
