package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Frame is a fixed-length block of mono float32 samples produced by one capture tick.
// A frame is handed to the queue once and consumed exactly once.
type Frame struct {
	Samples  []float32
	Sequence uint64
	Captured time.Time
}

// Len returns the number of samples in the frame.
func (f Frame) Len() int {
	return len(f.Samples)
}

// MeanAbsAmplitude returns the average absolute sample value, the level reported to telemetry.
func MeanAbsAmplitude(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(samples))
}

// DecodeFloat32LE converts little-endian IEEE-754 float32 PCM bytes to samples.
func DecodeFloat32LE(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("float32 PCM length must be a multiple of 4 (got %d bytes)", len(data))
	}
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples, nil
}

// DecodeInt16LE converts little-endian signed 16-bit PCM bytes to samples in [-1, 1).
func DecodeInt16LE(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("int16 PCM length must be even (got %d bytes)", len(data))
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples, nil
}
