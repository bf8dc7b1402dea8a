package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/youpy/go-wav"
)

const wavBitsPerSample = 16

// WAVInfo contains the format fields of a decoded WAV stream.
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Samples       int     `json:"samples"`
	Duration      float64 `json:"duration_seconds"`
}

// EncodeWAV converts float samples to a mono 16-bit PCM WAV file in memory.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	var buf bytes.Buffer
	if err := writeWAV(&buf, samples, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveWAV writes samples to path as a mono 16-bit PCM WAV file, creating parent directories.
func SaveWAV(path string, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := writeWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// LoadWAV reads a mono or stereo WAV file, averaging stereo to mono.
func LoadWAV(path string) ([]float32, WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WAVInfo{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return decodeWAV(f)
}

// DecodeWAV parses an in-memory WAV file.
func DecodeWAV(data []byte) ([]float32, WAVInfo, error) {
	return decodeWAV(bytes.NewReader(data))
}

func writeWAV(w io.Writer, samples []float32, sampleRate int) error {
	wavSamples := make([]wav.Sample, len(samples))
	for i, v := range samples {
		if v < -1 {
			v = -1
		}
		if v > 1 {
			v = 1
		}
		wavSamples[i] = wav.Sample{Values: [2]int{int(v * 32767), 0}}
	}

	writer := wav.NewWriter(w, uint32(len(wavSamples)), 1, uint32(sampleRate), wavBitsPerSample)
	return writer.WriteSamples(wavSamples)
}

type wavSource interface {
	io.Reader
	io.ReaderAt
}

func decodeWAV(r wavSource) ([]float32, WAVInfo, error) {
	reader := wav.NewReader(r)
	format, err := reader.Format()
	if err != nil {
		return nil, WAVInfo{}, fmt.Errorf("invalid WAV format: %w", err)
	}

	channels := int(format.NumChannels)
	if channels < 1 || channels > 2 {
		return nil, WAVInfo{}, fmt.Errorf("only mono or stereo WAV is supported, got %d channels", channels)
	}

	var out []float32
	for {
		block, err := reader.ReadSamples()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, WAVInfo{}, fmt.Errorf("failed to read WAV samples: %w", err)
		}
		for _, s := range block {
			v := reader.FloatValue(s, 0)
			if channels == 2 {
				v = (v + reader.FloatValue(s, 1)) / 2
			}
			out = append(out, float32(v))
		}
	}

	info := WAVInfo{
		SampleRate:    format.SampleRate,
		Channels:      format.NumChannels,
		BitsPerSample: format.BitsPerSample,
		Samples:       len(out),
	}
	if format.SampleRate > 0 {
		info.Duration = float64(len(out)) / float64(format.SampleRate)
	}
	return out, info, nil
}
