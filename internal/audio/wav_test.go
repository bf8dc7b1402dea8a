package audio

import (
	"math"
	"path/filepath"
	"testing"
)

func sine(freq float64, sampleRate, n int, amplitude float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestEncodeDecodeWAV(t *testing.T) {
	sampleRate := 16000
	samples := sine(440, sampleRate, 1600, 0.5)

	data, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// header plus 2 bytes per sample
	if len(data) < 44+len(samples)*2 {
		t.Errorf("Expected WAV size of at least %d, got %d", 44+len(samples)*2, len(data))
	}

	decoded, info, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}
	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.1s, got %.3f", info.Duration)
	}

	for i := range samples {
		if math.Abs(float64(decoded[i]-samples[i])) > 1e-3 {
			t.Fatalf("Sample %d: expected %f, got %f", i, samples[i], decoded[i])
		}
	}
}

func TestSaveWAVClipsAndCreatesDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "clip.wav")

	if err := SaveWAV(path, []float32{2, -2, 0}, 16000); err != nil {
		t.Fatalf("SaveWAV failed: %v", err)
	}

	decoded, _, err := LoadWAV(path)
	if err != nil {
		t.Fatalf("LoadWAV failed: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(decoded))
	}
	if decoded[0] < 0.99 || decoded[1] > -0.99 {
		t.Errorf("Expected clipped samples near +1 and -1, got %v", decoded)
	}
}

func TestWAVErrors(t *testing.T) {
	if _, err := EncodeWAV([]float32{0}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
	if err := SaveWAV(filepath.Join(t.TempDir(), "x.wav"), nil, -1); err == nil {
		t.Error("Expected error for negative sample rate")
	}
	if _, _, err := LoadWAV(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, _, err := DecodeWAV([]byte("not a wav file at all")); err == nil {
		t.Error("Expected error for invalid data")
	}
}
