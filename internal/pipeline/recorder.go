package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Ireoo/autotalk/internal/audio"
	"github.com/Ireoo/autotalk/internal/metrics"
)

// Recorder writes the audio of closed utterances to WAV files.
type Recorder struct {
	dir        string
	sampleRate int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewRecorder creates a recorder writing into dir.
func NewRecorder(dir string, sampleRate int, logger *slog.Logger, m *metrics.Metrics) (*Recorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("recording directory cannot be empty")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	return &Recorder{dir: dir, sampleRate: sampleRate, logger: logger, metrics: m}, nil
}

// Path returns the file path used for u.
func (r *Recorder) Path(u Utterance) string {
	id := u.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return filepath.Join(r.dir, fmt.Sprintf("%s-%s.wav", u.EmittedAt.Format(TimestampLayout), id))
}

// Save writes samples for u and returns the path. A failure is logged and
// returned but never affects the pipeline.
func (r *Recorder) Save(u Utterance, samples []float32) (string, error) {
	path := r.Path(u)
	err := audio.SaveWAV(path, samples, r.sampleRate)
	if r.metrics != nil {
		r.metrics.RecordRecording(err == nil)
	}
	if err != nil {
		if r.logger != nil {
			r.logger.Error("Failed to save utterance recording",
				slog.String("utterance_id", u.ID),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		return "", err
	}

	if r.logger != nil {
		r.logger.Debug("Saved utterance recording",
			slog.String("utterance_id", u.ID),
			slog.String("path", path),
			slog.Int("samples", len(samples)),
		)
	}
	return path, nil
}
