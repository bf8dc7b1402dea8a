// Package whisper runs speech recognition in-process with the whisper.cpp Go bindings.
// The whisper.cpp static library and headers must be available at link time
// (LIBRARY_PATH and C_INCLUDE_PATH).
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/Ireoo/autotalk/internal/recognizer"
)

var _ recognizer.Recognizer = (*Recognizer)(nil)

// Recognizer transcribes with a whisper.cpp model loaded once at startup.
type Recognizer struct {
	model  whisperlib.Model
	params recognizer.Params
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// New loads the ggml model at modelPath.
func New(modelPath string, params recognizer.Params, logger *slog.Logger) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path cannot be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	logger.Info("Whisper model loaded",
		slog.String("model_path", modelPath),
		slog.String("language", params.Language),
		slog.Int("threads", params.Threads),
		slog.Bool("multilingual", model.IsMultilingual()),
	)

	return &Recognizer{model: model, params: params, logger: logger}, nil
}

// Transcribe runs one full inference over samples. The call cannot be interrupted
// once whisper.cpp has started; ctx is checked before and after.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32) (recognizer.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return recognizer.Result{}, recognizer.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return recognizer.Result{}, err
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return recognizer.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	r.configure(wctx)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return recognizer.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return recognizer.Result{}, err
	}

	var res recognizer.Result
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return recognizer.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if segment.Text == "" {
			continue
		}
		res.Segments = append(res.Segments, recognizer.Segment{
			Start: segment.Start,
			End:   segment.End,
			Text:  segment.Text,
		})
	}
	return res, nil
}

func (r *Recognizer) configure(wctx whisperlib.Context) {
	p := r.params
	if p.Language != "" {
		if err := wctx.SetLanguage(p.Language); err != nil {
			r.logger.Warn("Failed to set whisper language, using model default",
				slog.String("language", p.Language),
				slog.String("error", err.Error()),
			)
		}
	}
	if p.Threads > 0 {
		wctx.SetThreads(uint(p.Threads))
	}
	if p.AudioCtx > 0 {
		wctx.SetAudioCtx(uint(p.AudioCtx))
	}
	if p.MaxTokens > 0 {
		wctx.SetMaxTokensPerSegment(uint(p.MaxTokens))
	}
	wctx.SetTokenThreshold(p.TokenThreshold)
	wctx.SetTemperature(p.Temperature)
	wctx.SetTemperatureFallback(p.TemperatureFallback)
	wctx.SetEntropyThold(p.EntropyThreshold)
}

// Close releases the model.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.model.Close()
}
