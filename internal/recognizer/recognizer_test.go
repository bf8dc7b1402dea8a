package recognizer_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/Ireoo/autotalk/internal/recognizer"
	"github.com/Ireoo/autotalk/internal/recognizer/recognizertest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestResultText(t *testing.T) {
	tests := []struct {
		name string
		res  recognizer.Result
		want string
	}{
		{"empty", recognizer.Result{}, ""},
		{"single", recognizer.Result{Segments: []recognizer.Segment{{Text: "你好"}}}, "你好"},
		{"ordered concat", recognizer.Result{Segments: []recognizer.Segment{{Text: "今天"}, {Text: "天气"}, {Text: "很好。"}}}, "今天天气很好。"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.Text(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDefaultParams(t *testing.T) {
	p := recognizer.DefaultParams()
	if p.SampleRate != 16000 || p.Language != "zh" || p.AudioCtx != 768 || p.MaxTokens != 64 {
		t.Errorf("Unexpected defaults: %+v", p)
	}
	if p.Threads < 1 {
		t.Errorf("Expected at least one thread, got %d", p.Threads)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	fail := errors.New("engine crashed")
	script := recognizertest.New(
		recognizertest.Step{Err: fail},
		recognizertest.Step{Err: fail},
		recognizertest.Step{Err: fail},
		recognizertest.Step{Text: "ok"},
	)
	b := recognizer.NewBreaker(script, recognizer.BreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour, HalfOpenMax: 1}, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := b.Transcribe(ctx, make([]float32, 10)); !errors.Is(err, fail) {
			t.Fatalf("Call %d: expected engine error, got %v", i, err)
		}
	}

	if b.State() != recognizer.BreakerOpen {
		t.Fatalf("Expected open breaker, got %s", b.State())
	}

	if _, err := b.Transcribe(ctx, nil); !errors.Is(err, recognizer.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if script.Calls() != 3 {
		t.Errorf("Open breaker must not call the engine, got %d calls", script.Calls())
	}

	stats := b.GetStats()
	if stats.Trips != 1 || stats.Rejected != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	fail := errors.New("boom")
	script := recognizertest.New(
		recognizertest.Step{Err: fail},
		recognizertest.Step{Text: "fine"},
		recognizertest.Step{Err: fail},
	)
	b := recognizer.NewBreaker(script, recognizer.BreakerConfig{MaxFailures: 2}, testLogger())

	for i := 0; i < 3; i++ {
		b.Transcribe(context.Background(), nil)
	}
	if b.State() != recognizer.BreakerClosed {
		t.Errorf("Expected closed breaker after interleaved success, got %s", b.State())
	}
}

func TestBreakerCancelledContextNotCounted(t *testing.T) {
	script := recognizertest.New(recognizertest.Step{Text: "slow", Delay: time.Second})
	b := recognizer.NewBreaker(script, recognizer.BreakerConfig{MaxFailures: 1}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.Transcribe(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if b.State() != recognizer.BreakerClosed {
		t.Errorf("Cancellation must not trip the breaker, got %s", b.State())
	}
}

func TestScriptedRecognizer(t *testing.T) {
	s := recognizertest.Texts("a", "b")
	ctx := context.Background()

	r1, _ := s.Transcribe(ctx, make([]float32, 3))
	r2, _ := s.Transcribe(ctx, make([]float32, 5))
	r3, _ := s.Transcribe(ctx, make([]float32, 7))

	if r1.Text() != "a" || r2.Text() != "b" || r3.Text() != "b" {
		t.Errorf("Unexpected sequence: %q %q %q", r1.Text(), r2.Text(), r3.Text())
	}
	counts := s.SampleCounts()
	if len(counts) != 3 || counts[0] != 3 || counts[2] != 7 {
		t.Errorf("Unexpected sample counts: %v", counts)
	}

	s.Close()
	if _, err := s.Transcribe(ctx, nil); !errors.Is(err, recognizer.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
