package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ireoo/autotalk/internal/audio"
	"github.com/Ireoo/autotalk/internal/recognizer"
)

func testConfig(endpoint string) Config {
	params := recognizer.DefaultParams()
	params.Threads = 2
	return Config{
		Endpoint:     endpoint,
		Timeout:      5 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		Params:       params,
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("Expected error for empty endpoint")
	}

	c, err := NewClient(Config{Endpoint: "http://localhost:8080/", MaxRetries: -1})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.config.Endpoint != "http://localhost:8080" {
		t.Errorf("Expected trailing slash trimmed, got %s", c.config.Endpoint)
	}
	if c.config.Timeout != defaultTimeout || c.config.MaxRetries != 0 || c.config.Params.SampleRate != 16000 {
		t.Errorf("Unexpected defaults: %+v", c.config)
	}
}

func TestTranscribeSendsMultipartWAV(t *testing.T) {
	var gotLanguage, gotFormat, gotThreads string
	var gotSamples int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" || r.Method != http.MethodPost {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLanguage = r.FormValue("language")
		gotFormat = r.FormValue("response_format")
		gotThreads = r.FormValue("threads")

		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		samples, _, err := audio.DecodeWAV(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotSamples = len(samples)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": "你好。"})
	}))
	defer server.Close()

	c, _ := NewClient(testConfig(server.URL))
	res, err := c.Transcribe(context.Background(), make([]float32, 1600))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if res.Text() != "你好。" {
		t.Errorf("Expected text 你好。, got %q", res.Text())
	}
	if gotLanguage != "zh" || gotFormat != "json" || gotThreads != "2" {
		t.Errorf("Unexpected form fields: language=%q format=%q threads=%q", gotLanguage, gotFormat, gotThreads)
	}
	if gotSamples != 1600 {
		t.Errorf("Expected 1600 uploaded samples, got %d", gotSamples)
	}

	stats := c.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 || stats.SuccessRate != 100 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestTranscribeSegments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"ignored","segments":[{"start":0,"end":1.5,"text":"今天"},{"start":1.5,"end":2,"text":""},{"start":2,"end":3,"text":"下雨。"}]}`))
	}))
	defer server.Close()

	c, _ := NewClient(testConfig(server.URL))
	res, err := c.Transcribe(context.Background(), make([]float32, 10))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("Expected 2 non-empty segments, got %d", len(res.Segments))
	}
	if res.Text() != "今天下雨。" {
		t.Errorf("Expected concatenated text, got %q", res.Text())
	}
	if res.Segments[0].End != 1500*time.Millisecond {
		t.Errorf("Expected first segment end 1.5s, got %v", res.Segments[0].End)
	}
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer server.Close()

	c, _ := NewClient(testConfig(server.URL))
	res, err := c.Transcribe(context.Background(), make([]float32, 10))
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if res.Text() != "ok" {
		t.Errorf("Expected ok, got %q", res.Text())
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
	if c.GetStats().TotalRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", c.GetStats().TotalRetries)
	}
}

func TestTranscribeDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer server.Close()

	c, _ := NewClient(testConfig(server.URL))
	_, err := c.Transcribe(context.Background(), make([]float32, 10))
	if err == nil {
		t.Fatal("Expected error for 400 response")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadRequest {
		t.Errorf("Expected wrapped StatusError 400, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt, got %d", calls.Load())
	}
	if c.GetStats().FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", c.GetStats().FailedRequests)
	}
}

func TestTranscribeAfterClose(t *testing.T) {
	c, _ := NewClient(testConfig("http://127.0.0.1:1"))
	c.Close()
	if _, err := c.Transcribe(context.Background(), nil); !errors.Is(err, recognizer.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &StatusError{Code: 502}, true},
		{"rate limited", &StatusError{Code: 429}, true},
		{"client error", &StatusError{Code: 404}, false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("parse failure"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
