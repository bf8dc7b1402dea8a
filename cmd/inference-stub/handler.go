package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Ireoo/autotalk/internal/audio"
)

type inferenceResponse struct {
	Text     string    `json:"text"`
	Segments []segment `json:"segments,omitempty"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration"`
}

type segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// stub answers whisper-server style /inference requests from a fixed script,
// advancing one line per request and wrapping around at the end.
type stub struct {
	script []string
	delay  time.Duration
	logger *slog.Logger

	mu   sync.Mutex
	next int
}

func newStub(script []string, delay time.Duration, logger *slog.Logger) *stub {
	if len(script) == 0 {
		script = []string{""}
	}
	return &stub{script: script, delay: delay, logger: logger}
}

func (s *stub) nextText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := s.script[s.next%len(s.script)]
	s.next++
	return text
}

func (s *stub) handleInference(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "error parsing form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "error reading audio file")
		return
	}

	samples, info, err := audio.DecodeWAV(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid wav: %v", err))
		return
	}

	duration := 0.0
	if info.SampleRate > 0 {
		duration = float64(len(samples)) / float64(info.SampleRate)
	}

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-r.Context().Done():
			return
		}
	}

	text := s.nextText()
	resp := inferenceResponse{
		Text:     text,
		Language: r.FormValue("language"),
		Duration: duration,
	}
	if text != "" {
		resp.Segments = []segment{{Start: 0, End: duration, Text: text}}
	}

	s.logger.Info("Inference request served",
		slog.String("filename", header.Filename),
		slog.Int("audio_bytes", len(data)),
		slog.Float64("duration", duration),
		slog.String("language", resp.Language),
		slog.String("response_format", r.FormValue("response_format")),
		slog.String("text", text),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
