package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Ireoo/autotalk/internal/config"
	"github.com/Ireoo/autotalk/internal/metrics"
	"github.com/Ireoo/autotalk/internal/pipeline"
	"github.com/Ireoo/autotalk/internal/protocol"
	"github.com/Ireoo/autotalk/internal/recognizer/recognizertest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingWriter struct {
	mu      sync.Mutex
	samples []float32
}

func (r *recordingWriter) Write(samples []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, samples...)
	return len(samples) / 4
}

func (r *recordingWriter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func newTestHTTPServer(t *testing.T) (*HTTPServer, *Hub, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	p, err := pipeline.New(pipeline.DefaultConfig(), pipeline.Deps{
		Recognizer: recognizertest.Texts(),
		Metrics:    m,
		Logger:     testLogger(),
	})
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	cfg := config.Default()
	cfg.Recognizer.APIKey = "secret-key"
	hub := NewHub(testLogger())

	h := NewHTTPServer(cfg.HTTP, testLogger(), cfg, Components{
		Pipeline:        p,
		Hub:             hub,
		RecognizerStats: func() any { return map[string]int{"calls": 3} },
		Gatherer:        reg,
	}, m)
	return h, hub, reg
}

func TestHTTPEndpoints(t *testing.T) {
	h, _, _ := newTestHTTPServer(t)
	ts := httptest.NewServer(h.Handler())
	defer ts.Close()

	tests := []struct {
		name         string
		method       string
		path         string
		expectStatus int
		expectBody   string
	}{
		{"root", http.MethodGet, "/", http.StatusOK, "/ws/transcripts"},
		{"unknown path", http.MethodGet, "/nope", http.StatusNotFound, ""},
		{"health while stopped", http.MethodGet, "/health", http.StatusServiceUnavailable, `"stopped"`},
		{"stats", http.MethodGet, "/stats", http.StatusOK, `"calls":3`},
		{"config hides secrets", http.MethodGet, "/config", http.StatusOK, `***`},
		{"post not allowed", http.MethodPost, "/stats", http.StatusMethodNotAllowed, ""},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, "autotalk_frames_received_total"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.expectStatus {
				t.Errorf("Expected status %d, got %d", tt.expectStatus, resp.StatusCode)
			}
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("Failed to read body: %v", err)
			}
			body := string(raw)
			if tt.expectBody != "" && !strings.Contains(body, tt.expectBody) {
				t.Errorf("Expected body to contain %q, got %s", tt.expectBody, body)
			}
			if strings.Contains(body, "secret-key") {
				t.Error("Response leaked the API key")
			}
		})
	}
}

func TestHubBroadcastsUtterances(t *testing.T) {
	h, hub, _ := newTestHTTPServer(t)
	ts := httptest.NewServer(h.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/transcripts"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.GetStats().Clients == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.GetStats().Clients != 1 {
		t.Fatal("Expected one subscriber")
	}

	if err := hub.Emit(pipeline.Utterance{ID: "u1", Kind: pipeline.KindFinal, Text: "你好。"}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}

	var got pipeline.Utterance
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if got.ID != "u1" || got.Text != "你好。" || got.Kind != pipeline.KindFinal {
		t.Errorf("Unexpected utterance: %+v", got)
	}

	hub.Close()
	if hub.GetStats().Clients != 0 {
		t.Error("Expected no subscribers after Close")
	}
}

func TestUDPIngestHandleDatagram(t *testing.T) {
	w := &recordingWriter{}
	s := NewUDPIngest(&config.UDPConfig{Address: "127.0.0.1"}, testLogger(), w)

	d1, _ := protocol.EncodeFloat32(1, make([]float32, 160))
	d3, _ := protocol.EncodeInt16(3, make([]float32, 160))
	late, _ := protocol.EncodeFloat32(2, make([]float32, 160))

	for _, d := range [][]byte{d1, d3} {
		if err := s.HandleDatagram(d); err != nil {
			t.Fatalf("HandleDatagram failed: %v", err)
		}
	}
	if err := s.HandleDatagram(late); err != nil {
		t.Fatalf("Late datagram should be dropped silently, got %v", err)
	}
	if err := s.HandleDatagram([]byte("garbage")); err == nil {
		t.Error("Expected parse error")
	}

	stats := s.GetStatistics()
	if stats.DatagramsProcessed != 2 {
		t.Errorf("Expected 2 processed, got %d", stats.DatagramsProcessed)
	}
	if stats.SequenceGaps != 1 {
		t.Errorf("Expected 1 sequence gap, got %d", stats.SequenceGaps)
	}
	if stats.LateDatagrams != 1 {
		t.Errorf("Expected 1 late datagram, got %d", stats.LateDatagrams)
	}
	if stats.ParseErrors != 1 {
		t.Errorf("Expected 1 parse error, got %d", stats.ParseErrors)
	}
	if w.count() != 320 {
		t.Errorf("Expected 320 samples written, got %d", w.count())
	}
}

func TestUDPIngestSenderRestart(t *testing.T) {
	w := &recordingWriter{}
	s := NewUDPIngest(&config.UDPConfig{Address: "127.0.0.1"}, testLogger(), w)

	send := func(seq uint32) {
		t.Helper()
		d, _ := protocol.EncodeFloat32(seq, make([]float32, 160))
		if err := s.HandleDatagram(d); err != nil {
			t.Fatalf("HandleDatagram(%d) failed: %v", seq, err)
		}
	}

	for seq := uint32(1); seq <= 1000; seq++ {
		send(seq)
	}
	// Reordered within the window: still late.
	send(900)
	// The sender starts over from 1.
	for seq := uint32(1); seq <= 500; seq++ {
		send(seq)
	}

	stats := s.GetStatistics()
	if stats.SenderRestarts != 1 {
		t.Errorf("Expected 1 sender restart, got %d", stats.SenderRestarts)
	}
	if stats.LateDatagrams != 1 {
		t.Errorf("Expected 1 late datagram, got %d", stats.LateDatagrams)
	}
	if stats.DatagramsProcessed != 1500 {
		t.Errorf("Expected 1500 processed, got %d", stats.DatagramsProcessed)
	}
	if w.count() != 1500*160 {
		t.Errorf("Expected %d samples written, got %d", 1500*160, w.count())
	}
}

func TestUDPIngestSequenceWraparound(t *testing.T) {
	w := &recordingWriter{}
	s := NewUDPIngest(&config.UDPConfig{Address: "127.0.0.1"}, testLogger(), w)

	for _, seq := range []uint32{0xFFFFFFFE, 0xFFFFFFFF, 0, 2} {
		d, _ := protocol.EncodeFloat32(seq, make([]float32, 160))
		if err := s.HandleDatagram(d); err != nil {
			t.Fatalf("HandleDatagram(%d) failed: %v", seq, err)
		}
	}

	stats := s.GetStatistics()
	if stats.DatagramsProcessed != 4 {
		t.Errorf("Expected 4 processed, got %d", stats.DatagramsProcessed)
	}
	if stats.SequenceGaps != 1 {
		t.Errorf("Expected 1 sequence gap, got %d", stats.SequenceGaps)
	}
	if stats.SenderRestarts != 0 || stats.LateDatagrams != 0 {
		t.Errorf("Unexpected restart/late counts: %+v", stats)
	}
}

func TestUDPIngestReceivesDatagrams(t *testing.T) {
	w := &recordingWriter{}
	s := NewUDPIngest(&config.UDPConfig{Address: "127.0.0.1", Port: 0, BufferSize: 65536}, testLogger(), w)
	if err := s.Start(); err != nil {
		t.Fatalf("Failed to start ingest: %v", err)
	}
	defer s.Stop()

	conn, err := net.Dial("udp", s.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	for seq := uint32(1); seq <= 3; seq++ {
		d, _ := protocol.EncodeFloat32(seq, make([]float32, 512))
		if _, err := conn.Write(d); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for w.count() < 3*512 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if w.count() != 3*512 {
		t.Errorf("Expected %d samples, got %d", 3*512, w.count())
	}
}

func TestHTTPServerStartStop(t *testing.T) {
	h, _, _ := newTestHTTPServer(t)
	h.server.Addr = "127.0.0.1:0"
	if err := h.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
