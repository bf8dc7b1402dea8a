package publish

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/Ireoo/autotalk/internal/pipeline"
	"github.com/Ireoo/autotalk/internal/segment"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeToken struct {
	err      error
	complete bool
}

func (t *fakeToken) Wait() bool                     { return t.complete }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.complete }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu    sync.Mutex
	msgs  []published
	token *fakeToken
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return f.token
}

func newTestPublisher(cfg Config, token *fakeToken) (*Publisher, *fakeClient) {
	fc := &fakeClient{token: token}
	p := New(cfg, testLogger())
	p.pub = fc
	return p, fc
}

func TestTopics(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"autotalk", "autotalk/utterances"},
		{"office/desk-1/", "office/desk-1/utterances"},
	}
	for _, tt := range tests {
		if got := TopicUtterances(tt.prefix); got != tt.want {
			t.Errorf("TopicUtterances(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
	if TopicPartials("a") != "a/partials" || TopicStatus("a") != "a/status" {
		t.Error("Unexpected partial or status topic")
	}
}

func TestPublishFinalUtterance(t *testing.T) {
	p, fc := newTestPublisher(Config{TopicPrefix: "autotalk", QoS: 1}, &fakeToken{complete: true})

	at := time.Date(2024, 5, 1, 13, 4, 59, 0, time.UTC)
	u := pipeline.Utterance{
		ID:        "abc",
		Kind:      pipeline.KindFinal,
		Text:      "这是一个测试。",
		Reason:    segment.ReasonPunctuation,
		Samples:   24000,
		Duration:  1500 * time.Millisecond,
		EmittedAt: at,
	}
	if err := p.Emit(u); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	if len(fc.msgs) != 1 {
		t.Fatalf("Expected one message, got %d", len(fc.msgs))
	}
	msg := fc.msgs[0]
	if msg.topic != "autotalk/utterances" || msg.qos != 1 {
		t.Errorf("Unexpected topic/qos: %s/%d", msg.topic, msg.qos)
	}

	var got Message
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("Invalid payload: %v", err)
	}
	if got.Text != u.Text || got.Reason != "punctuation" || got.DurationMs != 1500 || got.Kind != "final" {
		t.Errorf("Unexpected message: %+v", got)
	}
	if got.Timestamp != "2024-05-01T13:04:59Z" {
		t.Errorf("Unexpected timestamp: %s", got.Timestamp)
	}
	if p.GetStats().Published != 1 {
		t.Error("Expected published counter to increase")
	}
}

func TestPartialsSkippedUnlessEnabled(t *testing.T) {
	p, fc := newTestPublisher(Config{TopicPrefix: "t"}, &fakeToken{complete: true})
	if err := p.Emit(pipeline.Utterance{Kind: pipeline.KindPartial, Text: "in progress"}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if len(fc.msgs) != 0 || p.GetStats().Skipped != 1 {
		t.Error("Expected partial to be skipped")
	}

	p, fc = newTestPublisher(Config{TopicPrefix: "t", PublishPartials: true}, &fakeToken{complete: true})
	if err := p.Emit(pipeline.Utterance{Kind: pipeline.KindPartial, Text: "in progress"}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if len(fc.msgs) != 1 || fc.msgs[0].topic != "t/partials" {
		t.Errorf("Expected partial on t/partials, got %+v", fc.msgs)
	}
}

func TestPublishErrors(t *testing.T) {
	p, _ := newTestPublisher(Config{TopicPrefix: "t"}, &fakeToken{complete: true, err: errors.New("not connected")})
	if err := p.Emit(pipeline.Utterance{Kind: pipeline.KindFinal, Text: "x."}); err == nil {
		t.Error("Expected publish error")
	}

	p, _ = newTestPublisher(Config{TopicPrefix: "t"}, &fakeToken{complete: false})
	if err := p.Emit(pipeline.Utterance{Kind: pipeline.KindFinal, Text: "x."}); err == nil {
		t.Error("Expected timeout error")
	}
	if p.GetStats().Failed != 1 {
		t.Errorf("Expected 1 failure, got %d", p.GetStats().Failed)
	}

	unstarted := New(Config{TopicPrefix: "t"}, testLogger())
	if err := unstarted.Emit(pipeline.Utterance{Kind: pipeline.KindFinal}); err == nil {
		t.Error("Expected error before Start")
	}
}
