package publish

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/Ireoo/autotalk/internal/pipeline"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// Config contains MQTT publisher configuration
type Config struct {
	BrokerURL       string
	ClientID        string
	Username        string
	Password        string
	TopicPrefix     string
	QoS             byte
	PublishPartials bool
	PublishTimeout  time.Duration
}

// Message is the JSON payload published for each utterance.
type Message struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Text       string `json:"text"`
	Reason     string `json:"reason,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Samples    int    `json:"samples"`
	Timestamp  string `json:"timestamp"`
	Recording  string `json:"recording,omitempty"`
}

// NewMessage converts an utterance into its wire form.
func NewMessage(u pipeline.Utterance) Message {
	return Message{
		ID:         u.ID,
		Kind:       string(u.Kind),
		Text:       u.Text,
		Reason:     string(u.Reason),
		DurationMs: u.Duration.Milliseconds(),
		Samples:    u.Samples,
		Timestamp:  u.EmittedAt.UTC().Format(time.RFC3339Nano),
		Recording:  u.Recording,
	}
}

// tokenPublisher is the part of paho.Client the publisher needs.
type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Publisher is a pipeline.Sink that publishes utterances over MQTT.
type Publisher struct {
	cfg    Config
	logger *slog.Logger
	client paho.Client
	pub    tokenPublisher

	published atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
}

// PublisherStats represents MQTT publisher statistics
type PublisherStats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
}

var _ pipeline.Sink = (*Publisher)(nil)

// New creates a publisher. Call Start to connect.
func New(cfg Config, logger *slog.Logger) *Publisher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &Publisher{cfg: cfg, logger: logger}
}

// Start connects to the broker and announces the online status.
func (p *Publisher) Start() error {
	opts := paho.NewClientOptions().
		AddBroker(p.cfg.BrokerURL).
		SetClientID(p.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10*time.Second).
		SetWill(TopicStatus(p.cfg.TopicPrefix), statusOffline, 1, true)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.logger.Error("MQTT connection lost", slog.String("error", err.Error()))
	})
	opts.SetOnConnectHandler(func(c paho.Client) {
		p.logger.Info("MQTT connected", slog.String("broker", p.cfg.BrokerURL))
		c.Publish(TopicStatus(p.cfg.TopicPrefix), 1, true, statusOnline)
	})

	p.client = paho.NewClient(opts)
	p.pub = p.client

	token := p.client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("timed out connecting to MQTT broker %s", p.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", p.cfg.BrokerURL, err)
	}
	return nil
}

// Emit publishes u. Partials are skipped unless enabled.
func (p *Publisher) Emit(u pipeline.Utterance) error {
	if p.pub == nil {
		return fmt.Errorf("mqtt publisher not started")
	}

	topic := TopicUtterances(p.cfg.TopicPrefix)
	if u.Kind == pipeline.KindPartial {
		if !p.cfg.PublishPartials {
			p.skipped.Add(1)
			return nil
		}
		topic = TopicPartials(p.cfg.TopicPrefix)
	}

	body, err := json.Marshal(NewMessage(u))
	if err != nil {
		return fmt.Errorf("failed to encode utterance: %w", err)
	}

	token := p.pub.Publish(topic, p.cfg.QoS, false, body)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		p.failed.Add(1)
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.published.Add(1)
	p.logger.Debug("Published utterance",
		slog.String("topic", topic),
		slog.String("utterance_id", u.ID),
	)
	return nil
}

// Stop announces offline and disconnects.
func (p *Publisher) Stop() {
	if p.client == nil {
		return
	}
	if p.client.IsConnected() {
		p.client.Publish(TopicStatus(p.cfg.TopicPrefix), 1, true, statusOffline).WaitTimeout(time.Second)
	}
	p.client.Disconnect(250)
	p.logger.Info("MQTT publisher stopped",
		slog.Uint64("published", p.published.Load()),
		slog.Uint64("failed", p.failed.Load()),
	)
}

// GetStats returns current publisher statistics
func (p *Publisher) GetStats() PublisherStats {
	return PublisherStats{
		Connected: p.client != nil && p.client.IsConnected(),
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		Skipped:   p.skipped.Load(),
	}
}
