package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete autotalk configuration
type Config struct {
	Capture    CaptureConfig    `yaml:"capture"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Gate       GateConfig       `yaml:"gate"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Recording  RecordingConfig  `yaml:"recording"`
	HTTP       HTTPConfig       `yaml:"http"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// CaptureConfig contains audio input configuration
type CaptureConfig struct {
	Device     int       `yaml:"device"` // capture device index, -1 for the system default
	Disabled   bool      `yaml:"disabled"`
	SampleRate int       `yaml:"sample_rate"`
	FrameSize  int       `yaml:"frame_size"` // samples
	QueueSize  int       `yaml:"queue_size"` // frames
	UDP        UDPConfig `yaml:"udp"`
}

// UDPConfig contains network ingest configuration
type UDPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	Port       int    `yaml:"port"`
	BufferSize int    `yaml:"buffer_size"` // bytes
}

// PipelineConfig contains segmentation parameters
type PipelineConfig struct {
	MaxBufferSeconds    float64 `yaml:"max_buffer_seconds"`
	SoftCapSeconds      float64 `yaml:"soft_cap_seconds"`
	MinAudioSeconds     float64 `yaml:"min_audio_seconds"`
	PollIntervalMs      int     `yaml:"poll_interval_ms"`
	RepeatThreshold     int     `yaml:"repeat_threshold"`
	TerminalPunctuation string  `yaml:"terminal_punctuation"`
}

// GateConfig contains noise gate configuration
type GateConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Alpha      float64 `yaml:"alpha"`
	Multiplier float64 `yaml:"multiplier"`
}

// RecognizerConfig contains speech recognizer configuration
type RecognizerConfig struct {
	Backend             string        `yaml:"backend"` // whisper or http
	ModelPath           string        `yaml:"model_path"`
	ModelName           string        `yaml:"model_name"`
	AutoDownload        bool          `yaml:"auto_download"`
	ModelsDir           string        `yaml:"models_dir"`
	Language            string        `yaml:"language"`
	Threads             int           `yaml:"threads"` // 0 uses every CPU
	AudioCtx            int           `yaml:"audio_ctx"`
	MaxTokens           int           `yaml:"max_tokens"`
	TokenThreshold      float32       `yaml:"token_threshold"`
	Temperature         float32       `yaml:"temperature"`
	TemperatureFallback float32       `yaml:"temperature_fallback"`
	EntropyThreshold    float32       `yaml:"entropy_threshold"`
	Endpoint            string        `yaml:"endpoint"`
	APIKey              string        `yaml:"api_key"`
	Timeout             int           `yaml:"timeout"` // seconds
	MaxRetries          int           `yaml:"max_retries"`
	Breaker             BreakerConfig `yaml:"breaker"`
}

// BreakerConfig contains recognizer circuit breaker configuration
type BreakerConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxFailures  int  `yaml:"max_failures"`
	ResetTimeout int  `yaml:"reset_timeout"` // seconds
	HalfOpenMax  int  `yaml:"half_open_max"`
}

// RecordingConfig contains utterance recording configuration
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// MQTTConfig contains MQTT publisher configuration
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TopicPrefix     string `yaml:"topic_prefix"`
	QoS             int    `yaml:"qos"`
	PublishPartials bool   `yaml:"publish_partials"`
}

// MonitorConfig contains system monitor configuration
type MonitorConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	HistorySize     int `yaml:"history_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Device:     -1,
			SampleRate: 16000,
			FrameSize:  512,
			QueueSize:  1024,
			UDP: UDPConfig{
				Address:    "0.0.0.0",
				Port:       4444,
				BufferSize: 65536,
			},
		},
		Pipeline: PipelineConfig{
			MaxBufferSeconds:    30,
			SoftCapSeconds:      20,
			MinAudioSeconds:     1,
			PollIntervalMs:      100,
			RepeatThreshold:     5,
			TerminalPunctuation: ".!?。！？~",
		},
		Gate: GateConfig{
			Enabled:    true,
			Alpha:      1e-6,
			Multiplier: 1.5,
		},
		Recognizer: RecognizerConfig{
			Backend:          "whisper",
			ModelPath:        "models/ggml-medium-zh.bin",
			ModelName:        "medium",
			ModelsDir:        "models",
			Language:         "zh",
			AudioCtx:         768,
			MaxTokens:        64,
			TokenThreshold:   0.01,
			EntropyThreshold: 2.6,
			Endpoint:         "http://127.0.0.1:8080",
			Timeout:          30,
			MaxRetries:       2,
			Breaker: BreakerConfig{
				Enabled:      true,
				MaxFailures:  5,
				ResetTimeout: 30,
				HalfOpenMax:  3,
			},
		},
		Recording: RecordingConfig{
			Directory: "recordings",
		},
		HTTP: HTTPConfig{
			Port:    8090,
			Address: "127.0.0.1",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://127.0.0.1:1883",
			ClientID:    "autotalk",
			TopicPrefix: "autotalk",
		},
		Monitor: MonitorConfig{
			IntervalSeconds: 5,
			HistorySize:     120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file over the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Gate.Validate(); err != nil {
		return fmt.Errorf("gate config: %w", err)
	}

	if err := c.Recognizer.Validate(); err != nil {
		return fmt.Errorf("recognizer config: %w", err)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.MQTT.Validate(); err != nil {
		return fmt.Errorf("mqtt config: %w", err)
	}

	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("monitor config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.Device < -1 {
		return fmt.Errorf("device must be -1 (default) or a device index, got %d", c.Device)
	}

	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", c.SampleRate)
	}

	if c.FrameSize < 64 || c.FrameSize > 8192 {
		return fmt.Errorf("frame_size must be between 64 and 8192 samples, got %d", c.FrameSize)
	}

	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}

	if c.Disabled && !c.UDP.Enabled {
		return fmt.Errorf("at least one of the capture device or udp ingest must be enabled")
	}

	if c.UDP.Enabled {
		if c.UDP.Port < 1 || c.UDP.Port > 65535 {
			return fmt.Errorf("udp port must be between 1 and 65535, got %d", c.UDP.Port)
		}

		if c.UDP.Address == "" {
			return fmt.Errorf("udp address cannot be empty when udp ingest is enabled")
		}

		if c.UDP.BufferSize < 1024 {
			return fmt.Errorf("udp buffer_size must be at least 1024 bytes, got %d", c.UDP.BufferSize)
		}
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.MaxBufferSeconds <= 0 {
		return fmt.Errorf("max_buffer_seconds must be positive, got %f", p.MaxBufferSeconds)
	}

	if p.SoftCapSeconds <= 0 || p.SoftCapSeconds > p.MaxBufferSeconds {
		return fmt.Errorf("soft_cap_seconds (%f) must be positive and not above max_buffer_seconds (%f)",
			p.SoftCapSeconds, p.MaxBufferSeconds)
	}

	if p.MinAudioSeconds <= 0 || p.MinAudioSeconds > p.SoftCapSeconds {
		return fmt.Errorf("min_audio_seconds (%f) must be positive and not above soft_cap_seconds (%f)",
			p.MinAudioSeconds, p.SoftCapSeconds)
	}

	if p.PollIntervalMs < 10 {
		return fmt.Errorf("poll_interval_ms must be at least 10, got %d", p.PollIntervalMs)
	}

	if p.RepeatThreshold < 1 {
		return fmt.Errorf("repeat_threshold must be at least 1, got %d", p.RepeatThreshold)
	}

	if strings.TrimSpace(p.TerminalPunctuation) == "" {
		return fmt.Errorf("terminal_punctuation cannot be empty")
	}

	return nil
}

// Validate validates gate configuration
func (g *GateConfig) Validate() error {
	if g.Alpha <= 0 || g.Alpha > 1 {
		return fmt.Errorf("alpha must be in (0, 1], got %g", g.Alpha)
	}

	if g.Multiplier <= 0 {
		return fmt.Errorf("multiplier must be positive, got %g", g.Multiplier)
	}

	return nil
}

// Validate validates recognizer configuration
func (r *RecognizerConfig) Validate() error {
	switch r.Backend {
	case "whisper":
		if r.ModelPath == "" && r.ModelName == "" {
			return fmt.Errorf("model_path or model_name is required for the whisper backend")
		}
		if r.AutoDownload && r.ModelsDir == "" {
			return fmt.Errorf("models_dir cannot be empty when auto_download is enabled")
		}
	case "http":
		if r.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http backend")
		}
		if !strings.HasPrefix(r.Endpoint, "http://") && !strings.HasPrefix(r.Endpoint, "https://") {
			return fmt.Errorf("endpoint must be an http(s) URL, got '%s'", r.Endpoint)
		}
		if r.Timeout < 1 {
			return fmt.Errorf("timeout must be at least 1 second, got %d", r.Timeout)
		}
		if r.MaxRetries < 0 {
			return fmt.Errorf("max_retries cannot be negative, got %d", r.MaxRetries)
		}
	default:
		return fmt.Errorf("backend must be 'whisper' or 'http', got '%s'", r.Backend)
	}

	if r.Threads < 0 {
		return fmt.Errorf("threads cannot be negative, got %d", r.Threads)
	}

	if r.AudioCtx < 0 || r.AudioCtx > 1500 {
		return fmt.Errorf("audio_ctx must be between 0 and 1500, got %d", r.AudioCtx)
	}

	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative, got %d", r.MaxTokens)
	}

	if r.Temperature < 0 || r.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", r.Temperature)
	}

	if r.Breaker.Enabled {
		if r.Breaker.MaxFailures < 1 {
			return fmt.Errorf("breaker max_failures must be at least 1, got %d", r.Breaker.MaxFailures)
		}
		if r.Breaker.ResetTimeout < 1 {
			return fmt.Errorf("breaker reset_timeout must be at least 1 second, got %d", r.Breaker.ResetTimeout)
		}
		if r.Breaker.HalfOpenMax < 1 {
			return fmt.Errorf("breaker half_open_max must be at least 1, got %d", r.Breaker.HalfOpenMax)
		}
	}

	return nil
}

// Validate validates recording configuration
func (r *RecordingConfig) Validate() error {
	if r.Enabled && r.Directory == "" {
		return fmt.Errorf("directory cannot be empty when recording is enabled")
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates MQTT configuration
func (m *MQTTConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	if m.Broker == "" {
		return fmt.Errorf("broker cannot be empty when MQTT is enabled")
	}

	if m.ClientID == "" {
		return fmt.Errorf("client_id cannot be empty when MQTT is enabled")
	}

	if m.TopicPrefix == "" || strings.ContainsAny(m.TopicPrefix, "+#") {
		return fmt.Errorf("topic_prefix must be non-empty and free of wildcards, got '%s'", m.TopicPrefix)
	}

	if m.QoS < 0 || m.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", m.QoS)
	}

	return nil
}

// Validate validates monitor configuration
func (m *MonitorConfig) Validate() error {
	if m.IntervalSeconds < 1 {
		return fmt.Errorf("interval_seconds must be at least 1, got %d", m.IntervalSeconds)
	}

	if m.HistorySize < 1 {
		return fmt.Errorf("history_size must be at least 1, got %d", m.HistorySize)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Any other output value is treated as a file path.
	return nil
}

// GetMaxBufferDuration returns the hard cap as a time.Duration
func (p *PipelineConfig) GetMaxBufferDuration() time.Duration {
	return time.Duration(p.MaxBufferSeconds * float64(time.Second))
}

// GetSoftCapDuration returns the soft cap as a time.Duration
func (p *PipelineConfig) GetSoftCapDuration() time.Duration {
	return time.Duration(p.SoftCapSeconds * float64(time.Second))
}

// GetMinAudioDuration returns the minimum recognition length as a time.Duration
func (p *PipelineConfig) GetMinAudioDuration() time.Duration {
	return time.Duration(p.MinAudioSeconds * float64(time.Second))
}

// GetPollInterval returns the scheduler poll interval as a time.Duration
func (p *PipelineConfig) GetPollInterval() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}

// GetTimeoutDuration returns the recognizer HTTP timeout as a time.Duration
func (r *RecognizerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

// GetResetTimeoutDuration returns the breaker reset timeout as a time.Duration
func (b *BreakerConfig) GetResetTimeoutDuration() time.Duration {
	return time.Duration(b.ResetTimeout) * time.Second
}

// GetIntervalDuration returns the monitor log interval as a time.Duration
func (m *MonitorConfig) GetIntervalDuration() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// Sanitized returns a copy with secrets masked, for the /config endpoint.
func (c *Config) Sanitized() *Config {
	out := *c
	if out.Recognizer.APIKey != "" {
		out.Recognizer.APIKey = "***"
	}
	if out.MQTT.Password != "" {
		out.MQTT.Password = "***"
	}
	return &out
}
