package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Ireoo/autotalk/internal/capture"
	"github.com/Ireoo/autotalk/internal/config"
	"github.com/Ireoo/autotalk/internal/metrics"
	"github.com/Ireoo/autotalk/internal/model"
	"github.com/Ireoo/autotalk/internal/pipeline"
	"github.com/Ireoo/autotalk/internal/publish"
	"github.com/Ireoo/autotalk/internal/recognizer"
	"github.com/Ireoo/autotalk/internal/recognizer/whisper"
	"github.com/Ireoo/autotalk/internal/server"
	"github.com/Ireoo/autotalk/internal/telemetry"
	"github.com/Ireoo/autotalk/internal/transcription"
	"github.com/Ireoo/autotalk/internal/vad"
)

const (
	defaultConfigPath = "configs/autotalk.yaml"
	serviceName       = "autotalk"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	listDevices := flag.Bool("list", false, "List capture devices and exit")
	micIndex := flag.Int("mic", -2, "Capture device index (-1 for the system default)")
	modelPath := flag.String("model", "", "Path to the whisper model file")
	flag.Parse()

	if *listDevices {
		if err := printDevices(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list devices: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *micIndex >= -1 {
		cfg.Capture.Device = *micIndex
	}
	if *modelPath != "" {
		cfg.Recognizer.ModelPath = *modelPath
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)
	logger.Info("Configuration loaded",
		slog.Int("device", cfg.Capture.Device),
		slog.Int("sample_rate", cfg.Capture.SampleRate),
		slog.Int("frame_size", cfg.Capture.FrameSize),
		slog.Float64("max_buffer_seconds", cfg.Pipeline.MaxBufferSeconds),
		slog.Float64("soft_cap_seconds", cfg.Pipeline.SoftCapSeconds),
		slog.String("recognizer", cfg.Recognizer.Backend),
		slog.Bool("udp_enabled", cfg.Capture.UDP.Enabled),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.Bool("mqtt_enabled", cfg.MQTT.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	rec, recStats, err := newRecognizer(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create recognizer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	monitor := telemetry.NewMonitor(telemetry.Config{
		Interval:    cfg.Monitor.GetIntervalDuration(),
		HistorySize: cfg.Monitor.HistorySize,
		BufferSize:  telemetry.DefaultConfig().BufferSize,
	}, logger, appMetrics)

	hub := server.NewHub(logger)
	sinks := pipeline.MultiSink{
		pipeline.NewConsoleSink(os.Stdout, true),
		hub,
	}

	var publisher *publish.Publisher
	if cfg.MQTT.Enabled {
		publisher = publish.New(publish.Config{
			BrokerURL:       cfg.MQTT.Broker,
			ClientID:        cfg.MQTT.ClientID,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			QoS:             byte(cfg.MQTT.QoS),
			PublishPartials: cfg.MQTT.PublishPartials,
		}, logger)
		if err := publisher.Start(); err != nil {
			logger.Error("Failed to start MQTT publisher", slog.String("error", err.Error()))
			os.Exit(1)
		}
		sinks = append(sinks, publisher)
	}

	var recorder *pipeline.Recorder
	if cfg.Recording.Enabled {
		recorder, err = pipeline.NewRecorder(cfg.Recording.Directory, cfg.Capture.SampleRate, logger, appMetrics)
		if err != nil {
			logger.Error("Failed to create recorder", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	p, err := pipeline.New(pipelineConfig(cfg), pipeline.Deps{
		Recognizer: rec,
		Sink:       sinks,
		Recorder:   recorder,
		Levels:     monitor,
		Metrics:    appMetrics,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("Failed to create pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Pipeline initialized",
		slog.Duration("poll_interval", cfg.Pipeline.GetPollInterval()),
		slog.Duration("min_audio", cfg.Pipeline.GetMinAudioDuration()),
	)

	var mic *capture.Microphone
	if !cfg.Capture.Disabled {
		asm, err := p.NewAssembler()
		if err != nil {
			logger.Error("Failed to create frame assembler", slog.String("error", err.Error()))
			os.Exit(1)
		}
		mic, err = capture.NewMicrophone(capture.Config{
			Device:     cfg.Capture.Device,
			SampleRate: cfg.Capture.SampleRate,
		}, asm, logger)
		if err != nil {
			logger.Error("Failed to create microphone", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	var ingest *server.UDPIngest
	if cfg.Capture.UDP.Enabled {
		asm, err := p.NewAssembler()
		if err != nil {
			logger.Error("Failed to create frame assembler", slog.String("error", err.Error()))
			os.Exit(1)
		}
		ingest = server.NewUDPIngest(&cfg.Capture.UDP, logger, asm)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, server.Components{
			Pipeline:        p,
			Ingest:          ingest,
			Monitor:         monitor,
			Hub:             hub,
			RecognizerStats: recStats,
			Gatherer:        registry,
		}, appMetrics)
	}

	go func() {
		if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Monitor stopped", slog.String("error", err.Error()))
		}
	}()

	pipelineDone := make(chan error, 1)
	go func() {
		pipelineDone <- p.Run(ctx)
	}()

	if ingest != nil {
		if err := ingest.Start(); err != nil {
			logger.Error("Failed to start UDP ingest", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	if mic != nil {
		if err := mic.Start(); err != nil {
			logger.Error("Failed to start microphone", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-pipelineDone:
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pipeline.ErrStopped) {
			logger.Error("Pipeline stopped unexpectedly", slog.String("error", err.Error()))
		}
	}

	logger.Info("Starting graceful shutdown...")

	// Capture goes first so no frames arrive while workers drain.
	if mic != nil {
		mic.Stop()
	}
	if ingest != nil {
		if err := ingest.Stop(); err != nil {
			logger.Error("Error stopping UDP ingest", slog.String("error", err.Error()))
		}
	}

	p.Stop()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if publisher != nil {
		publisher.Stop()
	}

	cancel()

	if err := rec.Close(); err != nil {
		logger.Error("Error closing recognizer", slog.String("error", err.Error()))
	}

	stats := p.GetStats()
	logger.Info("Final pipeline statistics",
		slog.Uint64("frames_processed", stats.FramesProcessed),
		slog.Uint64("frames_gated", stats.FramesGated),
		slog.Uint64("frames_dropped", stats.Queue.Dropped),
		slog.Uint64("recognitions", stats.Scheduler.Recognitions),
		slog.Uint64("failures", stats.Scheduler.Failures),
		slog.Uint64("finals", stats.Scheduler.Finals),
	)

	logger.Info("Service stopped")
}

// loadConfig reads path, falling back to defaults when the default file is absent.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

func printDevices() error {
	devices, err := capture.ListDevices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		marker := ""
		if d.IsDefault {
			marker = " (default)"
		}
		fmt.Printf("%d: %s%s\n", d.Index, d.Name, marker)
	}
	return nil
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		SampleRate:          cfg.Capture.SampleRate,
		FrameSize:           cfg.Capture.FrameSize,
		QueueSize:           cfg.Capture.QueueSize,
		MaxBuffer:           cfg.Pipeline.GetMaxBufferDuration(),
		SoftCap:             cfg.Pipeline.GetSoftCapDuration(),
		MinAudio:            cfg.Pipeline.GetMinAudioDuration(),
		PollInterval:        cfg.Pipeline.GetPollInterval(),
		RepeatThreshold:     cfg.Pipeline.RepeatThreshold,
		TerminalPunctuation: cfg.Pipeline.TerminalPunctuation,
		Gate: vad.GateConfig{
			Enabled:    cfg.Gate.Enabled,
			Alpha:      cfg.Gate.Alpha,
			Multiplier: cfg.Gate.Multiplier,
		},
	}
}

func recognizerParams(cfg *config.Config) recognizer.Params {
	params := recognizer.DefaultParams()
	rc := cfg.Recognizer

	params.SampleRate = cfg.Capture.SampleRate
	params.Language = rc.Language
	if rc.Threads > 0 {
		params.Threads = rc.Threads
	} else {
		params.Threads = runtime.NumCPU()
	}
	params.AudioCtx = rc.AudioCtx
	params.MaxTokens = rc.MaxTokens
	params.TokenThreshold = rc.TokenThreshold
	params.Temperature = rc.Temperature
	params.TemperatureFallback = rc.TemperatureFallback
	params.EntropyThreshold = rc.EntropyThreshold
	return params
}

// newRecognizer builds the configured backend, wrapped in a circuit breaker when enabled.
// The returned func reports backend and breaker stats for /stats.
func newRecognizer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (recognizer.Recognizer, func() any, error) {
	rc := cfg.Recognizer
	params := recognizerParams(cfg)

	var (
		backend      recognizer.Recognizer
		backendStats func() any
	)

	switch rc.Backend {
	case "http":
		client, err := transcription.NewClient(transcription.Config{
			Endpoint:   rc.Endpoint,
			APIKey:     rc.APIKey,
			Timeout:    rc.GetTimeoutDuration(),
			MaxRetries: rc.MaxRetries,
			Params:     params,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create http recognizer: %w", err)
		}
		backend = client
		backendStats = func() any { return client.GetStats() }
		logger.Info("HTTP recognizer initialized", slog.String("endpoint", rc.Endpoint))

	default:
		downloader := model.NewDownloader("", logger)
		path, err := downloader.Resolve(ctx, rc.ModelPath, rc.ModelName, rc.ModelsDir, rc.AutoDownload)
		if err != nil {
			return nil, nil, err
		}
		w, err := whisper.New(path, params, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load whisper model: %w", err)
		}
		backend = w
		logger.Info("Whisper recognizer initialized",
			slog.String("model", path),
			slog.String("language", params.Language),
			slog.Int("threads", params.Threads),
		)
	}

	if !rc.Breaker.Enabled {
		return backend, func() any {
			if backendStats == nil {
				return nil
			}
			return map[string]any{"backend": backendStats()}
		}, nil
	}

	breaker := recognizer.NewBreaker(backend, recognizer.BreakerConfig{
		MaxFailures:  rc.Breaker.MaxFailures,
		ResetTimeout: rc.Breaker.GetResetTimeoutDuration(),
		HalfOpenMax:  rc.Breaker.HalfOpenMax,
	}, logger)

	return breaker, func() any {
		out := map[string]any{"breaker": breaker.GetStats()}
		if backendStats != nil {
			out["backend"] = backendStats()
		}
		return out
	}, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Console transcripts go to stdout, so logs default to stderr.
	var output *os.File
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
