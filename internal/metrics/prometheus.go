package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the segmentation pipeline
type Metrics struct {
	// Capture / queue metrics
	FramesReceived prometheus.Counter
	FramesDropped  prometheus.Counter
	QueueDepth     prometheus.Gauge

	// Noise gate metrics
	FramesGated  prometheus.Counter
	GateBaseline prometheus.Gauge
	AudioLevel   prometheus.Gauge

	// Utterance buffer metrics
	BufferSamples  prometheus.Gauge
	SamplesEvicted prometheus.Counter

	// Recognition metrics
	RecognitionRequests prometheus.Counter
	RecognitionFailures prometheus.Counter
	RecognitionDuration prometheus.Histogram
	RecognitionAudio    prometheus.Histogram

	// Boundary metrics
	UtterancesEmitted *prometheus.CounterVec
	PartialsEmitted   prometheus.Counter

	// Recording metrics
	RecordingsSaved  prometheus.Counter
	RecordingsFailed prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "autotalk_frames_received_total",
			Help: "Total number of frames taken from the frame queue",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "autotalk_frames_dropped_total",
			Help: "Total number of frames dropped because the frame queue was full",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "autotalk_frame_queue_depth",
			Help: "Current number of frames waiting in the queue",
		}),

		FramesGated: f.NewCounter(prometheus.CounterOpts{
			Name: "autotalk_frames_gated_total",
			Help: "Total number of frames rejected by the noise gate",
		}),
		GateBaseline: f.NewGauge(prometheus.GaugeOpts{
			Name: "autotalk_gate_baseline_energy",
			Help: "Current noise gate baseline energy",
		}),
		AudioLevel: f.NewGauge(prometheus.GaugeOpts{
			Name: "autotalk_audio_level",
			Help: "Mean absolute amplitude of the latest frame",
		}),

		BufferSamples: f.NewGauge(prometheus.GaugeOpts{
			Name: "autotalk_utterance_buffer_samples",
			Help: "Current number of samples in the utterance buffer",
		}),
		SamplesEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "autotalk_utterance_samples_evicted_total",
			Help: "Total number of samples evicted by the hard or soft cap",
		}),

		RecognitionRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "autotalk_recognition_requests_total",
			Help: "Total number of recognizer invocations",
		}),
		RecognitionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "autotalk_recognition_failures_total",
			Help: "Total number of failed recognizer invocations",
		}),
		RecognitionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "autotalk_recognition_duration_seconds",
			Help:    "Wall time of recognizer invocations",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		RecognitionAudio: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "autotalk_recognition_audio_seconds",
			Help:    "Audio length submitted per recognizer invocation",
			Buckets: prometheus.LinearBuckets(1, 2, 15), // 1s to 29s
		}),

		UtterancesEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autotalk_utterances_total",
			Help: "Total number of closed utterances by closure reason",
		}, []string{"reason"}),
		PartialsEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "autotalk_partials_total",
			Help: "Total number of interim hypotheses emitted",
		}),

		RecordingsSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "autotalk_recordings_saved_total",
			Help: "Total number of utterance recordings written",
		}),
		RecordingsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "autotalk_recordings_failed_total",
			Help: "Total number of utterance recordings that failed to write",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autotalk_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autotalk_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autotalk_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrame records one frame taken from the queue and the gate verdict
func (m *Metrics) RecordFrame(signal bool, level, baseline float64) {
	m.FramesReceived.Inc()
	if !signal {
		m.FramesGated.Inc()
	}
	m.AudioLevel.Set(level)
	m.GateBaseline.Set(baseline)
}

// SetQueueState sets the current queue depth and the cumulative drop count
func (m *Metrics) SetQueueState(depth int, droppedTotal uint64, lastDropped uint64) {
	m.QueueDepth.Set(float64(depth))
	if droppedTotal > lastDropped {
		m.FramesDropped.Add(float64(droppedTotal - lastDropped))
	}
}

// SetBufferSamples sets the utterance buffer length
func (m *Metrics) SetBufferSamples(n int) {
	m.BufferSamples.Set(float64(n))
}

// RecordEviction adds evicted samples
func (m *Metrics) RecordEviction(n int) {
	if n > 0 {
		m.SamplesEvicted.Add(float64(n))
	}
}

// RecordRecognition records a recognizer invocation
func (m *Metrics) RecordRecognition(durationSeconds, audioSeconds float64, failed bool) {
	m.RecognitionRequests.Inc()
	m.RecognitionDuration.Observe(durationSeconds)
	m.RecognitionAudio.Observe(audioSeconds)
	if failed {
		m.RecognitionFailures.Inc()
	}
}

// RecordUtterance records a closed utterance
func (m *Metrics) RecordUtterance(reason string) {
	m.UtterancesEmitted.WithLabelValues(reason).Inc()
}

// RecordPartial records an interim hypothesis
func (m *Metrics) RecordPartial() {
	m.PartialsEmitted.Inc()
}

// RecordRecording records a WAV write outcome
func (m *Metrics) RecordRecording(ok bool) {
	if ok {
		m.RecordingsSaved.Inc()
	} else {
		m.RecordingsFailed.Inc()
	}
}

// SetAudioLevel sets the latest reported audio level
func (m *Metrics) SetAudioLevel(level float64) {
	m.AudioLevel.Set(level)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
