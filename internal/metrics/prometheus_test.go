package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFrame(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordFrame(true, 0.2, 0.01)
	m.RecordFrame(false, 0.001, 0.01)

	if got := testutil.ToFloat64(m.FramesReceived); got != 2 {
		t.Errorf("Expected 2 frames received, got %v", got)
	}
	if got := testutil.ToFloat64(m.FramesGated); got != 1 {
		t.Errorf("Expected 1 gated frame, got %v", got)
	}
	if got := testutil.ToFloat64(m.AudioLevel); got != 0.001 {
		t.Errorf("Expected audio level 0.001, got %v", got)
	}
}

func TestSetQueueStateAddsDelta(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetQueueState(10, 3, 0)
	m.SetQueueState(4, 5, 3)
	m.SetQueueState(0, 5, 5)

	if got := testutil.ToFloat64(m.FramesDropped); got != 5 {
		t.Errorf("Expected 5 dropped frames, got %v", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth); got != 0 {
		t.Errorf("Expected queue depth 0, got %v", got)
	}
}

func TestRecognitionAndUtterances(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRecognition(0.3, 1.5, false)
	m.RecordRecognition(0.1, 1.0, true)
	m.RecordUtterance("repeat")
	m.RecordUtterance("punctuation")
	m.RecordUtterance("punctuation")
	m.RecordPartial()
	m.RecordRecording(true)
	m.RecordRecording(false)
	m.RecordEviction(0)
	m.RecordEviction(160)

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"requests", m.RecognitionRequests, 2},
		{"failures", m.RecognitionFailures, 1},
		{"repeat closures", m.UtterancesEmitted.WithLabelValues("repeat"), 1},
		{"punctuation closures", m.UtterancesEmitted.WithLabelValues("punctuation"), 2},
		{"partials", m.PartialsEmitted, 1},
		{"recordings saved", m.RecordingsSaved, 1},
		{"recordings failed", m.RecordingsFailed, 1},
		{"evicted", m.SamplesEvicted, 160},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if got := testutil.ToFloat64(c.c); got != c.want {
				t.Errorf("Expected %v, got %v", c.want, got)
			}
		})
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	// Two pipelines in one process must not collide on registration.
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())

	a.RecordPartial()
	if got := testutil.ToFloat64(b.PartialsEmitted); got != 0 {
		t.Errorf("Expected independent registries, got %v", got)
	}
}
