// Package metrics exposes Prometheus collectors for interview sessions,
// question turns, AI providers and transcription streams.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "intervyu"

// Metrics holds the engine collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	SessionsActive      prometheus.Gauge
	SessionsTotal       prometheus.Counter
	QuestionsIssued     *prometheus.CounterVec
	InterviewsFinished  *prometheus.CounterVec
	ProviderSelected    *prometheus.CounterVec
	ProviderDefaults    *prometheus.CounterVec
	ProviderLatency     *prometheus.HistogramVec
	TranscriptsFinal    prometheus.Counter
	TranscriptionErrors prometheus.Counter
	AudioBytesReceived  prometheus.Counter
	PersistFailures     prometheus.Counter
	EventsPublished     *prometheus.CounterVec
}

// New registers all collectors on reg. Passing nil uses a private registry so
// tests can build several instances without duplicate registration panics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of interview sessions currently in the registry",
		}),
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of interview sessions created",
		}),
		QuestionsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_issued_total",
			Help:      "Questions sent to candidates by kind",
		}, []string{"kind"}),
		InterviewsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interviews_finished_total",
			Help:      "Finalized interviews by outcome",
		}, []string{"status"}),
		ProviderSelected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_selected_total",
			Help:      "AI provider selections by provider name",
		}, []string{"provider"}),
		ProviderDefaults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_defaults_total",
			Help:      "Safe default outputs substituted for failed AI calls, by operation",
		}, []string{"operation"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_seconds",
			Help:      "Latency of AI provider calls in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"provider", "operation"}),
		TranscriptsFinal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Final transcription results received",
		}),
		TranscriptionErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_errors_total",
			Help:      "Errors reported by transcription streams",
		}),
		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Audio bytes forwarded to transcription streams",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Interview results that could not be persisted",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Lifecycle events published by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// QuestionIssued records a question sent to a candidate; kind is "initial"
// or "follow_up".
func (m *Metrics) QuestionIssued(kind string) {
	if m == nil {
		return
	}
	m.QuestionsIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) InterviewFinished(status string) {
	if m == nil {
		return
	}
	m.InterviewsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) ProviderSelection(provider string) {
	if m == nil {
		return
	}
	m.ProviderSelected.WithLabelValues(provider).Inc()
}

func (m *Metrics) DefaultSubstituted(operation string) {
	if m == nil {
		return
	}
	m.ProviderDefaults.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveProviderCall(provider, operation string, seconds float64) {
	if m == nil {
		return
	}
	m.ProviderLatency.WithLabelValues(provider, operation).Observe(seconds)
}

func (m *Metrics) TranscriptFinal() {
	if m == nil {
		return
	}
	m.TranscriptsFinal.Inc()
}

func (m *Metrics) TranscriptionError() {
	if m == nil {
		return
	}
	m.TranscriptionErrors.Inc()
}

func (m *Metrics) AudioReceived(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AudioBytesReceived.Add(float64(n))
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

// EventPublished records a lifecycle event publish; result is "ok", "error"
// or "logged".
func (m *Metrics) EventPublished(result string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(result).Inc()
}
