package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveBackend         *prometheus.GaugeVec
	GenerationRequests    *prometheus.CounterVec
	GenerationLatency     *prometheus.HistogramVec
	FirstFragmentLatency  *prometheus.HistogramVec
	BackendFallbacks      prometheus.Counter
	BackendSwitches       *prometheus.CounterVec
	WSMessages            *prometheus.CounterVec
	RetrievalContextChars prometheus.Histogram

	stages *StageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveBackend: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_backend",
			Help:      "1 for the generation backend currently published, 0 otherwise.",
		}, []string{"backend"}),
		GenerationRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Generation calls by backend, mode and outcome.",
		}, []string{"backend", "mode", "outcome"}),
		GenerationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_ms",
			Help:      "Full generation latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		}, []string{"backend", "mode"}),
		FirstFragmentLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_fragment_latency_ms",
			Help:      "Latency to the first streamed fragment in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 700, 900, 1200, 2000, 5000, 10000},
		}, []string{"backend"}),
		BackendFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_fallbacks_total",
			Help:      "Local backend initialization failures recovered by the remote backend.",
		}),
		BackendSwitches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_switches_total",
			Help:      "Backend switch attempts by requested backend and outcome.",
		}, []string{"backend", "outcome"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		RetrievalContextChars: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_context_chars",
			Help:      "Size of the retrieved context injected into prompts.",
			Buckets:   []float64{0, 100, 500, 1000, 2000, 4000, 8000},
		}),
		stages: NewStageWindow(256),
	}
}

// SetActiveBackend marks backend as the only published one.
func (m *Metrics) SetActiveBackend(backend string) {
	for _, b := range []string{"local", "remote"} {
		v := 0.0
		if b == backend {
			v = 1
		}
		m.ActiveBackend.WithLabelValues(b).Set(v)
	}
}

func (m *Metrics) ObserveGeneration(backend, mode, outcome string, d time.Duration) {
	m.GenerationRequests.WithLabelValues(backend, mode, outcome).Inc()
	m.GenerationLatency.WithLabelValues(backend, mode).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveFirstFragmentLatency(backend string, d time.Duration) {
	m.FirstFragmentLatency.WithLabelValues(backend).Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageFirstFragment, d)
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stages.Observe(stage, d)
}

func (m *Metrics) CountEvent(name string) {
	m.stages.CountEvent(name)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
