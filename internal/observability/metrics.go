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
	ActiveSessions    prometheus.Gauge
	AuthEvents        *prometheus.CounterVec
	APIRequests       *prometheus.CounterVec
	APIRetries        prometheus.Counter
	WSMessages        *prometheus.CounterVec
	AssessmentEvents  *prometheus.CounterVec
	AssessmentLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live authenticated sessions.",
		}),
		AuthEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Auth events by outcome.",
		}, []string{"event"}),
		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "API requests by route and status class.",
		}, []string{"route", "status"}),
		APIRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_retries_total",
			Help:      "Outbound request attempts beyond the first.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		AssessmentEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessment_events_total",
			Help:      "Assessment lifecycle events by type and assessment.",
		}, []string{"event", "assessment"}),
		AssessmentLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assessment_duration_ms",
			Help:      "End-to-end assessment duration in milliseconds.",
			Buckets:   []float64{500, 1000, 2000, 5000, 10000, 20000, 30000, 60000},
		}),
	}
}

func (m *Metrics) ObserveAssessmentDuration(d time.Duration) {
	m.AssessmentLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
