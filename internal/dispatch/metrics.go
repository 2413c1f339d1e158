package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tinymist_requests_total",
			Help: "Total requests by kind and outcome",
		}, []string{"kind", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tinymist_request_duration_seconds",
			Help:    "Request latency by kind",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"kind"}),
	}
}

func (m *metrics) observe(kind Kind, outcome Outcome, elapsed time.Duration) {
	m.requests.WithLabelValues(string(kind), outcome.String()).Inc()
	m.duration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}
