package atmledger

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry
	Calls    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Breaker  *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	return &Metrics{
		registry: registry,
		Calls: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "atmledger",
			Name:      "service_calls_total",
			Help:      "Account service calls by operation and outcome",
		}, []string{"op", "outcome"}),
		Duration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "atmledger",
			Name:      "service_call_duration_seconds",
			Help:      "Account service call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		Breaker: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "atmledger",
			Name:      "circuit_breaker_state",
			Help:      "0 closed, 1 half-open, 2 open",
		}, []string{"op"}),
	}
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	m.Calls.WithLabelValues(op, KindOf(err).String()).Inc()
	m.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
