// Package obsmetrics registers the Prometheus metrics the gRPC server records
// on every Acquire call: admissions, denials, and store errors by resource, plus
// store-call latency.
package obsmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters and histogram this service exposes.
type Metrics struct {
	AcquireTotal  *prometheus.CounterVec
	StoreErrors   *prometheus.CounterVec
	StoreDuration *prometheus.HistogramVec
}

// New builds and registers the metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AcquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimitd_acquire_total",
				Help: "Total Acquire calls by resource and outcome",
			},
			[]string{"resource", "allowed"},
		),
		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimitd_store_errors_total",
				Help: "Total store evaluation errors by code",
			},
			[]string{"code"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratelimitd_store_duration_seconds",
				Help:    "Latency of the atomic sliding-window store call",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"resource"},
		),
	}

	reg.MustRegister(m.AcquireTotal, m.StoreErrors, m.StoreDuration)
	return m
}

// ObserveStoreCall records the duration of one store round-trip for resource.
func (m *Metrics) ObserveStoreCall(resource string, start time.Time) {
	m.StoreDuration.WithLabelValues(resource).Observe(time.Since(start).Seconds())
}
