package httplimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/3xpluto/go-rate-limiter/ratelimit"
)

// Metrics exposes admission decisions and store round-trip latency.
type Metrics struct {
	Decisions *prometheus.CounterVec
	Latency   prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Admission decisions by outcome (allowed, limited, error)",
		}, []string{"outcome"}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratelimit_store_seconds",
			Help:    "Latency of the limiter's store round trip",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Decisions, m.Latency)
	return m
}

func (m *Metrics) observe(res ratelimit.Result, err error, d time.Duration) {
	m.Latency.Observe(d.Seconds())
	switch {
	case err != nil:
		m.Decisions.WithLabelValues("error").Inc()
	case res.Allowed:
		m.Decisions.WithLabelValues("allowed").Inc()
	default:
		m.Decisions.WithLabelValues("limited").Inc()
	}
}
