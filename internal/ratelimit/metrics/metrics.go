package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts throttled requests. A nil *Metrics is a no-op.
type Metrics struct {
	RateLimited *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RateLimited: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_rate_limited_total",
			Help: "Requests rejected by the per-user rate limiter",
		}, []string{"class"}),
	}
}

func (m *Metrics) IncRateLimited(class string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(class).Inc()
}
