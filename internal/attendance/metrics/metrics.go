package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redemption outcomes. The error codes double as outcome labels.
const (
	OutcomeRedeemed = "redeemed"
)

// Metrics provides observability for the attendance module. A nil *Metrics is a no-op.
type Metrics struct {
	TokensIssued prometheus.Counter

	// Redemption attempts by outcome: redeemed, invalid_token, token_expired,
	// out_of_range, already_redeemed, unavailable, ...
	Redemptions *prometheus.CounterVec

	RedeemLatency prometheus.Histogram

	TokensExpired prometheus.Counter

	// Store breaker state, 1 while open
	BreakerOpen prometheus.Gauge
}

// New creates a Metrics instance registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TokensIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_tokens_issued_total",
			Help: "Total attendance tokens issued",
		}),
		Redemptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_redemptions_total",
			Help: "Redemption attempts by outcome",
		}, []string{"outcome"}),
		RedeemLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rollcall_redeem_duration_seconds",
			Help:    "Duration of a redemption including the ledger commit",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		TokensExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_tokens_expired_total",
			Help: "Tokens deactivated by the expiry sweep",
		}),
		BreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "rollcall_store_breaker_open",
			Help: "Whether the attendance store circuit breaker is open",
		}),
	}
}

func (m *Metrics) IncTokensIssued() {
	if m != nil {
		m.TokensIssued.Inc()
	}
}

func (m *Metrics) IncRedemption(outcome string) {
	if m != nil {
		m.Redemptions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveRedeemLatency(d time.Duration) {
	if m != nil {
		m.RedeemLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) AddTokensExpired(n int) {
	if m != nil && n > 0 {
		m.TokensExpired.Add(float64(n))
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
