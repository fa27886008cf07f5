// Package security publishes security audit events without blocking callers.
// Events are buffered in a bounded ring and flushed to the audit store by a
// background loop; when the buffer is full the oldest events are dropped.
package security

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "rollcall/pkg/platform/audit"
)

const (
	defaultFlushInterval = 250 * time.Millisecond
	defaultBatchSize     = 100
)

type Publisher struct {
	store         audit.Store
	buffer        *eventRing
	logger        *slog.Logger
	metrics       *Metrics
	flushInterval time.Duration
	batchSize     int
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

func WithBufferSize(n int) Option {
	return func(p *Publisher) { p.buffer = newEventRing(n) }
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:         store,
		buffer:        newEventRing(0),
		flushInterval: defaultFlushInterval,
		batchSize:     defaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit enqueues the event and returns immediately.
func (p *Publisher) Emit(_ context.Context, event audit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = audit.SeverityWarning
	}
	if p.buffer.push(event) {
		p.metrics.IncDropped()
	}
}

// Run flushes the buffer until ctx is done, then drains what is left.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			p.Flush(drainCtx)
			cancel()
			return nil
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Flush writes all buffered events. Store failures are logged and the event
// is discarded; security events are best-effort.
func (p *Publisher) Flush(ctx context.Context) {
	for {
		batch := p.buffer.take(p.batchSize)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			if err := p.store.Append(ctx, event.ToEvent()); err != nil {
				p.metrics.IncPersistFailures()
				if p.logger != nil {
					p.logger.WarnContext(ctx, "security audit write failed",
						"action", event.Action,
						"reason", event.Reason,
						"error", err,
					)
				}
				continue
			}
			p.metrics.IncPersisted()
		}
	}
}

// Pending returns the number of buffered events.
func (p *Publisher) Pending() int {
	return p.buffer.len()
}

// Metrics for the security publisher. A nil *Metrics is a no-op.
type Metrics struct {
	persisted       prometheus.Counter
	dropped         prometheus.Counter
	persistFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		persisted: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_audit_security_persisted_total",
			Help: "Security audit events written to the audit store",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_audit_security_dropped_total",
			Help: "Security audit events dropped because the buffer was full",
		}),
		persistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_audit_security_persist_failures_total",
			Help: "Security audit events that failed to persist",
		}),
	}
}

func (m *Metrics) IncPersisted() {
	if m != nil {
		m.persisted.Inc()
	}
}

func (m *Metrics) IncDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) IncPersistFailures() {
	if m != nil {
		m.persistFailures.Inc()
	}
}
