package service

import (
	"context"
	"log/slog"
	"time"

	"rollcall/internal/attendance/metrics"
	"rollcall/pkg/platform/audit"
)

// Sweeper periodically deactivates expired tokens and evicts ones past the
// retention grace. Committed records are never touched.
type Sweeper struct {
	tokens   TokenStore
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	ops      OpsTracker
	now      func() time.Time
}

type SweeperOption func(*Sweeper)

func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = logger }
}

func WithSweeperMetrics(m *metrics.Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

func WithSweeperOpsTracker(t OpsTracker) SweeperOption {
	return func(s *Sweeper) { s.ops = t }
}

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

func NewSweeper(tokens TokenStore, interval, grace time.Duration, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if grace < 0 {
		grace = 0
	}
	s := &Sweeper{
		tokens:   tokens,
		interval: interval,
		grace:    grace,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "token sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce runs a single pass and reports how many tokens it expired and evicted.
func (s *Sweeper) SweepOnce(ctx context.Context) (expired, evicted int, err error) {
	now := s.now()
	expired, err = s.tokens.ExpireStale(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	s.metrics.AddTokensExpired(expired)

	evicted, err = s.tokens.DeleteExpired(ctx, now.Add(-s.grace))
	if err != nil {
		return expired, 0, err
	}

	if expired > 0 || evicted > 0 {
		s.logger.InfoContext(ctx, "token sweep completed",
			"expired", expired,
			"evicted", evicted,
		)
		if s.ops != nil && expired > 0 {
			s.ops.Track(ctx, audit.OpsEvent{
				Timestamp: now,
				Action:    string(audit.EventTokensExpired),
			})
		}
	}
	return expired, evicted, nil
}
