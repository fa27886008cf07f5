// Package service orchestrates attendance tokens and redemptions. It owns the
// ordered redemption checks, translates store facts into coded errors and
// emits audit events; HTTP concerns and authorization stay in the handler.
package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"rollcall/internal/attendance/metrics"
	"rollcall/internal/attendance/models"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/audit"
	"rollcall/pkg/platform/circuit"
	"rollcall/pkg/platform/tx"
)

type TokenStore interface {
	Create(ctx context.Context, token *models.Token) error
	FindByID(ctx context.Context, tokenID id.TokenID) (*models.Token, error)
	Deactivate(ctx context.Context, tokenID id.TokenID) error
	ExpireStale(ctx context.Context, now time.Time) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

type Ledger interface {
	TryCommit(ctx context.Context, record *models.Record) (*models.Record, error)
	ListByHolder(ctx context.Context, holder id.UserID) ([]*models.Record, error)
	ListBySubjectAndDay(ctx context.Context, subject string, day models.Day, issuer *id.UserID) ([]*models.Record, error)
	StatsForDay(ctx context.Context, day models.Day) (models.DayStats, error)
}

// ComplianceAuditor must persist the event for the surrounding commit to succeed.
type ComplianceAuditor interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

type SecurityAuditor interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

type OpsTracker interface {
	Track(ctx context.Context, event audit.OpsEvent)
}

// Config carries attendance policy.
type Config struct {
	DefaultRadiusMeters float64
	DefaultDuration     time.Duration
	MaxDuration         time.Duration
	// Location decides which calendar day a redemption belongs to.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.DefaultRadiusMeters <= 0 {
		c.DefaultRadiusMeters = models.DefaultRadiusMeters
	}
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = models.DefaultDurationMinutes * time.Minute
	}
	if c.MaxDuration < c.DefaultDuration {
		c.MaxDuration = 4 * time.Hour
		if c.MaxDuration < c.DefaultDuration {
			c.MaxDuration = c.DefaultDuration
		}
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Service issues tokens and commits redemptions.
type Service struct {
	tokens     TokenStore
	ledger     Ledger
	runner     tx.Runner
	cfg        Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	breaker    *circuit.Breaker
	compliance ComplianceAuditor
	security   SecurityAuditor
	ops        OpsTracker
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		s.breaker = b
	}
}

func WithComplianceAuditor(a ComplianceAuditor) Option {
	return func(s *Service) {
		s.compliance = a
	}
}

func WithSecurityAuditor(a SecurityAuditor) Option {
	return func(s *Service) {
		s.security = a
	}
}

func WithOpsTracker(t OpsTracker) Option {
	return func(s *Service) {
		s.ops = t
	}
}

// New constructs a Service. runner defines the unit of work for a commit and
// its compliance event; pass a tx.SQLRunner for Postgres and a
// tx.ShardedRunner otherwise.
func New(tokens TokenStore, ledger Ledger, runner tx.Runner, cfg Config, opts ...Option) *Service {
	s := &Service{
		tokens: tokens,
		ledger: ledger,
		runner: runner,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("rollcall/attendance")
	}
	if s.breaker == nil {
		s.breaker = circuit.New("attendance-store")
	}
	return s
}

// Location is the timezone used for attendance days.
func (s *Service) Location() *time.Location {
	return s.cfg.Location
}
