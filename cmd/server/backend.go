package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rollcall/internal/attendance/service"
	"rollcall/internal/attendance/store/ledger"
	"rollcall/internal/attendance/store/token"
	"rollcall/internal/platform/config"
	"rollcall/internal/platform/kafka"
	"rollcall/internal/platform/postgres"
	"rollcall/internal/platform/redis"
	ratelimit "rollcall/internal/ratelimit/middleware"
	"rollcall/internal/ratelimit/store/bucket"
	httptransport "rollcall/internal/transport/http"
	"rollcall/pkg/platform/audit"
	auditmemory "rollcall/pkg/platform/audit/store/memory"
	auditpostgres "rollcall/pkg/platform/audit/store/postgres"
	"rollcall/pkg/platform/audit/worker"
	"rollcall/pkg/platform/tx"
)

const (
	outboxPurgeInterval = time.Hour
	outboxRetention     = 7 * 24 * time.Hour
)

// backend is the storage wiring for one storage.backend value.
type backend struct {
	tokens     service.TokenStore
	ledger     service.Ledger
	runner     tx.Runner
	auditStore audit.Store
	buckets    ratelimit.Store
	checks     map[string]httptransport.HealthCheck

	relay  *worker.Relay
	outbox *auditpostgres.Store
	logger *slog.Logger

	closers []func()
}

func buildBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backend, error) {
	b := &backend{
		checks: map[string]httptransport.HealthCheck{},
		logger: log,
	}

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		b.tokens = token.NewInMemoryStore()
		b.ledger = ledger.NewInMemoryStore()
		b.runner = tx.NewShardedRunner(cfg.Postgres.TxTimeout)
		b.auditStore = auditmemory.NewInMemoryStore()
		b.buckets = bucket.NewInMemoryBucketStore()

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		b.closers = append(b.closers, func() { _ = db.Close() })
		b.checks["postgres"] = db.Health

		b.tokens = token.NewPostgres(db.DB)
		b.ledger = ledger.NewPostgres(db.DB)
		b.runner = tx.NewSQLRunner(db.DB, cfg.Postgres.TxTimeout)
		b.outbox = auditpostgres.New(db.DB)
		b.auditStore = b.outbox
		b.buckets = bucket.NewInMemoryBucketStore()

		if cfg.Kafka.Enabled {
			if err := b.startRelay(ctx, cfg.Kafka, log); err != nil {
				b.close()
				return nil, err
			}
		}

	case config.BackendRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.checks["redis"] = client.Health

		b.tokens = token.NewRedis(client.Client, token.WithKeyGrace(cfg.Attendance.RetentionGrace))
		b.ledger = ledger.NewRedis(client.Client)
		b.runner = tx.NewShardedRunner(cfg.Postgres.TxTimeout)
		b.auditStore = auditmemory.NewInMemoryStore()
		b.buckets = bucket.NewRedis(client.Client)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	log.Info("storage backend ready", "backend", cfg.Storage.Backend)
	return b, nil
}

func (b *backend) startRelay(ctx context.Context, cfg config.Kafka, log *slog.Logger) error {
	producer, err := kafka.NewProducer(cfg)
	if err != nil {
		return fmt.Errorf("create kafka producer: %w", err)
	}
	b.closers = append(b.closers, producer.Close)

	if err := producer.EnsureTopic(ctx, cfg.Partitions, cfg.Replication); err != nil {
		return fmt.Errorf("ensure topic %s: %w", cfg.Topic, err)
	}
	b.checks["kafka"] = producer.Health
	b.relay = worker.NewRelay(b.outbox, producer, log,
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithBatchSize(cfg.BatchSize),
	)
	return nil
}

// purgeOutbox deletes relayed outbox rows once they fall out of retention.
func (b *backend) purgeOutbox(ctx context.Context) error {
	ticker := time.NewTicker(outboxPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := b.outbox.PurgePublished(ctx, time.Now().Add(-outboxRetention))
			if err != nil {
				if ctx.Err() == nil {
					b.logger.WarnContext(ctx, "outbox purge failed", "error", err)
				}
				continue
			}
			if n > 0 {
				b.logger.InfoContext(ctx, "outbox purged", "rows", n)
			}
		}
	}
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}
