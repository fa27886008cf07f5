// Package worker relays outbox rows to the message broker.
package worker

import (
	"context"
	"log/slog"
	"time"

	"rollcall/pkg/platform/audit/store/postgres"
)

// Message is one outbox row ready for the broker, keyed by aggregate id so
// events about one user stay ordered within a partition.
type Message struct {
	Key       []byte
	Value     []byte
	EventType string
}

// Sink delivers a batch synchronously; a nil error means every message was acknowledged.
type Sink interface {
	PublishBatch(ctx context.Context, msgs []Message) error
}

// Source hands out claimed outbox batches.
type Source interface {
	ClaimBatch(ctx context.Context, limit int, publish func(context.Context, []postgres.OutboxEntry) error) (int, error)
}

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
)

// Relay polls the outbox and publishes unpublished rows. Delivery is
// at-least-once: a crash between publish and commit republishes the batch.
type Relay struct {
	source       Source
	sink         Sink
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
}

type Option func(*Relay)

func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewRelay(source Source, sink Sink, logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		source:       source,
		sink:         sink,
		logger:       logger,
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is done. Full batches are drained without waiting for the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				n, err := r.RunOnce(ctx)
				if err != nil {
					if ctx.Err() == nil {
						r.logger.WarnContext(ctx, "outbox relay batch failed", "error", err)
					}
					break
				}
				if n < r.batchSize {
					break
				}
			}
		}
	}
}

// RunOnce publishes at most one batch and returns how many rows it published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	return r.source.ClaimBatch(ctx, r.batchSize, func(ctx context.Context, entries []postgres.OutboxEntry) error {
		msgs := make([]Message, len(entries))
		for i, e := range entries {
			msgs[i] = Message{
				Key:       []byte(e.AggregateID),
				Value:     e.Payload,
				EventType: e.EventType,
			}
		}
		return r.sink.PublishBatch(ctx, msgs)
	})
}
