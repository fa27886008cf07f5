//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"rollcall/internal/platform/config"
	"rollcall/pkg/platform/audit/worker"
	"rollcall/pkg/testutil/containers"
)

func TestProducer_PublishBatch(t *testing.T) {
	rp := containers.NewRedpandaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	producer, err := NewProducer(config.Kafka{Brokers: rp.Brokers, Topic: "rollcall.audit.test"})
	require.NoError(t, err)
	defer producer.Close()

	require.NoError(t, producer.EnsureTopic(ctx, 1, 1))
	require.NoError(t, producer.EnsureTopic(ctx, 1, 1), "second call tolerates an existing topic")

	err = producer.PublishBatch(ctx, []worker.Message{
		{Key: []byte("user-1"), Value: []byte(`{"action":"attendance_marked"}`), EventType: "attendance_marked"},
		{Key: []byte("user-2"), Value: []byte(`{"action":"token_issued"}`), EventType: "token_issued"},
	})
	require.NoError(t, err)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Brokers...),
		kgo.ConsumeTopics("rollcall.audit.test"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var got []*kgo.Record
	for len(got) < 2 {
		fetches := consumer.PollFetches(ctx)
		require.NoError(t, ctx.Err())
		fetches.EachRecord(func(r *kgo.Record) { got = append(got, r) })
	}

	types := map[string]bool{}
	for _, r := range got {
		for _, h := range r.Headers {
			if h.Key == eventTypeHeader {
				types[string(h.Value)] = true
			}
		}
	}
	assert.True(t, types["attendance_marked"])
	assert.True(t, types["token_issued"])
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(config.Kafka{Topic: "x"})
	require.Error(t, err)
}
