package consumer

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func record(topic string, partition int32, offset int64, value string) *kgo.Record {
	return &kgo.Record{Topic: topic, Partition: partition, Offset: offset, Value: []byte(value)}
}

func newDispatcher(handler Handler) *Consumer {
	return &Consumer{handler: handler, logger: slog.New(slog.DiscardHandler)}
}

func TestDispatchCommitsEveryHandledRecord(t *testing.T) {
	var handled []string
	c := newDispatcher(HandlerFunc(func(_ context.Context, msg *Message) error {
		handled = append(handled, string(msg.Value))
		return nil
	}))

	done := c.dispatch(context.Background(), []*kgo.Record{
		record("events", 0, 1, "a"),
		record("events", 0, 2, "b"),
		record("events", 1, 7, "c"),
	})

	assert.Equal(t, []string{"a", "b", "c"}, handled)
	assert.Len(t, done, 3)
}

func TestDispatchParksPartitionAfterFailure(t *testing.T) {
	var handled []string
	c := newDispatcher(HandlerFunc(func(_ context.Context, msg *Message) error {
		if string(msg.Value) == "bad" {
			return errors.New("boom")
		}
		handled = append(handled, string(msg.Value))
		return nil
	}))

	done := c.dispatch(context.Background(), []*kgo.Record{
		record("events", 0, 1, "p0-first"),
		record("events", 0, 2, "bad"),
		record("events", 0, 3, "p0-after-failure"),
		record("events", 1, 5, "p1-only"),
	})

	// The record behind the failure must neither be handled nor committed;
	// committing offset 3 would advance the group past the failed offset 2.
	assert.Equal(t, []string{"p0-first", "p1-only"}, handled)
	require.Len(t, done, 2)
	assert.Equal(t, int64(1), done[0].Offset)
	assert.Equal(t, int32(0), done[0].Partition)
	assert.Equal(t, int64(5), done[1].Offset)
	assert.Equal(t, int32(1), done[1].Partition)
}

func TestDispatchParksPerPartitionNotPerTopic(t *testing.T) {
	c := newDispatcher(HandlerFunc(func(_ context.Context, msg *Message) error {
		if msg.Partition == 0 {
			return errors.New("boom")
		}
		return nil
	}))

	done := c.dispatch(context.Background(), []*kgo.Record{
		record("events", 0, 1, "a"),
		record("events", 1, 1, "b"),
		record("events", 1, 2, "c"),
	})

	require.Len(t, done, 2)
	for _, rec := range done {
		assert.Equal(t, int32(1), rec.Partition)
	}
}
