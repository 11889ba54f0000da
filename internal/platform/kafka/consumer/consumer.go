// Package consumer wraps the franz-go consumer group client behind a small
// message-handler seam so domain code never sees Kafka types.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is one consumed record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Handler processes one message. Delivery is at-least-once: a message whose
// handler fails is redelivered, so handlers must be idempotent.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Config holds consumer group settings.
type Config struct {
	Brokers []string
	GroupID string
	Topics  []string
}

// Consumer polls a consumer group and dispatches records synchronously.
// Offsets commit only after the handler returns nil.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	logger  *slog.Logger
}

// New connects a consumer group client.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("consumer group id is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Consumer{client: client, handler: handler, logger: logger}, nil
}

// Run polls until the context is cancelled. Each record is handled in poll
// order; a failed record parks its partition for the rest of the poll so no
// later offset is committed past it, and the whole tail is redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.ErrorContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err.Error(),
			)
		})

		done := c.dispatch(ctx, fetches.Records())
		if len(done) == 0 {
			continue
		}
		if err := c.client.CommitRecords(ctx, done...); err != nil {
			c.logger.ErrorContext(ctx, "commit failed",
				"records", len(done),
				"error", err.Error(),
			)
		}
	}
}

type topicPartition struct {
	topic     string
	partition int32
}

// dispatch handles records in order and returns the ones safe to commit.
// After a handler failure, the remaining records of that partition are
// skipped; committing any of them would advance the group offset past the
// failed record and lose it.
func (c *Consumer) dispatch(ctx context.Context, records []*kgo.Record) []*kgo.Record {
	parked := make(map[topicPartition]bool)
	var done []*kgo.Record
	for _, rec := range records {
		tp := topicPartition{topic: rec.Topic, partition: rec.Partition}
		if parked[tp] {
			continue
		}
		msg := &Message{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Key:       rec.Key,
			Value:     rec.Value,
			Timestamp: rec.Timestamp,
		}
		if err := c.handler.Handle(ctx, msg); err != nil {
			parked[tp] = true
			c.logger.ErrorContext(ctx, "message handler failed, leaving partition uncommitted",
				"topic", rec.Topic,
				"partition", rec.Partition,
				"offset", rec.Offset,
				"error", err.Error(),
			)
			continue
		}
		done = append(done, rec)
	}
	return done
}

// Close shuts the client down, leaving uncommitted offsets for the next
// instance.
func (c *Consumer) Close() {
	c.client.Close()
}
