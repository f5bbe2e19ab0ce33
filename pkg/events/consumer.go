package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// maxHandlerAttempts bounds how often a handler sees one message before it is
// committed and skipped.
const maxHandlerAttempts = 3

// Handler processes one session event.
type Handler func(ctx context.Context, event *Event) error

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	// GroupID enables committed offsets. Empty reads the topic from
	// StartOffset without a group.
	GroupID     string
	StartOffset int64
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads session events from a topic.
type Consumer struct {
	reader    messageReader
	grouped   bool
	topic     string
	handler   Handler
	logger    *slog.Logger
	backoff   time.Duration
	closeOnce sync.Once
}

// NewConsumer creates a Consumer calling handler for every event.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	rc := kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	}
	if cfg.GroupID == "" {
		rc.StartOffset = cfg.StartOffset
	}
	return newConsumer(kafka.NewReader(rc), cfg, handler, logger)
}

func newConsumer(r messageReader, cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:  r,
		grouped: cfg.GroupID != "",
		topic:   cfg.Topic,
		handler: handler,
		logger:  logger,
		backoff: 100 * time.Millisecond,
	}
}

// Run consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started", slog.String("topic", c.topic))
	defer func() { _ = c.Close() }()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		event, err := UnmarshalEvent(msg.Value)
		if err != nil {
			Consumed.WithLabelValues("malformed").Inc()
			c.logger.Error("failed to unmarshal event",
				slog.String("error", err.Error()),
				slog.Int64("offset", msg.Offset),
			)
			c.commit(ctx, msg)
			continue
		}

		if !Known(event.EventType) {
			Consumed.WithLabelValues("ignored").Inc()
			c.logger.Debug("ignoring unknown event type",
				slog.String("event_type", event.EventType),
				slog.Int64("offset", msg.Offset),
			)
			c.commit(ctx, msg)
			continue
		}

		spanCtx, span := startConsumeSpan(ctx, c.topic, &msg)
		err = c.handle(spanCtx, event)
		endSpan(span, err)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			Consumed.WithLabelValues("failed").Inc()
			c.logger.Error("handler failed after all attempts, skipping event",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
				slog.String("error", err.Error()),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
		} else {
			Consumed.WithLabelValues("handled").Inc()
		}
		c.commit(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, event *Event) error {
	var err error
	for attempt := 1; attempt <= maxHandlerAttempts; attempt++ {
		if err = c.handler(ctx, event); err == nil {
			return nil
		}
		c.logger.Warn("handler failed, will retry",
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()),
			slog.Int("attempt", attempt),
		)
		if attempt < maxHandlerAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}
	}
	return err
}

// commit is a no-op without a consumer group.
func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if !c.grouped {
		return
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		c.logger.Error("failed to commit message", slog.String("error", err.Error()))
	}
}

// Close closes the reader. It is safe to call more than once.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}
