package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerConfig configures the session event writer. Events are small and
// rare, so writes are async and flushed after BatchTimeout.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Async        bool
}

// DefaultProducerConfig targets topic on brokers with async batched writes.
func DefaultProducerConfig(brokers []string, topic string) ProducerConfig {
	return ProducerConfig{
		Brokers:      brokers,
		Topic:        topic,
		BatchSize:    50,
		BatchTimeout: 20 * time.Millisecond,
		Async:        true,
	}
}

// messageWriter is the part of *kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes session events to one topic.
type Producer struct {
	writer  messageWriter
	topic   string
	brokers []string
	logger  *slog.Logger
}

// NewProducer builds a Producer on a kafka-go writer that partitions by key.
func NewProducer(cfg ProducerConfig, logger *slog.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Async:        cfg.Async,
		RequiredAcks: kafka.RequireOne,
	}, cfg, logger)
}

func newProducer(w messageWriter, cfg ProducerConfig, logger *slog.Logger) *Producer {
	return &Producer{writer: w, topic: cfg.Topic, brokers: cfg.Brokers, logger: logger}
}

// Publish sends an event keyed by its subject, so one user's events stay
// ordered within a partition. The caller's trace context travels in the
// message headers.
func (p *Producer) Publish(ctx context.Context, event *Event) (err error) {
	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:     []byte(event.Subject),
		Value:   data,
		Headers: eventHeaders(event),
	}
	ctx, span := startPublishSpan(ctx, p.topic, event, &msg)
	defer func() { endSpan(span, err) }()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		PublishErrors.WithLabelValues(event.EventType).Inc()
		p.logger.ErrorContext(ctx, "event not published",
			slog.String("topic", p.topic),
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish %s to %s: %w", event.EventType, p.topic, err)
	}

	Published.WithLabelValues(event.EventType).Inc()
	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", p.topic),
		slog.String("event_type", event.EventType),
		slog.String("event_id", event.EventID),
	)
	return nil
}

func eventHeaders(event *Event) []kafka.Header {
	h := []kafka.Header{
		{Key: "event_type", Value: []byte(event.EventType)},
		{Key: "source", Value: []byte(event.Source)},
	}
	if event.CorrelationID != "" {
		h = append(h, kafka.Header{Key: "correlation_id", Value: []byte(event.CorrelationID)})
	}
	return h
}

// Ping reports whether any configured broker answers a metadata request.
func (p *Producer) Ping(ctx context.Context) error {
	return PingBrokers(ctx, p.brokers)
}

// PingBrokers tries each broker in turn and stops at the first that lists
// the cluster. The error joins every broker's failure.
func PingBrokers(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	var errs []error
	for _, addr := range brokers {
		err := pingBroker(ctx, addr)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return fmt.Errorf("kafka unreachable: %w", errors.Join(errs...))
}

func pingBroker(ctx context.Context, addr string) error {
	conn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	_, err = conn.Brokers()
	return err
}

// Close flushes buffered events and releases the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
