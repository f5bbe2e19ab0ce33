package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/siraat/companion/internal/config"
	"github.com/siraat/companion/pkg/events"
	"github.com/siraat/companion/pkg/siraat"
	"github.com/siraat/companion/pkg/storage"
)

// Core is what every entry point needs: the KV area holding the session, the
// API client bound to it, and the optional session event producer.
type Core struct {
	KV       storage.Store
	Client   *siraat.Client
	Producer *events.Producer
}

// NewCore opens the token store and builds the session and API client.
// Lifecycle callbacks are logged and, with KAFKA_BROKERS set, published.
func NewCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Core, error) {
	kv, err := storage.Open(ctx, cfg.Storage())
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}

	api := cfg.API()
	coord := siraat.NewSession(kv, api, logger)
	coord.Observe(NewLoggingObserver(logger))

	core := &Core{KV: kv}
	if len(cfg.KafkaBrokers) > 0 {
		core.Producer = events.NewProducer(
			events.DefaultProducerConfig(cfg.KafkaBrokers, cfg.KafkaSessionTopic),
			logger,
		)
		coord.Observe(events.NewPublisher(core.Producer, config.ServiceName, logger))
		logger.Info("publishing session events",
			slog.String("topic", cfg.KafkaSessionTopic),
			slog.Any("brokers", cfg.KafkaBrokers),
		)
	}

	core.Client = siraat.NewClient(coord, api, logger)
	return core, nil
}

// Close flushes the event producer, then closes the token store.
func (c *Core) Close(ctx context.Context) error {
	var errs []error
	if c.Producer != nil {
		done := make(chan error, 1)
		go func() { done <- c.Producer.Close() }()
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("close kafka producer: %w", err))
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("close kafka producer: %w", ctx.Err()))
		}
	}
	if err := c.KV.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close token store: %w", err))
	}
	return errors.Join(errs...)
}
