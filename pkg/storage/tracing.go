package storage

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/siraat/companion/pkg/logger"
)

const tracerName = "github.com/siraat/companion/pkg/storage"

// tracedStore wraps a Store with a client span per operation and a warning
// for operations slower than slowOp.
type tracedStore struct {
	next    Store
	backend string
	slowOp  time.Duration
}

// Traced wraps next so every operation is traced. A zero slowOp disables
// slow-operation logging.
func Traced(next Store, backend string, slowOp time.Duration) Store {
	return &tracedStore{next: next, backend: backend, slowOp: slowOp}
}

func (s *tracedStore) trace(ctx context.Context, operation string, keys int) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "kv."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", s.backend),
			attribute.String("db.operation", operation),
			attribute.Int("kv.keys", keys),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if s.slowOp <= 0 {
			return
		}
		if elapsed := time.Since(start); elapsed >= s.slowOp {
			attrs := []any{
				slog.String("backend", s.backend),
				slog.String("operation", operation),
				slog.Duration("duration", elapsed),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			logger.FromContext(ctx).WarnContext(ctx, "slow token store operation", attrs...)
		}
	}
}

func (s *tracedStore) Get(ctx context.Context, key string) (v string, ok bool, err error) {
	ctx, end := s.trace(ctx, "get", 1)
	defer func() { end(err) }()
	return s.next.Get(ctx, key)
}

func (s *tracedStore) SetMany(ctx context.Context, entries map[string]string) (err error) {
	ctx, end := s.trace(ctx, "set", len(entries))
	defer func() { end(err) }()
	return s.next.SetMany(ctx, entries)
}

func (s *tracedStore) Delete(ctx context.Context, keys ...string) (err error) {
	ctx, end := s.trace(ctx, "delete", len(keys))
	defer func() { end(err) }()
	return s.next.Delete(ctx, keys...)
}

func (s *tracedStore) Ping(ctx context.Context) (err error) {
	ctx, end := s.trace(ctx, "ping", 0)
	defer func() { end(err) }()
	return s.next.Ping(ctx)
}

func (s *tracedStore) Close() error {
	return s.next.Close()
}
