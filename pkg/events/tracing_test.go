package events

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return exporter
}

func TestHeaderCarrier(t *testing.T) {
	headers := []kafka.Header{{Key: "event_type", Value: []byte(TypeEnded)}}
	c := headerCarrier{&headers}

	c.Set("traceparent", "a")
	c.Set("traceparent", "b")

	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Equal(t, "", c.Get("tracestate"))
	assert.Equal(t, []string{"event_type", "traceparent"}, c.Keys())
}

func TestTraceContext_ProducerToConsumer(t *testing.T) {
	exporter := installTracer(t)

	ctx, parent := otel.Tracer("test").Start(context.Background(), "login")
	w := &recordingWriter{}
	p := newProducer(w, DefaultProducerConfig(nil, "siraat.session.events"), testLogger())
	event, err := NewEvent(TypeSignedIn, "u-1", "svc", nil)
	require.NoError(t, err)
	require.NoError(t, p.Publish(ctx, event))
	parent.End()

	require.Len(t, w.msgs, 1)
	assert.NotEmpty(t, header(w.msgs[0], "traceparent"))
	assert.Equal(t, TypeSignedIn, header(w.msgs[0], "event_type"))

	var got trace.SpanContext
	handler := func(ctx context.Context, _ *Event) error {
		got = trace.SpanContextFromContext(ctx)
		return nil
	}
	r := newFakeReader(w.msgs[0])
	c := newConsumer(r, ConsumerConfig{Topic: "siraat.session.events"}, handler, testLogger())
	runUntilDrained(t, c, r)

	require.True(t, got.IsValid())
	assert.Equal(t, parent.SpanContext().TraceID(), got.TraceID())

	names := map[string]trace.SpanKind{}
	for _, s := range exporter.GetSpans() {
		names[s.Name] = s.SpanKind
	}
	assert.Equal(t, trace.SpanKindProducer, names["siraat.session.events publish"])
	assert.Equal(t, trace.SpanKindConsumer, names["siraat.session.events receive"])
}
