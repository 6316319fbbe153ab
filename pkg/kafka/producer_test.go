package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

func headerMap(t *testing.T, p *Producer, ctx context.Context, event *RecordEvent) (map[string]string, RecordEvent) {
	t.Helper()
	msg, err := p.message(ctx, event)
	require.NoError(t, err)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var decoded RecordEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	return headers, decoded
}

func TestProducer_MessageCarriesTraceContext(t *testing.T) {
	p := &Producer{topic: "sorrel.records"}

	t.Run("without tracing", func(t *testing.T) {
		tracing.SetTracer(nil)
		headers, decoded := headerMap(t, p, context.Background(), &RecordEvent{EventType: EventRecordMerged, Kind: "record", EntityID: "r1"})
		assert.Equal(t, EventRecordMerged, headers["event_type"])
		assert.Equal(t, SchemaVersion, headers["schema_version"])
		assert.NotContains(t, headers, "traceparent")
		assert.Empty(t, decoded.TraceID)
	})

	t.Run("with an active span", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		tracing.SetTracer(tp.Tracer("test"))
		t.Cleanup(func() { tracing.SetTracer(nil) })

		ctx, span := tracing.StartSpan(context.Background(), "merge")
		defer span.End()

		headers, decoded := headerMap(t, p, ctx, &RecordEvent{EventType: EventRecordMerged, Kind: "record", EntityID: "r1"})
		traceID := span.SpanContext().TraceID().String()
		assert.Equal(t, "00-"+traceID+"-"+span.SpanContext().SpanID().String()+"-01", headers["traceparent"])
		assert.Equal(t, traceID, decoded.TraceID)
	})
}
