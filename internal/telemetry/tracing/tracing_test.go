package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopTracerNeverStartsRealSpan(t *testing.T) {
	tr := NewTracer(false)
	assert.True(t, tr.Noop())
	ctx, sp := tr.StartSpan(context.Background(), "test")
	assert.True(t, sp.IsEnded())
	traceID, spanID := ExtractIDs(ctx)
	assert.Empty(t, traceID)
	assert.Empty(t, spanID)
}

func TestEnabledTracerStartsAndEndsSpan(t *testing.T) {
	tr := NewTracer(true)
	ctx, sp := tr.StartSpan(context.Background(), "ingest")
	assert.False(t, sp.IsEnded())
	sp.End()
	assert.True(t, sp.IsEnded())

	traceID, spanID := ExtractIDs(ctx)
	assert.NotEmpty(t, traceID)
	assert.NotEmpty(t, spanID)
}

func TestChildSpanInheritsParentTraceID(t *testing.T) {
	tr := NewTracer(true)
	ctx, parent := tr.StartSpan(context.Background(), "root")
	childCtx, child := tr.StartSpan(ctx, "child")

	assert.Equal(t, parent.Context().TraceID, child.Context().TraceID)
	assert.Equal(t, parent.Context().SpanID, child.Context().ParentSpanID)
	_ = childCtx
}

func TestAdaptiveTracerZeroPercentNeverSamples(t *testing.T) {
	tr := NewAdaptiveTracer(func() float64 { return 0 })
	_, sp := tr.StartSpan(context.Background(), "root")
	assert.True(t, sp.IsEnded())
}

func TestExtractIDsOnBareContextIsEmpty(t *testing.T) {
	traceID, spanID := ExtractIDs(context.Background())
	assert.Empty(t, traceID)
	assert.Empty(t, spanID)
}
