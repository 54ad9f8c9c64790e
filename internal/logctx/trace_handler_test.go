package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

// spanContextFor builds a context carrying a span with fixed, valid ids.
func spanContextFor(t *testing.T) context.Context {
	t.Helper()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})

	return trace.ContextWithSpanContext(context.Background(), spanCtx)
}

func captureRecord(t *testing.T, ctx context.Context) map[string]interface{} {
	t.Helper()

	var buf bytes.Buffer

	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))
	logger.InfoContext(ctx, "fetching file", "resource_id", "acme/llama-7b")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func TestTraceHandlerWithoutSpan(t *testing.T) {
	entry := captureRecord(t, context.Background())

	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.Equal(t, "fetching file", entry["msg"])
	assert.Equal(t, "acme/llama-7b", entry["resource_id"])
}

func TestTraceHandlerInjectsSpanIdentifiers(t *testing.T) {
	entry := captureRecord(t, spanContextFor(t))

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
	assert.Equal(t, "fetching file", entry["msg"])
}

func TestTraceHandlerEnabledDelegates(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx := context.Background()

	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelWarn))
	assert.True(t, h.Enabled(ctx, slog.LevelError))
}

func TestTraceHandlerWithAttrsKeepsWrapping(t *testing.T) {
	var buf bytes.Buffer

	h := NewTraceHandler(slog.NewJSONHandler(&buf, nil)).WithAttrs([]slog.Attr{slog.String("component", "coordinator")})

	require.IsType(t, &TraceHandler{}, h)

	slog.New(h).InfoContext(spanContextFor(t), "starting transfer")

	out := buf.String()
	assert.Contains(t, out, `"component":"coordinator"`)
	assert.Contains(t, out, "trace_id", "decoration must survive WithAttrs")
}

func TestTraceHandlerWithGroupKeepsWrapping(t *testing.T) {
	var buf bytes.Buffer

	h := NewTraceHandler(slog.NewJSONHandler(&buf, nil)).WithGroup("transfer")

	require.IsType(t, &TraceHandler{}, h)

	slog.New(h).InfoContext(context.Background(), "starting transfer", "file_count", 2)

	assert.True(t, strings.Contains(buf.String(), "transfer"))
}

func TestTraceHandlerNilHandlerPanics(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}
