// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/wingedbean/wingedbean/pkg/errutil"
)

func newJSON(t *testing.T, buf *bytes.Buffer, level string) *slog.Logger {
	t.Helper()
	logger, err := New(Options{Service: "wingedbean", Version: "1.0.0", Format: FormatJSON, Level: level, Writer: buf})
	require.NoError(t, err)
	return logger
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "output: %s", buf.String())
	return entry
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	newJSON(t, &buf, "").Info("plugin state changed", "plugin", "echo")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "plugin state changed", entry["msg"])
	assert.Equal(t, "wingedbean", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.Equal(t, "echo", entry["plugin"])
	assert.Contains(t, entry, "time")
	assert.NotContains(t, entry, "trace_id")
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Service: "wingedbean", Format: FormatText, Writer: &buf})
	require.NoError(t, err)

	logger.Info("test message")
	assert.Contains(t, buf.String(), "test message")
	assert.Contains(t, buf.String(), "service=wingedbean")
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSON(t, &buf, "warn")

	logger.Info("dropped")
	assert.Empty(t, buf.String())

	logger.Warn("kept")
	assert.Equal(t, "kept", decodeEntry(t, &buf)["msg"])
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(Options{Format: "xml"})
	errutil.AssertErrorCode(t, err, "INVALID_LOG_FORMAT")

	_, err = New(Options{Level: "loud"})
	errutil.AssertErrorCode(t, err, "INVALID_LOG_LEVEL")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestHandler_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSON(t, &buf, "")

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	logger.With("instance", "01J").InfoContext(ctx, "traced message")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
	assert.Equal(t, "01J", entry["instance"])
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	logger, err := SetDefault(Options{Service: "test-service", Version: "2.0.0"})
	require.NoError(t, err)
	assert.Same(t, logger, slog.Default())
}
