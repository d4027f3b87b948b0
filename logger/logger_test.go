package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewWithWriter_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, true, "info")

	log.Debug("hidden")
	log.Info("sale recorded", "sale_id", "s-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "sale recorded", line["msg"])
	assert.Equal(t, "s-1", line["sale_id"])
}

func TestWithCtx(t *testing.T) {
	// GIVEN: a context without a logger
	assert.Same(t, slog.Default(), WithCtx(context.Background()))

	// WHEN: a request logger is injected
	var buf bytes.Buffer
	reqLog := NewWithWriter(&buf, false, "info").With("request_id", "r-42")
	ctx := InjectLogger(context.Background(), reqLog)

	// THEN: it is returned and carries the request id
	WithCtx(ctx).Info("hello")
	assert.Contains(t, buf.String(), "request_id=r-42")
}
