package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/appgate/pkg/contextkeys"
)

type logEntry struct {
	Level     string `json:"level"`
	Message   string `json:"msg"`
	Error     string `json:"error"`
	AppKey    string `json:"app_key"`
	RequestID string `json:"request_id"`
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) logEntry {
	t.Helper()
	var entry logEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Debug("debug message")
	assert.Zero(t, buf.Len(), "debug must not be logged at info level")

	logger.Warn("warn message")
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "warn message", entry.Message)
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithFields(map[string]interface{}{"app_key": "acme"}).WithError(errors.New("boom")).Errorf("failed %d", 1)
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "ERROR", entry.Level)
	assert.Equal(t, "failed 1", entry.Message)
	assert.Equal(t, "boom", entry.Error)
	assert.Equal(t, "acme", entry.AppKey)

	assert.Same(t, logger, logger.WithError(nil))
	assert.Same(t, logger, logger.WithFields(nil))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, InfoLevel, ParseLogLevel("nonsense"))
	assert.Equal(t, "WARN", WarnLevel.String())
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := contextkeys.WithLogger(context.Background(), logger)
	ctx = contextkeys.WithRequestID(ctx, "req-1")
	FromContext(ctx).Info("hello")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "req-1", entry.RequestID)
}

func TestNopLogger(t *testing.T) {
	NopLogger().Error("discarded")
}
