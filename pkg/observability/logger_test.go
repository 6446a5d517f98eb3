package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	logger.Info("hello")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Info("suppressed")
	assert.Empty(t, buf.String())

	logger.Warn("emitted")
	assert.NotEmpty(t, buf.String())
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("provider", "adfs").
		WithFields(map[string]interface{}{"service": "https://app.example.com"}).
		Info("redirect issued")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "adfs", entry["provider"])
	assert.Equal(t, "https://app.example.com", entry["service"])
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(errors.New("boom")).Error("failed")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "boom", entry["error"])

	// nil error leaves the logger unchanged
	assert.Equal(t, logger, logger.WithError(nil))
}

func TestContextCarriesRequestIDAndProvider(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetProvider(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithProvider(ctx, "adfs")
	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "adfs", GetProvider(ctx))
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithProvider(ctx, "okta")

	FromContext(ctx).Info("callback received")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "okta", entry["provider"])
}
