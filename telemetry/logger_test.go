package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/musterops/muster/types"
)

func captureLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).With().Timestamp().Logger().Hook(OTELHook{})
	return &Logger{Logger: logger}, &buf
}

func TestLogCollectorError(t *testing.T) {
	logger, buf := captureLogger()

	logger.LogCollectorError(context.Background(), "123456789012", "us-east-1",
		types.KindComputeInstance, errors.New("throttled"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "123456789012", entry["account_id"])
	assert.Equal(t, "us-east-1", entry["region"])
	assert.Equal(t, "compute_instance", entry["kind"])
	assert.Equal(t, "collector failed", entry["message"])
}

func TestLogAccountFailure(t *testing.T) {
	logger, buf := captureLogger()

	logger.LogAccountFailure(context.Background(), "platform", "123456789012",
		errors.New("assume role denied"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "platform", entry["account_name"])
	assert.Equal(t, "error", entry["level"])
}

func TestLogRunComplete(t *testing.T) {
	logger, buf := captureLogger()

	logger.LogRunComplete(context.Background(), 42, 1, 3, 1234.5)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, float64(42), entry["records"])
	assert.Equal(t, float64(1), entry["failures"])
	assert.Equal(t, float64(3), entry["collector_errors"])
}

func TestLogSpanStart(t *testing.T) {
	logger, buf := captureLogger()

	logger.LogSpanStart(context.Background(), "collect.account",
		attribute.String("account_id", "123456789012"),
		attribute.Int("tasks", 7))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "collect.account", entry["span_name"])
	assert.Equal(t, "123456789012", entry["account_id"])
	assert.Equal(t, float64(7), entry["tasks"])
	assert.Equal(t, "span started", entry["message"])
}

func TestLogSpanEnd(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantLevel string
		wantMsg   string
	}{
		{"success", nil, "debug", "span completed"},
		{"failure", errors.New("batch write failed"), "error", "span failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := captureLogger()

			logger.LogSpanEnd(context.Background(), "storage.save", tt.err)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, "storage.save", entry["span_name"])
			assert.Equal(t, tt.wantMsg, entry["message"])
		})
	}
}
