package ingest

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLogLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "key=value")

	buf.Reset()
	NewLogger(LogConfig{Level: "info", Format: "json"}, &buf).Info("structured")
	assert.Contains(t, buf.String(), `"msg":"structured"`)
}

func TestLogRun(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "text"}, &buf)

	res := testResult(ModeMerge)
	logRun(context.Background(), logger, res.Artifact, res.Report, nil)
	out := buf.String()
	assert.Contains(t, out, "ingestion completed")
	assert.Contains(t, out, "extracted=1")
	assert.Contains(t, out, "some archive entries failed")

	buf.Reset()
	res.Report.State = StateAborted
	logRun(context.Background(), logger, res.Artifact, res.Report, NewIngestError("inspect", "game.zip", "too many entries", ErrBombDetected))
	out = buf.String()
	require.Contains(t, out, "ingestion aborted")
	assert.Contains(t, out, "reason=bomb_detected")
}
