// Package ingest provides safe archive ingestion into a shared filesystem root.
// This file contains logger construction and run logging helpers.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLogLevel parses a string log level into a slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// NewLogger creates a structured logger writing to w.
// Unknown levels fall back to info; format "text" selects the text handler,
// anything else JSON.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	level, _ := ParseLogLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// NewNopLogger creates a logger that discards all records.
func NewNopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// logRun logs the end of a pipeline run. logger is expected to carry the
// artifact and actor attributes.
func logRun(ctx context.Context, logger *slog.Logger, a *UploadedArtifact, r *Report, err error) {
	fields := []any{
		"saved_name", a.SavedName,
		"mode", string(r.Mode),
		"state", r.State.String(),
		"duration_ms", r.Elapsed.Milliseconds(),
		"extracted", r.ExtractedCount,
		"rejected", r.RejectedCount,
		"skipped", r.SkippedCount,
		"bytes", r.TotalBytes,
	}

	if err != nil {
		logger.ErrorContext(ctx, "ingestion aborted", append(fields, "reason", Code(err), "error", err.Error())...)
		return
	}

	logger.InfoContext(ctx, "ingestion completed", fields...)
	if len(r.FailedEntries) > 0 {
		logger.WarnContext(ctx, "some archive entries failed", "failed_entries", r.FailedEntries)
	}
}
