// Package ingest provides safe archive ingestion into a shared filesystem root.
// This file contains functional options for configuration.
package ingest

import (
	"log/slog"
	"time"

	"github.com/jmgilman/go/ingest/internal/rootfs"
	"github.com/jmgilman/go/ingest/internal/scan"
)

// EngineOptions contains optional collaborators for the Engine.
type EngineOptions struct {
	// FS provides filesystem access for the root and staging directory.
	// If nil, a local go-billy filesystem is used.
	FS *rootfs.FS

	// Logger receives structured logs. If nil, logs are discarded.
	Logger *slog.Logger

	// Rules replaces the default content scanning rules.
	Rules *scan.Rules

	// RateLimiter gates uploads per actor. If nil, a token bucket built from
	// the configured rate limit is used.
	RateLimiter RateLimiter

	// AuditSink records pipeline events. If nil, events go to Logger.
	AuditSink AuditSink

	// Metrics receives pipeline counters. If nil, metrics are discarded.
	Metrics Metrics

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// EngineOption is a functional option for configuring the Engine.
type EngineOption func(*EngineOptions)

// DefaultEngineOptions returns options with every collaborator unset.
func DefaultEngineOptions() *EngineOptions {
	return &EngineOptions{Clock: time.Now}
}

// WithFS configures the filesystem used for the root and staging directory.
func WithFS(fsys *rootfs.FS) EngineOption {
	return func(opts *EngineOptions) {
		opts.FS = fsys
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(opts *EngineOptions) {
		opts.Logger = logger
	}
}

// WithRules replaces the content scanning rule table.
func WithRules(rules scan.Rules) EngineOption {
	return func(opts *EngineOptions) {
		opts.Rules = &rules
	}
}

// WithRateLimiter configures the upload rate limiter.
func WithRateLimiter(limiter RateLimiter) EngineOption {
	return func(opts *EngineOptions) {
		opts.RateLimiter = limiter
	}
}

// WithAuditSink configures the audit sink.
func WithAuditSink(sink AuditSink) EngineOption {
	return func(opts *EngineOptions) {
		opts.AuditSink = sink
	}
}

// WithMetrics configures the metrics recorder.
func WithMetrics(m Metrics) EngineOption {
	return func(opts *EngineOptions) {
		opts.Metrics = m
	}
}

// WithClock configures the time source used for staging names and timing.
func WithClock(clock func() time.Time) EngineOption {
	return func(opts *EngineOptions) {
		opts.Clock = clock
	}
}
