// Package ingest provides safe archive ingestion into a shared filesystem root.
// This file contains the collaborator interfaces consumed by the pipeline.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ActionUpload is the rate-limited action name for archive uploads.
const ActionUpload = "upload"

// Audit event kinds.
const (
	EventUploadReceived  = "upload.received"
	EventUploadRejected  = "upload.rejected"
	EventEntryRejected   = "ingest.entry_rejected"
	EventFolderRemoved   = "ingest.folder_removed"
	EventIngestCompleted = "ingest.completed"
	EventIngestAborted   = "ingest.aborted"
)

// ActorContext identifies the actor performing an upload. It is passed
// explicitly into the pipeline; session handling stays with the caller.
type ActorContext struct {
	Identity      string
	Authenticated bool
}

// IsAuthenticated reports whether the actor is authenticated with a non-empty identity.
func (a ActorContext) IsAuthenticated() bool {
	return a.Authenticated && a.Identity != ""
}

// RateLimiter decides whether an actor may perform an action now.
type RateLimiter interface {
	TryAcquire(action, actor string) bool
}

// AuditSink records pipeline events. Implementations must be safe for
// concurrent use and must not block for long.
type AuditSink interface {
	Record(ctx context.Context, kind string, attrs map[string]any)
}

// AllowAll is a RateLimiter that never limits.
type AllowAll struct{}

// TryAcquire always returns true.
func (AllowAll) TryAcquire(string, string) bool { return true }

// NopAuditSink discards every event.
type NopAuditSink struct{}

// Record does nothing.
func (NopAuditSink) Record(context.Context, string, map[string]any) {}

// SlogAuditSink writes audit events as structured log records.
type SlogAuditSink struct {
	logger *slog.Logger
}

// NewSlogAuditSink creates an AuditSink backed by logger.
func NewSlogAuditSink(logger *slog.Logger) *SlogAuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditSink{logger: logger.With("component", "audit")}
}

// Record logs the event at info level, or warn level for rejections and aborts.
func (s *SlogAuditSink) Record(ctx context.Context, kind string, attrs map[string]any) {
	args := make([]any, 0, len(attrs)*2+2)
	args = append(args, "event", kind)
	for k, v := range attrs {
		args = append(args, k, v)
	}

	level := slog.LevelInfo
	switch kind {
	case EventUploadRejected, EventEntryRejected, EventIngestAborted:
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "audit event", args...)
}

type actorLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucketLimiter limits each (action, actor) pair to n events per window
// using a token bucket with burst n.
type TokenBucketLimiter struct {
	mu       sync.Mutex
	limiters map[string]*actorLimiter
	r        rate.Limit
	b        int
	window   time.Duration
	now      func() time.Time
}

// NewTokenBucketLimiter creates a limiter allowing n events per window.
// Non-positive values fall back to 10 events per hour.
func NewTokenBucketLimiter(n int, window time.Duration) *TokenBucketLimiter {
	if n <= 0 {
		n = 10
	}
	if window <= 0 {
		window = time.Hour
	}
	return &TokenBucketLimiter{
		limiters: make(map[string]*actorLimiter),
		r:        rate.Every(window / time.Duration(n)),
		b:        n,
		window:   window,
		now:      time.Now,
	}
}

// TryAcquire consumes one token for the pair if available.
func (l *TokenBucketLimiter) TryAcquire(action, actor string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := action + "\x00" + actor
	al, ok := l.limiters[key]
	if !ok {
		l.prune(now)
		al = &actorLimiter{limiter: rate.NewLimiter(l.r, l.b)}
		l.limiters[key] = al
	}
	al.lastSeen = now
	return al.limiter.AllowN(now, 1)
}

// prune drops pairs idle for longer than one window; their buckets are full again.
func (l *TokenBucketLimiter) prune(now time.Time) {
	for k, al := range l.limiters {
		if now.Sub(al.lastSeen) > l.window {
			delete(l.limiters, k)
		}
	}
}
