package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorContext(t *testing.T) {
	assert.True(t, ActorContext{Identity: "alice", Authenticated: true}.IsAuthenticated())
	assert.False(t, ActorContext{Identity: "alice"}.IsAuthenticated())
	assert.False(t, ActorContext{Authenticated: true}.IsAuthenticated())
}

func TestTokenBucketLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewTokenBucketLimiter(3, time.Hour)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, l.TryAcquire(ActionUpload, "alice"), "attempt %d", i)
	}
	assert.False(t, l.TryAcquire(ActionUpload, "alice"))

	// Other actors and actions have their own buckets.
	assert.True(t, l.TryAcquire(ActionUpload, "bob"))
	assert.True(t, l.TryAcquire("delete", "alice"))

	// One token refills every window/n.
	now = now.Add(20 * time.Minute)
	assert.True(t, l.TryAcquire(ActionUpload, "alice"))
	assert.False(t, l.TryAcquire(ActionUpload, "alice"))
}

func TestTokenBucketLimiterPrunesIdlePairs(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewTokenBucketLimiter(1, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.TryAcquire(ActionUpload, "alice"))
	assert.True(t, l.TryAcquire(ActionUpload, "bob"))
	assert.Len(t, l.limiters, 2)

	now = now.Add(2 * time.Minute)
	assert.True(t, l.TryAcquire(ActionUpload, "carol"))
	assert.Len(t, l.limiters, 1)

	assert.True(t, l.TryAcquire(ActionUpload, "alice"))
}

func TestNewTokenBucketLimiterDefaults(t *testing.T) {
	l := NewTokenBucketLimiter(0, 0)
	assert.Equal(t, 10, l.b)
	assert.Equal(t, time.Hour, l.window)
}

func TestAllowAll(t *testing.T) {
	var l RateLimiter = AllowAll{}
	for i := 0; i < 100; i++ {
		assert.True(t, l.TryAcquire(ActionUpload, "alice"))
	}
}

func TestSlogAuditSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogAuditSink(logger)

	sink.Record(context.Background(), EventUploadReceived, map[string]any{"actor": "alice"})
	sink.Record(context.Background(), EventEntryRejected, map[string]any{"entry": "../evil.txt"})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))

	assert.Equal(t, "INFO", first["level"])
	assert.Equal(t, EventUploadReceived, first["event"])
	assert.Equal(t, "alice", first["actor"])
	assert.Equal(t, "audit", first["component"])

	assert.Equal(t, "WARN", second["level"])
	assert.Equal(t, "../evil.txt", second["entry"])
}
