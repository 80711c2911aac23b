package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/ingest/internal/rootfs"
	"github.com/jmgilman/go/ingest/internal/testutil"
)

func newTestStager(t *testing.T, maxBytes int64) (*Stager, *rootfs.FS) {
	t.Helper()
	fsys := rootfs.NewMemory()
	s := NewStager(fsys, "/srv/site/uploads", maxBytes)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s, fsys
}

func TestStagerReceive(t *testing.T) {
	s, fsys := newTestStager(t, 1<<20)
	data := testutil.NewArchiveBuilder().TextFile("a.txt", "hello").MustBytes()

	a, err := s.Receive(context.Background(), bytes.NewReader(data), "My Game (v2).zip")
	require.NoError(t, err)

	assert.Equal(t, "My Game (v2).zip", a.OriginalName)
	assert.True(t, strings.HasPrefix(a.SavedName, "1700000000_"))
	assert.True(t, strings.HasSuffix(a.SavedName, "_My_Game__v2_.zip"))
	assert.Equal(t, "/srv/site/uploads/"+a.SavedName, a.Path)
	assert.Equal(t, int64(len(data)), a.Size)
	assert.Equal(t, "application/zip", a.ContentType)
	assert.Equal(t, data[:4], a.Header[:4])
	assert.Equal(t, digest.FromBytes(data), a.Digest)

	assert.Equal(t, data, readFSFile(t, fsys, a.Path))

	require.NoError(t, s.Discard(a))
	_, err = fsys.Lstat(a.Path)
	assert.True(t, os.IsNotExist(err))

	// Discarding twice is harmless.
	assert.NoError(t, s.Discard(a))
	assert.NoError(t, s.Discard(nil))
}

func TestStagerReceiveUniqueNames(t *testing.T) {
	s, _ := newTestStager(t, 1<<20)

	a, err := s.Receive(context.Background(), strings.NewReader("one"), "game.zip")
	require.NoError(t, err)
	b, err := s.Receive(context.Background(), strings.NewReader("two"), "game.zip")
	require.NoError(t, err)

	assert.NotEqual(t, a.SavedName, b.SavedName)
}

func TestStagerReceiveStopsPastLimit(t *testing.T) {
	s, _ := newTestStager(t, 10)

	a, err := s.Receive(context.Background(), bytes.NewReader(make([]byte, 1000)), "game.zip")
	require.NoError(t, err)
	assert.Equal(t, int64(11), a.Size)
}

func TestStagerReceiveHeaderBounded(t *testing.T) {
	s, _ := newTestStager(t, 0)

	a, err := s.Receive(context.Background(), bytes.NewReader(make([]byte, 4096)), "game.zip")
	require.NoError(t, err)
	assert.Len(t, a.Header, headerSize)
	assert.Equal(t, int64(4096), a.Size)
}

func TestStagerReceiveCancelled(t *testing.T) {
	s, _ := newTestStager(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Receive(ctx, strings.NewReader("data"), "game.zip")
	assert.ErrorIs(t, err, context.Canceled)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestStagerReceiveReadFailure(t *testing.T) {
	s, fsys := newTestStager(t, 10)

	_, err := s.Receive(context.Background(), failingReader{}, "game.zip")
	require.ErrorIs(t, err, ErrIOFailure)
	assert.Equal(t, "io_failure", Code(err))

	entries, err := fsys.ReadDir("/srv/site/uploads")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"game.zip":             "game.zip",
		"My Game (v2).zip":     "My_Game__v2_.zip",
		"../../etc/passwd":     "passwd",
		`C:\Users\me\game.zip`: "game.zip",
		"":                     "upload",
		"..":                   "upload",
		"/":                    "upload",
		"ünïcode.zip":          "_n_code.zip",
		strings.Repeat("a", 300) + ".zip": strings.Repeat("a", 255),
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFileName(in), "input %q", in)
	}
}
