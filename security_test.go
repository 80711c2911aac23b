package ingest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/ingest/internal/rootfs"
	"github.com/jmgilman/go/ingest/internal/testutil"
)

func TestUploadValidator(t *testing.T) {
	v := NewUploadValidator(DefaultConfig())
	zipHeader := []byte("PK\x03\x04rest-of-header")

	tests := []struct {
		name     string
		artifact UploadedArtifact
		wantErr  string
	}{
		{
			name:     "valid trusted type",
			artifact: UploadedArtifact{OriginalName: "game.zip", Size: 10, ContentType: "application/zip", Header: zipHeader},
		},
		{
			name:     "valid untrusted type with magic",
			artifact: UploadedArtifact{OriginalName: "GAME.ZIP", Size: 10, ContentType: "application/octet-stream", Header: zipHeader},
		},
		{
			name:     "trusted type with parameters",
			artifact: UploadedArtifact{OriginalName: "game.zip", Size: 10, ContentType: "Application/Zip; charset=binary"},
		},
		{
			name:     "missing name",
			artifact: UploadedArtifact{OriginalName: "  ", Size: 10, ContentType: "application/zip"},
			wantErr:  "file name is required",
		},
		{
			name:     "wrong extension",
			artifact: UploadedArtifact{OriginalName: "game.tar.gz", Size: 10, ContentType: "application/zip"},
			wantErr:  "file extension not allowed",
		},
		{
			name:     "empty",
			artifact: UploadedArtifact{OriginalName: "game.zip", Size: 0, ContentType: "application/zip"},
			wantErr:  "file is empty",
		},
		{
			name:     "too large",
			artifact: UploadedArtifact{OriginalName: "game.zip", Size: DefaultMaxFileSize + 1, ContentType: "application/zip"},
			wantErr:  "maximum size",
		},
		{
			name:     "untrusted type without magic",
			artifact: UploadedArtifact{OriginalName: "game.zip", Size: 10, ContentType: "text/plain; charset=utf-8", Header: []byte("hello")},
			wantErr:  "not a valid zip archive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(&tt.artifact)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrUploadRejected)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEntryCountValidator(t *testing.T) {
	v := &EntryCountValidator{MaxEntries: 2}
	assert.NoError(t, v.ValidateArchive(ArchiveStats{TotalEntries: 2}))
	assert.ErrorIs(t, v.ValidateArchive(ArchiveStats{TotalEntries: 3}), ErrBombDetected)

	disabled := &EntryCountValidator{}
	assert.NoError(t, disabled.ValidateArchive(ArchiveStats{TotalEntries: math.MaxInt32}))
}

func TestCompressionRatioValidator(t *testing.T) {
	v := &CompressionRatioValidator{MaxRatio: 100}

	tests := []struct {
		name    string
		entry   ArchiveEntry
		wantErr bool
	}{
		{"at limit", ArchiveEntry{Name: "a", UncompressedSize: 1000, CompressedSize: 10}, false},
		{"above limit", ArchiveEntry{Name: "a", UncompressedSize: 1001, CompressedSize: 10}, true},
		{"zero compressed size", ArchiveEntry{Name: "a", UncompressedSize: 1 << 30, CompressedSize: 0}, false},
		{"stored", ArchiveEntry{Name: "a", UncompressedSize: 10, CompressedSize: 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateEntry(tt.entry)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBombDetected)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEntrySizeValidator(t *testing.T) {
	v := &EntrySizeValidator{MaxSize: 100}
	assert.NoError(t, v.ValidateEntry(ArchiveEntry{UncompressedSize: 100}))
	assert.ErrorIs(t, v.ValidateEntry(ArchiveEntry{UncompressedSize: 101}), ErrBombDetected)

	disabled := &EntrySizeValidator{}
	assert.NoError(t, disabled.ValidateEntry(ArchiveEntry{UncompressedSize: math.MaxUint64}))
}

func TestAggregateSizeValidator(t *testing.T) {
	v := &AggregateSizeValidator{MaxTotal: 1000}
	assert.NoError(t, v.ValidateArchive(ArchiveStats{TotalUncompressed: 1000}))
	assert.ErrorIs(t, v.ValidateArchive(ArchiveStats{TotalUncompressed: 1001}), ErrBombDetected)
}

func TestValidatorChain(t *testing.T) {
	chain := NewValidatorChain(&EntryCountValidator{MaxEntries: 10})
	chain.AddValidator(&EntrySizeValidator{MaxSize: 5})

	assert.NoError(t, chain.ValidateArchive(ArchiveStats{TotalEntries: 10}))
	assert.Error(t, chain.ValidateArchive(ArchiveStats{TotalEntries: 11}))
	assert.NoError(t, chain.ValidateEntry(ArchiveEntry{UncompressedSize: 5}))
	assert.Error(t, chain.ValidateEntry(ArchiveEntry{UncompressedSize: 6}))
}

func TestBombGuardInspect(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxFileSize = 1000
	cfg.Limits.AggregateMultiple = 10
	cfg.Limits.MaxEntrySize = 0
	cfg.Limits.MaxEntries = 5
	guard := NewBombGuard(cfg)

	entry := func(size, compressed uint64) ArchiveEntry {
		return ArchiveEntry{Name: "e", UncompressedSize: size, CompressedSize: compressed}
	}

	t.Run("within limits", func(t *testing.T) {
		assert.NoError(t, guard.Inspect([]ArchiveEntry{entry(5000, 100), entry(5000, 100)}))
	})

	t.Run("aggregate exceeded", func(t *testing.T) {
		err := guard.Inspect([]ArchiveEntry{entry(5000, 100), entry(5001, 100)})
		require.ErrorIs(t, err, ErrBombDetected)
		assert.Contains(t, err.Error(), "total uncompressed size")
	})

	t.Run("count checked before entries", func(t *testing.T) {
		entries := make([]ArchiveEntry, 6)
		for i := range entries {
			entries[i] = entry(math.MaxUint64, 1)
		}
		err := guard.Inspect(entries)
		require.ErrorIs(t, err, ErrBombDetected)
		assert.Contains(t, err.Error(), "too many entries")
	})

	t.Run("saturating total", func(t *testing.T) {
		err := guard.Inspect([]ArchiveEntry{entry(math.MaxUint64, 0), entry(math.MaxUint64, 0)})
		require.ErrorIs(t, err, ErrBombDetected)
	})
}

func TestNewBombGuardEntrySizeCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxEntrySize = 1000
	entries := []ArchiveEntry{{Name: "big.bin", UncompressedSize: 1001, CompressedSize: 1000}}

	err := NewBombGuard(cfg).Inspect(entries)
	require.ErrorIs(t, err, ErrBombDetected)
	assert.Contains(t, err.Error(), "entry size exceeds")

	cfg.Limits.MaxEntrySize = 0
	assert.NoError(t, NewBombGuard(cfg).Inspect(entries))
}

func TestBombGuardAggregateArchive(t *testing.T) {
	data, err := testutil.AggregateBombArchive(12, 1024)
	require.NoError(t, err)

	fsys := rootfs.NewMemory()
	writeFSFile(t, fsys, "/staging/bomb.zip", data)

	archive, err := OpenArchive(fsys, "/staging/bomb.zip")
	require.NoError(t, err)
	defer func() { _ = archive.Close() }()
	require.Len(t, archive.Entries, 12)

	guard := NewBombGuardWithChain(NewValidatorChain(
		&CompressionRatioValidator{MaxRatio: 100},
		&AggregateSizeValidator{MaxTotal: 10 * 1024},
	))
	err = guard.Inspect(archive.Entries)
	require.ErrorIs(t, err, ErrBombDetected)
	assert.Equal(t, "bomb_detected", Code(err))
}

func TestSaturatingAdd(t *testing.T) {
	assert.Equal(t, uint64(3), saturatingAdd(1, 2))
	assert.Equal(t, uint64(math.MaxUint64), saturatingAdd(math.MaxUint64, 1))
}

func TestOpenArchive(t *testing.T) {
	fsys := rootfs.NewMemory()
	data := testutil.NewArchiveBuilder().
		Dir("game").
		TextFile("game/readme.txt", "hello world").
		Symlink("game/link", "/etc/passwd").
		MustBytes()
	writeFSFile(t, fsys, "/staging/game.zip", data)

	archive, err := OpenArchive(fsys, "/staging/game.zip")
	require.NoError(t, err)
	defer func() { _ = archive.Close() }()

	require.Len(t, archive.Entries, 3)
	assert.True(t, archive.Entries[0].IsDir)
	assert.False(t, archive.Entries[1].IsDir)
	assert.True(t, archive.Entries[2].IsSymlink)
	assert.Equal(t, uint64(11), archive.Entries[1].UncompressedSize)

	sample, err := archive.Entries[1].Sample(5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(sample))

	_, err = OpenArchive(fsys, "/staging/missing.zip")
	assert.Error(t, err)

	writeFSFile(t, fsys, "/staging/bad.zip", []byte("not a zip"))
	_, err = OpenArchive(fsys, "/staging/bad.zip")
	assert.Error(t, err)
}

func TestArchiveEntryWithoutContent(t *testing.T) {
	_, err := ArchiveEntry{Name: "synthetic"}.Sample(10)
	assert.Error(t, err)
}
