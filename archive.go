// Package ingest provides safe archive ingestion into a shared filesystem root.
// This file contains the ZIP archive reader.
package ingest

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/klauspost/compress/zip"

	"github.com/jmgilman/go/ingest/internal/rootfs"
)

// ArchiveEntry is a read-only view of one archive entry's metadata.
type ArchiveEntry struct {
	// Index is the position of the entry in the central directory.
	Index int

	// Name is the raw, attacker-controlled entry name.
	Name string

	// UncompressedSize is the declared uncompressed size in bytes.
	UncompressedSize uint64

	// CompressedSize is the declared compressed size in bytes.
	CompressedSize uint64

	// IsDir reports a directory entry.
	IsDir bool

	// IsSymlink reports a symbolic link entry.
	IsSymlink bool

	file *zip.File
}

// Open returns a reader over the decompressed entry content.
func (e ArchiveEntry) Open() (io.ReadCloser, error) {
	if e.file == nil {
		return nil, fmt.Errorf("entry %q has no content", e.Name)
	}
	return e.file.Open()
}

// Sample returns up to n leading bytes of the decompressed content.
func (e ArchiveEntry) Sample(n int) ([]byte, error) {
	rc, err := e.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	buf, err := io.ReadAll(io.LimitReader(rc, int64(n)))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Archive is an opened ZIP archive backed by a staged artifact.
type Archive struct {
	file    billy.File
	Entries []ArchiveEntry
}

// OpenArchive opens the ZIP archive at path and reads its central directory.
// No entry content is read.
func OpenArchive(fsys *rootfs.FS, path string) (*Archive, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	// A reader is returned alongside an error for insecure names; those are
	// handled per entry, so only a missing reader is fatal.
	zr, err := zip.NewReader(f, info.Size())
	if zr == nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	entries := make([]ArchiveEntry, len(zr.File))
	for i, zf := range zr.File {
		mode := zf.Mode()
		entries[i] = ArchiveEntry{
			Index:            i,
			Name:             zf.Name,
			UncompressedSize: zf.UncompressedSize64,
			CompressedSize:   zf.CompressedSize64,
			IsDir:            mode.IsDir() || strings.HasSuffix(zf.Name, "/"),
			IsSymlink:        mode&os.ModeSymlink != 0,
			file:             zf,
		}
	}

	return &Archive{file: f, Entries: entries}, nil
}

// Close releases the underlying file.
func (a *Archive) Close() error {
	return a.file.Close()
}
