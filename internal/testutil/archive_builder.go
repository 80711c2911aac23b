// Package testutil provides archive generators for ingestion tests.
// This file contains a small in-memory ZIP builder.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/zip"
)

// ArchiveBuilder assembles a ZIP archive in memory. Entries are written in
// the order they are added. The first error sticks and is reported by Bytes.
type ArchiveBuilder struct {
	buf bytes.Buffer
	zw  *zip.Writer
	err error
}

// NewArchiveBuilder creates an empty ArchiveBuilder.
func NewArchiveBuilder() *ArchiveBuilder {
	b := &ArchiveBuilder{}
	b.zw = zip.NewWriter(&b.buf)
	return b
}

// File adds a deflated regular file.
func (b *ArchiveBuilder) File(name string, content []byte) *ArchiveBuilder {
	return b.add(&zip.FileHeader{Name: name, Method: zip.Deflate}, 0o644, content)
}

// TextFile adds a deflated regular file with string content.
func (b *ArchiveBuilder) TextFile(name, content string) *ArchiveBuilder {
	return b.File(name, []byte(content))
}

// StoredFile adds an uncompressed regular file.
func (b *ArchiveBuilder) StoredFile(name string, content []byte) *ArchiveBuilder {
	return b.add(&zip.FileHeader{Name: name, Method: zip.Store}, 0o644, content)
}

// Dir adds a directory entry. A trailing slash is appended when missing.
func (b *ArchiveBuilder) Dir(name string) *ArchiveBuilder {
	if len(name) == 0 || name[len(name)-1] != '/' {
		name += "/"
	}
	return b.add(&zip.FileHeader{Name: name, Method: zip.Store}, os.ModeDir|0o755, nil)
}

// Symlink adds a symbolic link entry pointing at target.
func (b *ArchiveBuilder) Symlink(name, target string) *ArchiveBuilder {
	return b.add(&zip.FileHeader{Name: name, Method: zip.Store}, os.ModeSymlink|0o777, []byte(target))
}

func (b *ArchiveBuilder) add(hdr *zip.FileHeader, mode os.FileMode, content []byte) *ArchiveBuilder {
	if b.err != nil {
		return b
	}
	hdr.Modified = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hdr.SetMode(mode)

	w, err := b.zw.CreateHeader(hdr)
	if err != nil {
		b.err = fmt.Errorf("failed to create zip entry %s: %w", hdr.Name, err)
		return b
	}
	if _, err := w.Write(content); err != nil {
		b.err = fmt.Errorf("failed to write zip entry %s: %w", hdr.Name, err)
	}
	return b
}

// Bytes finalizes the archive and returns its encoded form.
func (b *ArchiveBuilder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip writer: %w", err)
	}
	return b.buf.Bytes(), nil
}

// MustBytes is like Bytes but panics on error.
func (b *ArchiveBuilder) MustBytes() []byte {
	data, err := b.Bytes()
	if err != nil {
		panic(err)
	}
	return data
}
