// Package ingest provides safe archive ingestion into a shared filesystem root.
// This file contains upload staging.
package ingest

import (
	"context"
	_ "crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/jmgilman/go/ingest/internal/rootfs"
)

// headerSize is the number of leading bytes kept for signature checks.
const headerSize = 512

// maxSavedNameLength bounds the sanitized original name.
const maxSavedNameLength = 255

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// UploadedArtifact is a received upload held in the staging directory.
// It is consumed by exactly one pipeline run and deleted by it.
type UploadedArtifact struct {
	// Path is the absolute staging path.
	Path string

	// OriginalName is the client-declared file name.
	OriginalName string

	// SavedName is the unique staging file name.
	SavedName string

	// Size is the number of bytes received.
	Size int64

	// ContentType is the sniffed content type of the leading bytes.
	ContentType string

	// Header holds up to 512 leading bytes.
	Header []byte

	// Digest is the sha256 digest of the received bytes.
	Digest digest.Digest
}

// Stager writes incoming uploads into the staging directory.
type Stager struct {
	fs       *rootfs.FS
	dir      string
	maxBytes int64
	now      func() time.Time
}

// NewStager creates a Stager writing into dir. Reads stop one byte past
// maxBytes so oversized uploads are detected without being stored whole.
func NewStager(fsys *rootfs.FS, dir string, maxBytes int64) *Stager {
	return &Stager{fs: fsys, dir: filepath.Clean(dir), maxBytes: maxBytes, now: time.Now}
}

// Receive streams r into a new staging file and returns the artifact.
// The caller owns the artifact and must hand it to Engine.Process or Discard it.
func (s *Stager) Receive(ctx context.Context, r io.Reader, originalName string) (*UploadedArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.fs.MkdirAll(s.dir, 0o750); err != nil {
		return nil, NewIngestError("receive", originalName, "staging directory unavailable", fmt.Errorf("%w: %w", ErrIOFailure, err))
	}

	saved := fmt.Sprintf("%d_%s_%s", s.now().Unix(), uuid.NewString(), SanitizeFileName(originalName))
	target := filepath.Join(s.dir, saved)

	f, err := s.fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, NewIngestError("receive", originalName, "failed to store upload", fmt.Errorf("%w: %w", ErrIOFailure, err))
	}

	artifact := &UploadedArtifact{
		Path:         target,
		OriginalName: originalName,
		SavedName:    saved,
	}

	digester := digest.Canonical.Digester()
	head := &headWriter{limit: headerSize}
	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}

	n, copyErr := io.Copy(io.MultiWriter(f, digester.Hash(), head), src)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = s.fs.Remove(target)
		err := copyErr
		if err == nil {
			err = closeErr
		}
		return nil, NewIngestError("receive", originalName, "failed to store upload", fmt.Errorf("%w: %w", ErrIOFailure, err))
	}

	artifact.Size = n
	artifact.Header = head.buf
	artifact.ContentType = http.DetectContentType(head.buf)
	artifact.Digest = digester.Digest()
	return artifact, nil
}

// Discard removes the staged artifact. A missing file is not an error.
func (s *Stager) Discard(a *UploadedArtifact) error {
	if a == nil || a.Path == "" {
		return nil
	}
	if err := s.fs.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to discard artifact %s: %w", a.SavedName, err)
	}
	return nil
}

// SanitizeFileName reduces name to a safe base name for the staging directory.
func SanitizeFileName(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" || base == ".." {
		base = ""
	}
	base = unsafeNameChars.ReplaceAllString(base, "_")
	if len(base) > maxSavedNameLength {
		base = base[:maxSavedNameLength]
	}
	if base == "" {
		base = "upload"
	}
	return base
}

// headWriter keeps the first limit bytes written to it.
type headWriter struct {
	buf   []byte
	limit int
}

func (h *headWriter) Write(p []byte) (int, error) {
	if room := h.limit - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}
