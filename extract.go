// Package ingest provides safe archive ingestion into a shared filesystem root.
// This file contains the bulk-then-per-entry extraction stage.
package ingest

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

const (
	fileMode os.FileMode = 0o644
	dirMode  os.FileMode = 0o755
)

// extract writes every undecided plan. It first attempts one fail-fast bulk
// pass; if any write fails it retries every entry individually so one bad
// entry does not void the others.
func (r *run) extract() {
	var pending []*entryPlan
	for _, p := range r.plans {
		if !p.decided {
			pending = append(pending, p)
		}
	}
	if len(pending) == 0 {
		return
	}

	written := make([]int64, len(pending))
	var bulkErr error
	for i, p := range pending {
		n, err := r.write(p)
		if err != nil {
			bulkErr = fmt.Errorf("entry %q: %w", p.entry.Name, err)
			break
		}
		written[i] = n
	}

	if bulkErr == nil {
		for i, p := range pending {
			r.commit(p, written[i])
		}
		return
	}

	r.logger.WarnContext(r.ctx, "bulk extraction failed, retrying entries individually", "error", bulkErr)
	for _, p := range pending {
		n, err := r.write(p)
		if err != nil {
			r.logger.WarnContext(r.ctx, "failed to extract entry", "entry", p.entry.Name, "error", err)
			p.reject(ErrIOFailure, "failed to write entry")
			r.logRejected(p)
			continue
		}
		r.commit(p, n)
	}
}

func (r *run) commit(p *entryPlan, n int64) {
	if p.entry.IsDir {
		p.skip("directory entry")
		return
	}
	p.extracted(n)
}

// write materializes one entry below the root and normalizes its permissions.
func (r *run) write(p *entryPlan) (int64, error) {
	e := r.engine

	if err := e.fs.CheckNoSymlinks(e.root, p.target); err != nil {
		return 0, err
	}

	if p.entry.IsDir {
		if err := e.fs.MkdirAll(p.target, dirMode); err != nil {
			return 0, err
		}
		return 0, e.fs.Chmod(p.target, dirMode)
	}

	if err := e.fs.MkdirAll(filepath.Dir(p.target), dirMode); err != nil {
		return 0, err
	}

	n, err := r.copyEntry(p)
	if err != nil {
		_ = e.fs.Remove(p.target)
		return 0, err
	}
	return n, e.fs.Chmod(p.target, fileMode)
}

func (r *run) copyEntry(p *entryPlan) (int64, error) {
	e := r.engine

	limit := p.entry.UncompressedSize
	if ceiling := e.cfg.Limits.MaxEntrySize; ceiling > 0 && limit > uint64(ceiling) {
		limit = uint64(ceiling)
	}
	if limit >= math.MaxInt64 {
		limit = math.MaxInt64 - 1
	}

	rc, err := p.entry.Open()
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	f, err := e.fs.OpenFile(p.target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, io.LimitReader(rc, int64(limit)+1))
	closeErr := f.Close()
	if err != nil {
		return n, err
	}
	if closeErr != nil {
		return n, closeErr
	}
	if uint64(n) > limit {
		return n, fmt.Errorf("entry content exceeds %d bytes", limit)
	}
	return n, nil
}
