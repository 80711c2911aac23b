// Package ingest provides safe archive ingestion into a shared filesystem root.
// This file contains the destructive pre-delete stage.
package ingest

import (
	"fmt"
	"os"
	"strings"

	"github.com/jmgilman/go/ingest/internal/validate"
)

// rootCandidates returns the distinct first segments of every entry whose
// path resolved, in archive order, and the folders implied by entries that
// passed every check. An entry implies a folder when it is a directory entry
// or has more than one segment.
func (r *run) rootCandidates() (names, folders []string) {
	seen := make(map[string]bool)
	isFolder := make(map[string]bool)
	for _, p := range r.plans {
		if p.target == "" {
			continue
		}
		first := validate.FirstSegment(p.rel)
		if first == "" {
			continue
		}
		if !seen[first] {
			seen[first] = true
			names = append(names, first)
		}
		if !p.decided && (p.entry.IsDir || strings.Contains(p.rel, "/")) {
			isFolder[first] = true
		}
	}
	for _, n := range names {
		if isFolder[n] {
			folders = append(folders, n)
		}
	}
	return names, folders
}

// predelete checks every top-level name against the registry and, only if
// none is protected, removes the existing folders. A protected name aborts
// the run before anything is removed.
func (r *run) predelete() error {
	e := r.engine
	names, folders := r.rootCandidates()

	for _, name := range names {
		if e.registry.IsProtected(name) {
			r.logger.ErrorContext(r.ctx, "delete mode targets a protected path", "folder", name)
			return NewIngestError("predelete", name, "protected system path cannot be deleted", ErrProtectedPath)
		}
	}

	r.report.RootFolders = append([]string{}, folders...)

	keep := func(path string) bool {
		rel := e.sanitizer.Relative(path)
		return rel == "" || e.registry.ContainsProtected(rel)
	}

	for _, name := range folders {
		dir := e.rootDir(name)
		info, err := e.fs.Lstat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return NewIngestError("predelete", name, "failed to inspect existing folder", fmt.Errorf("%w: %w", ErrIOFailure, err))
		}
		if info.Mode().IsRegular() {
			continue
		}

		stats, err := e.fs.RemoveTree(dir, keep)
		if err != nil {
			return NewIngestError("predelete", name, "failed to remove existing folder", fmt.Errorf("%w: %w", ErrIOFailure, err))
		}

		r.logger.InfoContext(r.ctx, "removed existing folder", "folder", name, "removed", stats.Removed, "preserved", len(stats.Preserved))
		e.metrics.IncFoldersRemoved()
		e.audit.Record(r.ctx, EventFolderRemoved, map[string]any{
			"actor":    r.actor.Identity,
			"artifact": r.artifact.OriginalName,
			"folder":   name,
			"removed":  stats.Removed,
		})
	}
	return nil
}
