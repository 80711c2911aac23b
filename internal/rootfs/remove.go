package rootfs

import (
	"fmt"
	"os"
	"path/filepath"
)

// RemoveStats summarizes a RemoveTree call.
type RemoveStats struct {
	// Removed is the number of files, links and directories removed.
	Removed int

	// Preserved lists nodes kept because keep reported them as protected.
	// Their ancestors are kept as well.
	Preserved []string
}

type removeFrame struct {
	path     string
	expanded bool
}

// RemoveTree removes dir and everything below it using an explicit stack.
// Symbolic links are removed as links and never followed. keep is consulted
// for every node before it is touched; a node for which it returns true is
// left in place together with its ancestors up to dir. A missing dir is not
// an error.
func (f *FS) RemoveTree(dir string, keep func(path string) bool) (RemoveStats, error) {
	var stats RemoveStats
	dir = normalize(dir)
	kept := make(map[string]bool)

	stack := []removeFrame{{path: dir}}
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if fr.expanded {
			if kept[fr.path] {
				continue
			}
			if err := f.Remove(fr.path); err != nil {
				return stats, fmt.Errorf("failed to remove directory %s: %w", fr.path, err)
			}
			stats.Removed++
			continue
		}

		info, err := f.Lstat(fr.path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return stats, fmt.Errorf("failed to stat %s: %w", fr.path, err)
		}

		if keep != nil && keep(fr.path) {
			stats.Preserved = append(stats.Preserved, fr.path)
			markAncestors(kept, dir, fr.path)
			continue
		}

		if info.Mode()&os.ModeSymlink != 0 || !info.IsDir() {
			if err := f.Remove(fr.path); err != nil {
				return stats, fmt.Errorf("failed to remove %s: %w", fr.path, err)
			}
			stats.Removed++
			continue
		}

		children, err := f.ReadDir(fr.path)
		if err != nil {
			return stats, fmt.Errorf("failed to read directory %s: %w", fr.path, err)
		}
		stack = append(stack, removeFrame{path: fr.path, expanded: true})
		for _, child := range children {
			stack = append(stack, removeFrame{path: filepath.Join(fr.path, child.Name())})
		}
	}

	return stats, nil
}

// markAncestors flags every directory from the parent of p up to and
// including top as kept.
func markAncestors(kept map[string]bool, top, p string) {
	for p != top {
		parent := filepath.Dir(p)
		if parent == p {
			return
		}
		p = parent
		kept[p] = true
	}
}
