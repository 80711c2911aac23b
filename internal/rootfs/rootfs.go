package rootfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
)

// ErrSymlink is returned when a path component that must be a real file or
// directory is a symbolic link.
var ErrSymlink = errors.New("symbolic link in path")

// Type identifies the backing implementation of an FS.
type Type int

const (
	// TypeLocal is the host filesystem.
	TypeLocal Type = iota
	// TypeMemory is an in-memory filesystem.
	TypeMemory
)

// String returns the name of the filesystem type.
func (t Type) String() string {
	switch t {
	case TypeLocal:
		return "local"
	case TypeMemory:
		return "memory"
	default:
		return "other"
	}
}

// FS is a thin adapter over billy.Filesystem. All paths are absolute.
type FS struct {
	bfs billy.Filesystem
	typ Type
}

// NewLocal creates a go-billy-backed local filesystem rooted at "/".
func NewLocal() *FS {
	return &FS{bfs: osfs.New("/"), typ: TypeLocal}
}

// NewMemory creates an empty go-billy-backed in-memory filesystem.
func NewMemory() *FS {
	return &FS{bfs: memfs.New(), typ: TypeMemory}
}

// Type returns the backing implementation type.
func (f *FS) Type() Type {
	return f.typ
}

func normalize(name string) string {
	return filepath.Clean(name)
}

// Stat returns file metadata, following symlinks.
func (f *FS) Stat(name string) (os.FileInfo, error) {
	return f.bfs.Stat(normalize(name))
}

// Lstat returns file metadata without following a final symlink.
func (f *FS) Lstat(name string) (os.FileInfo, error) {
	return f.bfs.Lstat(normalize(name))
}

// Open opens the named file for reading.
func (f *FS) Open(name string) (billy.File, error) {
	return f.bfs.Open(normalize(name))
}

// OpenFile opens a file with the specified flags and permissions.
func (f *FS) OpenFile(name string, flag int, perm os.FileMode) (billy.File, error) {
	return f.bfs.OpenFile(normalize(name), flag, perm)
}

// MkdirAll creates a directory named path, along with any necessary parents.
func (f *FS) MkdirAll(path string, perm os.FileMode) error {
	return f.bfs.MkdirAll(normalize(path), perm)
}

// Remove removes the named file or empty directory.
func (f *FS) Remove(name string) error {
	return f.bfs.Remove(normalize(name))
}

// ReadDir lists the directory without following symlinked children.
func (f *FS) ReadDir(name string) ([]os.FileInfo, error) {
	return f.bfs.ReadDir(normalize(name))
}

// Symlink creates newname as a symbolic link to target.
func (f *FS) Symlink(target, newname string) error {
	return f.bfs.Symlink(target, normalize(newname))
}

// Chmod changes the mode of the named file. Backends without permission
// support are left untouched.
func (f *FS) Chmod(name string, mode os.FileMode) error {
	name = normalize(name)
	if c, ok := f.bfs.(interface {
		Chmod(string, os.FileMode) error
	}); ok {
		return c.Chmod(name, mode)
	}
	if f.typ == TypeLocal {
		return os.Chmod(name, mode)
	}
	return nil
}

// Canonical returns the canonical absolute form of an existing directory.
// On the local filesystem symlinks in the path are resolved.
func (f *FS) Canonical(dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
		}
		dir = abs
	}
	dir = normalize(dir)

	if f.typ == TypeLocal {
		resolved, err := filepath.EvalSymlinks(dir)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
		}
		dir = resolved
	}

	info, err := f.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	return dir, nil
}

// CheckNoSymlinks verifies that no existing component of target below root
// is a symbolic link. target must be below root. Components that do not
// exist yet are accepted.
func (f *FS) CheckNoSymlinks(root, target string) error {
	root = normalize(root)
	rel, err := filepath.Rel(root, normalize(target))
	if err != nil {
		return fmt.Errorf("failed to relate %s to %s: %w", target, root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s is not below %s", target, root)
	}

	current := root
	for _, part := range splitPath(rel) {
		current = filepath.Join(current, part)
		info, err := f.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrSymlink, current)
		}
	}
	return nil
}

func splitPath(rel string) []string {
	var parts []string
	for _, p := range strings.Split(rel, string(filepath.Separator)) {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	return parts
}
