// Package rootfs provides the go-billy-backed filesystem used for the
// extraction root and the upload staging directory.
//
// It wraps go-billy's osfs (local) and memfs (in-memory) implementations and
// adds the few operations the ingestion pipeline needs on top of
// billy.Filesystem: symlink-aware path checks, permission normalization and
// a guarded iterative tree removal.
//
// Usage:
//
//	fsys := rootfs.NewLocal()
//	root, err := fsys.Canonical("/srv/site")
//
//	// For tests:
//	fsys := rootfs.NewMemory()
//	err := fsys.MkdirAll("/srv/site", 0o755)
//
// # Thread Safety
//
// FS values are safe for concurrent use by multiple goroutines. File handles
// are not.
package rootfs
