package validate

import (
	"sort"
	"strings"
)

// defaultProtectedNames are the root-level names owned by the hosting application.
var defaultProtectedNames = []string{
	// directories
	"database",
	"logs",
	"uploads",
	"errors",
	"includes",
	"classes",
	"video",

	// application files
	"config.php",
	"index.php",
	"login.php",
	"logout.php",
	"upload.php",
	"admin.php",
	"admin_api.php",
	".htaccess",
	"bootstrap.php",
}

// DefaultProtectedNames returns a copy of the built-in protected names.
func DefaultProtectedNames() []string {
	out := make([]string, len(defaultProtectedNames))
	copy(out, defaultProtectedNames)
	return out
}

// ProtectedRegistry classifies root-level names that must never be created,
// overwritten, or deleted by extracted content. Matching is case-insensitive
// and the registry is immutable once built.
type ProtectedRegistry struct {
	names map[string]struct{}
}

// NewProtectedRegistry creates a registry from the given names.
// Empty names and names containing separators are ignored.
func NewProtectedRegistry(names ...string) *ProtectedRegistry {
	r := &ProtectedRegistry{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || strings.ContainsAny(n, `/\`) {
			continue
		}
		r.names[n] = struct{}{}
	}
	return r
}

// DefaultProtectedRegistry returns a registry populated with DefaultProtectedNames
// plus any extra names.
func DefaultProtectedRegistry(extra ...string) *ProtectedRegistry {
	return NewProtectedRegistry(append(DefaultProtectedNames(), extra...)...)
}

// IsProtected reports whether the first segment of rel is a protected name.
// rel is a path relative to the extraction root using either separator.
func (r *ProtectedRegistry) IsProtected(rel string) bool {
	first := FirstSegment(rel)
	if first == "" {
		return false
	}
	_, ok := r.names[strings.ToLower(first)]
	return ok
}

// ContainsProtected reports whether any segment of rel is a protected name.
// It guards recursive deletion, where a protected name may sit below an
// unprotected root folder.
func (r *ProtectedRegistry) ContainsProtected(rel string) bool {
	for _, seg := range strings.FieldsFunc(rel, func(c rune) bool { return c == '/' || c == '\\' }) {
		if _, ok := r.names[strings.ToLower(seg)]; ok {
			return true
		}
	}
	return false
}

// Names returns the protected names in sorted order.
func (r *ProtectedRegistry) Names() []string {
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// FirstSegment returns the first non-empty segment of p, accepting both separators.
func FirstSegment(p string) string {
	p = strings.TrimLeft(strings.ReplaceAll(p, `\`, "/"), "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}
