// Package validate provides path validation functionality.
// This package resolves attacker-controlled archive entry names into
// destinations confined to an extraction root and classifies the root-level
// names that belong to the hosting application.
package validate

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrPathRejected is returned for any entry name that cannot be resolved to a
// destination strictly inside the extraction root.
var ErrPathRejected = errors.New("path rejected")

// driveLetter matches a Windows absolute path such as C:\ or c:/.
var driveLetter = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// illegalChars are characters invalid in either the POSIX or Windows path grammar.
const illegalChars = `<>:"|?*`

// PathSanitizer resolves raw archive entry names into canonical destinations.
// It never consults the filesystem: targets usually do not exist yet, so the
// resolution is done by walking path segments by hand.
type PathSanitizer struct {
	// Root is the canonical extraction root. It must be absolute and clean.
	Root string

	// Separator is the separator used for resolved paths.
	// Defaults to filepath.Separator.
	Separator byte
}

// NewPathSanitizer creates a PathSanitizer confined to root.
func NewPathSanitizer(root string) (*PathSanitizer, error) {
	if root == "" {
		return nil, fmt.Errorf("extraction root cannot be empty")
	}
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("extraction root must be absolute: %s", root)
	}
	return &PathSanitizer{
		Root:      filepath.Clean(root),
		Separator: filepath.Separator,
	}, nil
}

// Sanitize resolves raw into an absolute path strictly below Root.
// Any failure yields ErrPathRejected; no best-effort path is ever returned.
func (s *PathSanitizer) Sanitize(raw string) (string, error) {
	if hasEncodedTraversal(raw) {
		return "", reject(raw, "encoded path traversal")
	}
	if escapesRoot(raw) {
		return "", reject(raw, "path traversal")
	}

	name := strings.ReplaceAll(raw, "..", "")
	name = strings.TrimLeft(name, `/\`)

	// Checked before illegal characters are stripped, otherwise the colon
	// disappears and "C:/x" silently becomes "C/x".
	if driveLetter.MatchString(name) {
		return "", reject(raw, "absolute drive path")
	}

	name = stripIllegal(name)
	if strings.TrimSpace(name) == "" {
		return "", reject(raw, "empty after sanitization")
	}

	sep := s.sep()
	name = strings.NewReplacer(`\`, string(sep), "/", string(sep)).Replace(name)

	resolved, err := resolve(s.Root+string(sep)+name, sep)
	if err != nil {
		return "", reject(raw, err.Error())
	}

	if !s.isStrictDescendant(resolved) {
		return "", reject(raw, "resolves outside extraction root")
	}
	return resolved, nil
}

// Relative returns the slash-separated path of abs relative to Root.
// It returns an empty string when abs is not strictly below Root.
func (s *PathSanitizer) Relative(abs string) string {
	if !s.isStrictDescendant(abs) {
		return ""
	}
	rel := strings.TrimPrefix(abs, s.rootPrefix())
	return strings.ReplaceAll(rel, string(s.sep()), "/")
}

func (s *PathSanitizer) sep() byte {
	if s.Separator == 0 {
		return filepath.Separator
	}
	return s.Separator
}

func (s *PathSanitizer) rootPrefix() string {
	sep := string(s.sep())
	if strings.HasSuffix(s.Root, sep) {
		return s.Root
	}
	return s.Root + sep
}

func (s *PathSanitizer) isStrictDescendant(p string) bool {
	prefix := s.rootPrefix()
	return strings.HasPrefix(p, prefix) && len(p) > len(prefix)
}

// resolve walks the segments of p, popping one segment per parent reference.
// A pop above the top of p fails.
func resolve(p string, sep byte) (string, error) {
	volume := filepath.VolumeName(p)
	rest := p[len(volume):]

	var parts []string
	for _, part := range strings.Split(rest, string(sep)) {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(parts) == 0 {
				return "", fmt.Errorf("parent reference above root")
			}
			parts = parts[:len(parts)-1]
		default:
			parts = append(parts, part)
		}
	}
	return volume + string(sep) + strings.Join(parts, string(sep)), nil
}

// escapesRoot reports whether raw, read literally relative to the root,
// climbs above it at any point.
func escapesRoot(raw string) bool {
	depth := 0
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == '/' || r == '\\' }) {
		switch part {
		case ".":
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

// stripIllegal removes control characters and characters illegal in common
// path grammars.
func stripIllegal(name string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(illegalChars, r) {
			return -1
		}
		return r
	}, name)
}

// hasEncodedTraversal checks for URL-encoded path traversal attempts.
func hasEncodedTraversal(path string) bool {
	lowerPath := strings.ToLower(path)

	encodedVariants := []string{
		"..%2f", "..%5c",
		"%2e%2e%2f", "%2e%2e%5c",
		"%2e%2e/", "%2e%2e\\",
		"..%c0%af", "..%c1%9c",
	}

	for _, variant := range encodedVariants {
		if strings.Contains(lowerPath, variant) {
			return true
		}
	}
	return false
}

func reject(raw, why string) error {
	return fmt.Errorf("%w: %q: %s", ErrPathRejected, raw, why)
}
