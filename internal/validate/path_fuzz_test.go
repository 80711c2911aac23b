package validate

import (
	"strings"
	"testing"
)

// FuzzSanitize ensures PathSanitizer never panics and never escapes the root.
func FuzzSanitize(f *testing.F) {
	seeds := []string{
		"file.txt",
		"dir/sub/file.txt",
		"../escape.txt",
		"..\\escape.txt",
		"/etc/passwd",
		"..%2fsecret",
		"%2e%2e%2fsecret",
		"file\x00name.txt",
		"C:\\Windows\\win.ini",
		"normal name.txt",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		s := &PathSanitizer{Root: testRoot, Separator: '/'}
		got, err := s.Sanitize(raw)
		if err != nil {
			return
		}
		if !strings.HasPrefix(got, testRoot+"/") || len(got) <= len(testRoot)+1 {
			t.Fatalf("Sanitize(%q) = %q is not strictly below root", raw, got)
		}
	})
}
