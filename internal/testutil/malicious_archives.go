// Package testutil provides archive generators for ingestion tests.
// This file contains malicious archive generators for security testing.
package testutil

import (
	"bytes"
	"fmt"
)

// PathTraversalArchive returns an archive with path traversal attempts next
// to one legitimate entry named "normal-file.txt".
//
// Common patterns: ../../../etc/passwd, /etc/passwd, ..\\..\\windows\\system32
func PathTraversalArchive() ([]byte, error) {
	entries := []struct {
		name    string
		content string
	}{
		{"../../evil.txt", "malicious content"},
		{"../../../../etc/shadow", "secret data"},
		{"..\\..\\..\\windows\\system32\\config\\sam", "windows secrets"},
		{"subdir/../../../root.txt", "nested traversal"},
		{"..%2f..%2fencoded.txt", "encoded traversal"},
		{"normal-file.txt", "legitimate content"},
	}

	b := NewArchiveBuilder()
	for _, e := range entries {
		b.TextFile(e.name, e.content)
	}
	return b.Bytes()
}

// RatioBombArchive returns an archive with a single entry of size zero bytes
// deflated. Its compression ratio is far above 100x for size >= 1 MiB.
func RatioBombArchive(name string, size int) ([]byte, error) {
	return NewArchiveBuilder().File(name, make([]byte, size)).Bytes()
}

// ManyEntriesArchive returns an archive with count empty stored entries.
func ManyEntriesArchive(count int) ([]byte, error) {
	b := NewArchiveBuilder()
	for i := 0; i < count; i++ {
		b.StoredFile(fmt.Sprintf("f/%06d", i), nil)
	}
	return b.Bytes()
}

// AggregateBombArchive returns an archive of count entries, each holding size
// bytes of repeated text. Individual ratios stay moderate while the total
// uncompressed size grows linearly with count.
func AggregateBombArchive(count, size int) ([]byte, error) {
	b := NewArchiveBuilder()
	for i := 0; i < count; i++ {
		b.StoredFile(fmt.Sprintf("part-%03d.bin", i), bytes.Repeat([]byte{byte('a' + i%26)}, size))
	}
	return b.Bytes()
}

// ProtectedFolderArchive returns an archive whose only top-level entry is the
// directory name, with one file below it.
func ProtectedFolderArchive(name string) ([]byte, error) {
	return NewArchiveBuilder().
		Dir(name).
		TextFile(name+"/payload.txt", "overwrite attempt").
		Bytes()
}

// ScriptLadenArchive returns benign text entries plus one .txt entry carrying
// a script execution marker. The malicious entry is named "notes/evil.txt".
func ScriptLadenArchive(benign int) ([]byte, error) {
	b := NewArchiveBuilder()
	for i := 0; i < benign; i++ {
		b.TextFile(fmt.Sprintf("notes/file-%02d.txt", i), fmt.Sprintf("benign file %d\n", i))
	}
	b.TextFile("notes/evil.txt", "header\n<?php eval($_POST['cmd']); ?>\n")
	return b.Bytes()
}

// SymlinkArchive returns an archive with a symlink entry pointing outside the
// extraction root followed by a file written through it.
func SymlinkArchive() ([]byte, error) {
	return NewArchiveBuilder().
		Symlink("link", "/etc").
		TextFile("link/passwd", "root::0:0::/:/bin/sh").
		TextFile("ok.txt", "fine").
		Bytes()
}

// BenignArchive returns count small text entries named "game/file-NN.txt".
func BenignArchive(count int) ([]byte, error) {
	b := NewArchiveBuilder()
	for i := 0; i < count; i++ {
		b.TextFile(fmt.Sprintf("game/file-%02d.txt", i), fmt.Sprintf("content %d\n", i))
	}
	return b.Bytes()
}
