// Package ingest provides safe archive ingestion into a shared filesystem root.
// This file contains upload validation and archive bomb limits.
package ingest

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/jmgilman/go/ingest/internal/scan"
)

// zipMagic is the local file header signature that starts a ZIP archive.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// UploadValidator checks an uploaded artifact before any archive work.
// It is a pure check over already-received bytes.
type UploadValidator struct {
	allowed     map[string]struct{}
	trusted     map[string]struct{}
	maxFileSize int64
}

// NewUploadValidator creates an UploadValidator from cfg.
func NewUploadValidator(cfg *Config) *UploadValidator {
	v := &UploadValidator{
		allowed:     make(map[string]struct{}),
		trusted:     make(map[string]struct{}),
		maxFileSize: cfg.Limits.MaxFileSize,
	}
	for _, ext := range cfg.AllowedExtensions {
		v.allowed[strings.ToLower(ext)] = struct{}{}
	}
	for _, mt := range cfg.TrustedMIMETypes {
		v.trusted[strings.ToLower(mt)] = struct{}{}
	}
	return v
}

// Validate checks, in order: name present, extension allowed, size within
// (0, MaxFileSize], and the ZIP signature when the content type is untrusted.
func (v *UploadValidator) Validate(a *UploadedArtifact) error {
	reject := func(detail string) error {
		return NewIngestError("validate", a.OriginalName, detail, ErrUploadRejected)
	}

	if strings.TrimSpace(a.OriginalName) == "" {
		return reject("file name is required")
	}
	if _, ok := v.allowed[scan.Extension(a.OriginalName)]; !ok {
		return reject("file extension not allowed")
	}
	if a.Size <= 0 {
		return reject("file is empty")
	}
	if a.Size > v.maxFileSize {
		return reject(fmt.Sprintf("file exceeds maximum size of %d bytes", v.maxFileSize))
	}
	if !v.isTrusted(a.ContentType) && !bytes.HasPrefix(a.Header, zipMagic) {
		return reject("file is not a valid zip archive")
	}
	return nil
}

func (v *UploadValidator) isTrusted(contentType string) bool {
	mt, _, _ := strings.Cut(contentType, ";")
	_, ok := v.trusted[strings.ToLower(strings.TrimSpace(mt))]
	return ok
}

// ArchiveStats summarizes archive metadata for limit checks.
type ArchiveStats struct {
	// TotalEntries is the number of entries in the central directory.
	TotalEntries int

	// TotalUncompressed is the declared uncompressed size of all entries.
	TotalUncompressed uint64
}

// LimitValidator checks archive metadata against one limit.
type LimitValidator interface {
	// ValidateEntry checks the declared sizes of one entry.
	ValidateEntry(entry ArchiveEntry) error

	// ValidateArchive checks aggregate statistics.
	ValidateArchive(stats ArchiveStats) error
}

func bombError(ref, detail string) error {
	return NewIngestError("inspect", ref, detail, ErrBombDetected)
}

// EntryCountValidator limits the number of entries in an archive.
type EntryCountValidator struct {
	// MaxEntries is the maximum number of entries. 0 disables the check.
	MaxEntries int
}

// ValidateEntry is a no-op for EntryCountValidator.
func (v *EntryCountValidator) ValidateEntry(ArchiveEntry) error { return nil }

// ValidateArchive checks the entry count.
func (v *EntryCountValidator) ValidateArchive(stats ArchiveStats) error {
	if v.MaxEntries > 0 && stats.TotalEntries > v.MaxEntries {
		return bombError("archive", fmt.Sprintf("too many entries (%d > %d)", stats.TotalEntries, v.MaxEntries))
	}
	return nil
}

// CompressionRatioValidator limits the uncompressed/compressed ratio of each entry.
type CompressionRatioValidator struct {
	// MaxRatio is the maximum ratio. 0 disables the check.
	MaxRatio float64
}

// ValidateEntry checks the ratio of entries with a non-zero compressed size.
func (v *CompressionRatioValidator) ValidateEntry(e ArchiveEntry) error {
	if v.MaxRatio <= 0 || e.CompressedSize == 0 {
		return nil
	}
	ratio := float64(e.UncompressedSize) / float64(e.CompressedSize)
	if ratio > v.MaxRatio {
		return bombError(e.Name, fmt.Sprintf("compression ratio %.0f exceeds %.0f", math.Floor(ratio), v.MaxRatio))
	}
	return nil
}

// ValidateArchive is a no-op for CompressionRatioValidator.
func (v *CompressionRatioValidator) ValidateArchive(ArchiveStats) error { return nil }

// EntrySizeValidator limits the uncompressed size of each entry.
type EntrySizeValidator struct {
	// MaxSize is the maximum size in bytes. 0 disables the check.
	MaxSize uint64
}

// ValidateEntry checks the declared uncompressed size.
func (v *EntrySizeValidator) ValidateEntry(e ArchiveEntry) error {
	if v.MaxSize > 0 && e.UncompressedSize > v.MaxSize {
		return bombError(e.Name, fmt.Sprintf("entry size exceeds %d bytes", v.MaxSize))
	}
	return nil
}

// ValidateArchive is a no-op for EntrySizeValidator.
func (v *EntrySizeValidator) ValidateArchive(ArchiveStats) error { return nil }

// AggregateSizeValidator limits the total uncompressed size.
type AggregateSizeValidator struct {
	// MaxTotal is the maximum total in bytes. 0 disables the check.
	MaxTotal uint64
}

// ValidateEntry is a no-op for AggregateSizeValidator.
func (v *AggregateSizeValidator) ValidateEntry(ArchiveEntry) error { return nil }

// ValidateArchive checks the total uncompressed size.
func (v *AggregateSizeValidator) ValidateArchive(stats ArchiveStats) error {
	if v.MaxTotal > 0 && stats.TotalUncompressed > v.MaxTotal {
		return bombError("archive", fmt.Sprintf("total uncompressed size exceeds %d bytes", v.MaxTotal))
	}
	return nil
}

// ValidatorChain combines multiple validators and executes them in sequence.
// It fails fast - returns the first validation error encountered.
type ValidatorChain struct {
	validators []LimitValidator
}

// NewValidatorChain creates a new ValidatorChain with the specified validators.
func NewValidatorChain(validators ...LimitValidator) *ValidatorChain {
	return &ValidatorChain{validators: validators}
}

// AddValidator adds a validator to the chain.
func (vc *ValidatorChain) AddValidator(validator LimitValidator) {
	vc.validators = append(vc.validators, validator)
}

// ValidateEntry runs every validator's ValidateEntry.
func (vc *ValidatorChain) ValidateEntry(e ArchiveEntry) error {
	for _, v := range vc.validators {
		if err := v.ValidateEntry(e); err != nil {
			return err
		}
	}
	return nil
}

// ValidateArchive runs every validator's ValidateArchive.
func (vc *ValidatorChain) ValidateArchive(stats ArchiveStats) error {
	for _, v := range vc.validators {
		if err := v.ValidateArchive(stats); err != nil {
			return err
		}
	}
	return nil
}

// BombGuard inspects archive metadata before any entry is opened.
type BombGuard struct {
	chain *ValidatorChain
}

// NewBombGuard creates a BombGuard from the limits in cfg.
func NewBombGuard(cfg *Config) *BombGuard {
	chain := NewValidatorChain(
		&EntryCountValidator{MaxEntries: cfg.Limits.MaxEntries},
		&CompressionRatioValidator{MaxRatio: cfg.Limits.MaxCompressionRatio},
	)
	if cfg.Limits.MaxEntrySize > 0 {
		chain.AddValidator(&EntrySizeValidator{MaxSize: uint64(cfg.Limits.MaxEntrySize)})
	}
	chain.AddValidator(&AggregateSizeValidator{MaxTotal: cfg.AggregateLimit()})
	return NewBombGuardWithChain(chain)
}

// NewBombGuardWithChain creates a BombGuard from an explicit chain.
func NewBombGuardWithChain(chain *ValidatorChain) *BombGuard {
	return &BombGuard{chain: chain}
}

// Inspect checks the entry count first, then every entry, then the totals.
func (g *BombGuard) Inspect(entries []ArchiveEntry) error {
	if err := g.chain.ValidateArchive(ArchiveStats{TotalEntries: len(entries)}); err != nil {
		return err
	}

	stats := ArchiveStats{TotalEntries: len(entries)}
	for _, e := range entries {
		if err := g.chain.ValidateEntry(e); err != nil {
			return err
		}
		stats.TotalUncompressed = saturatingAdd(stats.TotalUncompressed, e.UncompressedSize)
	}

	return g.chain.ValidateArchive(stats)
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
