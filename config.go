// Package ingest provides safe archive ingestion into a shared filesystem root.
// This file contains configuration loading and validation.
package ingest

import (
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	platformerrors "github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/go/ingest/internal/scan"
	"github.com/jmgilman/go/ingest/internal/validate"
)

//go:embed schema.cue
var configSchema string

const (
	// DefaultMaxFileSize is the default upload size cap (5 GiB).
	DefaultMaxFileSize int64 = 5 * 1024 * 1024 * 1024

	// DefaultMaxEntries is the default archive entry-count cap.
	DefaultMaxEntries = 10000

	// DefaultMaxCompressionRatio is the default per-entry ratio cap.
	DefaultMaxCompressionRatio = 100.0

	// DefaultAggregateMultiple bounds total uncompressed size as a multiple
	// of MaxFileSize.
	DefaultAggregateMultiple = 10
)

// Config is the ingestion service configuration.
type Config struct {
	Paths     PathsConfig     `yaml:"paths" json:"paths"`
	Limits    LimitsConfig    `yaml:"limits" json:"limits"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Log       LogConfig       `yaml:"log" json:"log"`

	// AllowedExtensions are the accepted upload extensions, without dots.
	AllowedExtensions []string `yaml:"allowed_extensions" json:"allowed_extensions"`

	// TrustedMIMETypes are detected content types accepted without a magic check.
	TrustedMIMETypes []string `yaml:"trusted_mime_types" json:"trusted_mime_types"`

	// ExtraProtectedNames extend the built-in protected root-level names.
	ExtraProtectedNames []string `yaml:"extra_protected_names" json:"extra_protected_names"`

	// ExtraDangerousExtensions extend the built-in dangerous extension list.
	ExtraDangerousExtensions []string `yaml:"extra_dangerous_extensions" json:"extra_dangerous_extensions"`

	// Listen is the HTTP listen address used by ingestd.
	Listen string `yaml:"listen" json:"listen"`
}

// PathsConfig locates the extraction root and the upload staging directory.
type PathsConfig struct {
	ExtractRoot string `yaml:"extract_root" json:"extract_root"`
	StagingDir  string `yaml:"staging_dir" json:"staging_dir"`
}

// LimitsConfig holds upload and archive bomb limits.
type LimitsConfig struct {
	// MaxFileSize is the maximum upload size in bytes.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`

	// MaxEntries is the maximum number of entries in an archive.
	MaxEntries int `yaml:"max_entries" json:"max_entries"`

	// MaxCompressionRatio is the maximum uncompressed/compressed ratio of any entry.
	MaxCompressionRatio float64 `yaml:"max_compression_ratio" json:"max_compression_ratio"`

	// AggregateMultiple caps total uncompressed size at AggregateMultiple * MaxFileSize.
	AggregateMultiple int `yaml:"aggregate_multiple" json:"aggregate_multiple"`

	// MaxEntrySize is the maximum uncompressed size of any single entry.
	// Set to 0 to disable the per-entry ceiling.
	MaxEntrySize int64 `yaml:"max_entry_size" json:"max_entry_size"`

	// SampleSize is the number of leading bytes of each entry scanned.
	SampleSize int `yaml:"sample_size" json:"sample_size"`
}

// RateLimitConfig bounds uploads per actor.
type RateLimitConfig struct {
	Uploads int           `yaml:"uploads" json:"uploads"`
	Window  time.Duration `yaml:"window" json:"window"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// DefaultConfig returns a Config with default limits. Paths are left empty
// and must be set by the caller.
func DefaultConfig() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxFileSize:         DefaultMaxFileSize,
			MaxEntries:          DefaultMaxEntries,
			MaxCompressionRatio: DefaultMaxCompressionRatio,
			AggregateMultiple:   DefaultAggregateMultiple,
			MaxEntrySize:        DefaultMaxFileSize,
			SampleSize:          scan.SampleSize,
		},
		RateLimit: RateLimitConfig{
			Uploads: 10,
			Window:  time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		AllowedExtensions: []string{"zip"},
		TrustedMIMETypes: []string{
			"application/zip",
			"application/x-zip-compressed",
			"application/x-zip",
		},
		Listen: ":8080",
	}
}

// LoadConfig reads a YAML configuration file over DefaultConfig and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "failed to read config file %s", path)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AggregateLimit returns the total uncompressed size cap.
func (c *Config) AggregateLimit() uint64 {
	return uint64(c.Limits.MaxFileSize) * uint64(c.Limits.AggregateMultiple)
}

// Validate checks the configuration against the embedded CUE schema and
// verifies the staging directory placement.
func (c *Config) Validate() error {
	c.normalize()

	cctx := cuecontext.New()
	schema := cctx.CompileString(configSchema).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeCUEBuildFailed, "config schema is invalid")
	}

	data := cctx.Encode(c)
	if err := data.Err(); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeCUEEncodeFailed, "failed to encode config")
	}

	if err := schema.Unify(data).Validate(cue.Concrete(true), cue.Final(), cue.All()); err != nil {
		return platformerrors.WrapWithContext(
			err,
			platformerrors.CodeSchemaFailed,
			"config failed schema validation",
			map[string]interface{}{"details": cueerrors.Details(err, nil)},
		)
	}

	return c.validatePaths()
}

// normalize replaces nil lists so they encode as empty CUE lists and
// lowercases extensions.
func (c *Config) normalize() {
	for _, list := range []*[]string{
		&c.AllowedExtensions,
		&c.TrustedMIMETypes,
		&c.ExtraProtectedNames,
		&c.ExtraDangerousExtensions,
	} {
		if *list == nil {
			*list = []string{}
		}
	}
	for i, ext := range c.AllowedExtensions {
		c.AllowedExtensions[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}
	for i, ext := range c.ExtraDangerousExtensions {
		c.ExtraDangerousExtensions[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}
}

// validatePaths requires the staging directory to differ from the extraction
// root and, when nested inside it, to live under a protected name.
func (c *Config) validatePaths() error {
	root := filepath.Clean(c.Paths.ExtractRoot)
	staging := filepath.Clean(c.Paths.StagingDir)

	if root == staging {
		return platformerrors.New(platformerrors.CodeInvalidConfig, "staging directory must differ from extraction root")
	}

	rel, err := filepath.Rel(root, staging)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}

	registry := validate.DefaultProtectedRegistry(c.ExtraProtectedNames...)
	if !registry.IsProtected(rel) {
		return platformerrors.Newf(
			platformerrors.CodeInvalidConfig,
			"staging directory inside extraction root must be under a protected name, got %q",
			validate.FirstSegment(rel),
		)
	}
	return nil
}
