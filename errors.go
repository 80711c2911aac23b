// Package ingest provides safe archive ingestion into a shared filesystem root.
// This file contains domain-specific error types for ingestion operations.
package ingest

import (
	"errors"
	"fmt"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/jmgilman/go/ingest/internal/validate"
)

// Sentinel errors for different failure modes.
// They can be checked using errors.Is() for error handling and testing.
var (
	// ErrUploadRejected indicates that the uploaded artifact failed validation.
	// This covers a missing name, a disallowed extension, a bad size or a
	// container signature mismatch.
	ErrUploadRejected = errors.New("upload rejected")

	// ErrBombDetected indicates that archive metadata exceeded an entry-count,
	// compression-ratio or size limit.
	ErrBombDetected = errors.New("archive bomb detected")

	// ErrPathRejected indicates that an entry name could not be resolved to a
	// destination strictly inside the extraction root.
	ErrPathRejected = validate.ErrPathRejected

	// ErrProtectedPath indicates that an entry or a pre-delete target names a
	// protected root-level path.
	ErrProtectedPath = errors.New("protected path violation")

	// ErrContentRejected indicates that entry content matched a malicious
	// pattern, an executable signature or a dangerous extension.
	ErrContentRejected = errors.New("content rejected")

	// ErrIOFailure indicates a filesystem read, write or permission error.
	ErrIOFailure = errors.New("i/o failure")

	// ErrPartialExtraction indicates that the run completed but some entries failed.
	ErrPartialExtraction = errors.New("partial extraction")

	// ErrUnauthenticated indicates that no authenticated actor was supplied.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrRateLimited indicates that the actor exceeded the upload rate limit.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// IngestError provides context about an ingestion failure.
// It wraps a sentinel with the operation and the artifact or entry involved.
type IngestError struct {
	// Op describes the operation that failed (e.g., "validate", "inspect", "predelete").
	Op string

	// Reference is the artifact or entry name being processed.
	Reference string

	// Detail is a caller-safe description of the failure. It never contains
	// filesystem paths or internal diagnostics.
	Detail string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *IngestError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Detail)
}

// Unwrap returns the underlying error to support errors.Is and errors.As.
func (e *IngestError) Unwrap() error {
	return e.Err
}

// NewIngestError creates a new IngestError.
func NewIngestError(op, ref, detail string, err error) *IngestError {
	return &IngestError{
		Op:        op,
		Reference: ref,
		Detail:    detail,
		Err:       err,
	}
}

// FormatError returns the error with its operation and reference, for logs.
// Example output: "inspect game.zip: archive bomb detected: too many entries"
func (e *IngestError) FormatError() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Reference, e.Error())
}

// IsSecurityError reports whether the error is a security rejection rather
// than an operational failure.
func (e *IngestError) IsSecurityError() bool {
	return errors.Is(e.Err, ErrBombDetected) ||
		errors.Is(e.Err, ErrPathRejected) ||
		errors.Is(e.Err, ErrProtectedPath) ||
		errors.Is(e.Err, ErrContentRejected)
}

// taxonomy lists the sentinels in matching order with their stable codes.
var taxonomy = []struct {
	err  error
	code string
	pc   platformerrors.ErrorCode
}{
	{ErrUnauthenticated, "unauthenticated", platformerrors.CodeUnauthorized},
	{ErrRateLimited, "rate_limited", platformerrors.CodeRateLimit},
	{ErrUploadRejected, "upload_rejected", platformerrors.CodeInvalidInput},
	{ErrBombDetected, "bomb_detected", platformerrors.CodeInvalidInput},
	{ErrProtectedPath, "protected_path_violation", platformerrors.CodeForbidden},
	{ErrPathRejected, "path_rejected", platformerrors.CodeInvalidInput},
	{ErrContentRejected, "content_rejected", platformerrors.CodeInvalidInput},
	{ErrPartialExtraction, "partial_extraction", platformerrors.CodeConflict},
	{ErrIOFailure, "io_failure", platformerrors.CodeInternal},
}

// Code returns the stable machine-readable code for err.
// Unknown errors map to "internal_error".
func Code(err error) string {
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.code
		}
	}
	return "internal_error"
}

// Reason returns the stable caller-facing reason string for err.
// Internal diagnostics of unknown errors are never exposed.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, t := range taxonomy {
		if !errors.Is(err, t.err) {
			continue
		}
		var ie *IngestError
		if errors.As(err, &ie) && ie.Detail != "" {
			return t.err.Error() + ": " + ie.Detail
		}
		return t.err.Error()
	}
	return "internal error"
}

// ToPlatformError converts err into a platform error carrying the stable
// reason, code and, for IngestError, the operation and reference.
func ToPlatformError(err error) platformerrors.PlatformError {
	if err == nil {
		return nil
	}

	pc := platformerrors.CodeInternal
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			pc = t.pc
			break
		}
	}

	ctx := map[string]interface{}{"reason": Code(err)}
	var ie *IngestError
	if errors.As(err, &ie) {
		ctx["op"] = ie.Op
		if ie.Reference != "" {
			ctx["reference"] = ie.Reference
		}
	}
	return platformerrors.WrapWithContext(err, pc, Reason(err), ctx)
}
