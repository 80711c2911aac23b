// Package ingest provides safe archive ingestion into a shared filesystem root.
// This file contains extraction outcomes, the report and the result contract.
package ingest

import (
	"fmt"
	"math"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
)

// Status is the final state of one entry.
type Status string

const (
	// StatusExtracted means the entry was written below the root.
	StatusExtracted Status = "extracted"

	// StatusSkipped means the entry was not written and not at fault.
	StatusSkipped Status = "skipped"

	// StatusRejected means the entry failed validation or extraction.
	StatusRejected Status = "rejected"
)

// Outcome is the result for one archive entry.
type Outcome struct {
	Entry        string `json:"entry"`
	Status       Status `json:"status"`
	Reason       string `json:"reason,omitempty"`
	Code         string `json:"code,omitempty"`
	ResolvedPath string `json:"-"`
	BytesWritten int64  `json:"bytesWritten,omitempty"`
}

// Report aggregates the outcomes of one pipeline run.
type Report struct {
	// Mode is the overwrite policy used.
	Mode OverwriteMode

	// State is the state the run finished in (Done or Aborted).
	State State

	// Elapsed is the wall time of the run.
	Elapsed time.Duration

	// Outcomes holds one outcome per archive entry, in archive order.
	Outcomes []Outcome

	// FilesList lists the relative paths of extracted files, in archive order.
	FilesList []string

	// FailedEntries lists rejected entries as "name (reason)".
	FailedEntries []string

	// RootFolders lists the top-level folders removed before extraction.
	// Only populated in delete mode.
	RootFolders []string

	ExtractedCount int
	RejectedCount  int
	SkippedCount   int
	TotalBytes     int64
}

func newReport(mode OverwriteMode) *Report {
	return &Report{
		Mode:          mode,
		FilesList:     []string{},
		FailedEntries: []string{},
	}
}

func (r *Report) add(o Outcome, rel string) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case StatusExtracted:
		r.ExtractedCount++
		r.TotalBytes += o.BytesWritten
		r.FilesList = append(r.FilesList, rel)
	case StatusRejected:
		r.RejectedCount++
		r.FailedEntries = append(r.FailedEntries, fmt.Sprintf("%s (%s)", o.Entry, o.Reason))
	case StatusSkipped:
		r.SkippedCount++
	}
}

// Aborted reports whether the run was aborted.
func (r *Report) Aborted() bool {
	return r.State == StateAborted
}

// Partial reports whether the run completed with at least one rejected entry.
func (r *Report) Partial() bool {
	return !r.Aborted() && r.RejectedCount > 0
}

// Result is the outcome of processing one artifact.
type Result struct {
	Artifact *UploadedArtifact
	Report   *Report
}

// Response is the serialized result contract returned to callers.
type Response struct {
	Success bool          `json:"success"`
	Data    *ResponseData `json:"data,omitempty"`
	Error   string        `json:"error,omitempty"`
	Code    string        `json:"code,omitempty"`
}

// ResponseData is the payload of a successful Response.
type ResponseData struct {
	OriginalName         string   `json:"originalName"`
	SavedName            string   `json:"savedName"`
	Size                 int64    `json:"size"`
	SizeMB               float64  `json:"sizeMB"`
	IsZip                bool     `json:"isZip"`
	Extracted            bool     `json:"extracted"`
	ExtractTime          float64  `json:"extractTime"`
	FilesCount           int      `json:"filesCount"`
	TotalExtractedSize   int64    `json:"totalExtractedSize"`
	TotalExtractedSizeMB float64  `json:"totalExtractedSizeMB"`
	FilesList            []string `json:"filesList"`
	FailedEntries        []string `json:"failedEntries"`
	OverwriteMode        string   `json:"overwriteMode"`
	RootFolders          []string `json:"rootFolders,omitempty"`
	RejectedCount        int      `json:"rejectedCount"`
	SkippedCount         int      `json:"skippedCount"`
	Digest               string   `json:"digest,omitempty"`
}

// NewResponse builds the success Response for a completed run.
func NewResponse(res *Result) *Response {
	a, r := res.Artifact, res.Report
	data := &ResponseData{
		OriginalName:         a.OriginalName,
		SavedName:            a.SavedName,
		Size:                 a.Size,
		SizeMB:               toMB(a.Size),
		IsZip:                true,
		Extracted:            !r.Aborted(),
		ExtractTime:          round2(r.Elapsed.Seconds()),
		FilesCount:           r.ExtractedCount,
		TotalExtractedSize:   r.TotalBytes,
		TotalExtractedSizeMB: toMB(r.TotalBytes),
		FilesList:            r.FilesList,
		FailedEntries:        r.FailedEntries,
		OverwriteMode:        string(r.Mode),
		RejectedCount:        r.RejectedCount,
		SkippedCount:         r.SkippedCount,
		Digest:               a.Digest.String(),
	}
	if r.Mode == ModeDelete {
		data.RootFolders = r.RootFolders
	}
	return &Response{Success: true, Data: data}
}

// ErrorResponse builds the failure Response for err. Only the stable reason
// and code are exposed.
func ErrorResponse(err error) *Response {
	pe := platformerrors.ToJSON(ToPlatformError(err))
	if pe == nil {
		return &Response{Success: false}
	}
	return &Response{Success: false, Error: pe.Message, Code: Code(err)}
}

func toMB(n int64) float64 {
	return round2(float64(n) / (1024 * 1024))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
