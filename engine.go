// Package ingest provides safe archive ingestion into a shared filesystem root.
// This file contains the extraction engine and its state machine.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmgilman/go/ingest/internal/rootfs"
	"github.com/jmgilman/go/ingest/internal/scan"
	"github.com/jmgilman/go/ingest/internal/validate"
)

// OverwriteMode selects how extraction treats existing content.
type OverwriteMode string

const (
	// ModeMerge writes entries over existing files without removing anything.
	ModeMerge OverwriteMode = "merge"

	// ModeDelete removes the existing top-level folders named by the archive
	// before extracting.
	ModeDelete OverwriteMode = "delete"
)

// ParseOverwriteMode parses a policy flag. An empty value selects ModeMerge.
func ParseOverwriteMode(s string) (OverwriteMode, error) {
	switch OverwriteMode(s) {
	case "", ModeMerge:
		return ModeMerge, nil
	case ModeDelete:
		return ModeDelete, nil
	default:
		return "", NewIngestError("parse", s, "overwrite mode must be merge or delete", ErrUploadRejected)
	}
}

// State is a stage of one pipeline run.
type State int

const (
	StateValidating State = iota
	StatePreDeleting
	StateExtracting
	StateReporting
	StateDone
	StateAborted
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StatePreDeleting:
		return "predeleting"
	case StateExtracting:
		return "extracting"
	case StateReporting:
		return "reporting"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Engine runs the ingestion pipeline. It is safe for concurrent use, but two
// concurrent runs into overlapping folders of the same root are not
// serialized.
type Engine struct {
	cfg       *Config
	fs        *rootfs.FS
	root      string
	sanitizer *validate.PathSanitizer
	registry  *validate.ProtectedRegistry
	scanner   *scan.Scanner
	uploads   *UploadValidator
	guard     *BombGuard
	stager    *Stager
	limiter   RateLimiter
	audit     AuditSink
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Engine for cfg.
//
// Example usage:
//
//	cfg := ingest.DefaultConfig()
//	cfg.Paths.ExtractRoot = "/srv/site"
//	cfg.Paths.StagingDir = "/srv/site/uploads"
//	engine, err := ingest.New(cfg, ingest.WithLogger(logger))
func New(cfg *Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := DefaultEngineOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.FS == nil {
		options.FS = rootfs.NewLocal()
	}
	if options.Logger == nil {
		options.Logger = NewNopLogger()
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	if options.RateLimiter == nil {
		options.RateLimiter = NewTokenBucketLimiter(cfg.RateLimit.Uploads, cfg.RateLimit.Window)
	}
	if options.AuditSink == nil {
		options.AuditSink = NewSlogAuditSink(options.Logger)
	}
	if options.Metrics == nil {
		options.Metrics = NoopMetrics{}
	}

	root, err := options.FS.Canonical(cfg.Paths.ExtractRoot)
	if err != nil {
		return nil, fmt.Errorf("invalid extraction root: %w", err)
	}
	sanitizer, err := validate.NewPathSanitizer(root)
	if err != nil {
		return nil, fmt.Errorf("invalid extraction root: %w", err)
	}

	rules := scan.DefaultRules()
	if options.Rules != nil {
		rules = *options.Rules
	}
	rules.DangerousExtensions = append(append([]string(nil), rules.DangerousExtensions...), cfg.ExtraDangerousExtensions...)

	stager := NewStager(options.FS, cfg.Paths.StagingDir, cfg.Limits.MaxFileSize)
	stager.now = options.Clock

	e := &Engine{
		cfg:       cfg,
		fs:        options.FS,
		root:      root,
		sanitizer: sanitizer,
		registry:  validate.DefaultProtectedRegistry(cfg.ExtraProtectedNames...),
		scanner:   scan.NewScanner(rules),
		uploads:   NewUploadValidator(cfg),
		guard:     NewBombGuard(cfg),
		stager:    stager,
		limiter:   options.RateLimiter,
		audit:     options.AuditSink,
		metrics:   options.Metrics,
		logger:    options.Logger.With("component", "ingest"),
		now:       options.Clock,
	}
	e.logger.Debug("ingestion engine ready",
		"root", root,
		"staging", cfg.Paths.StagingDir,
		"fs", options.FS.Type().String(),
	)
	return e, nil
}

// Root returns the canonical extraction root.
func (e *Engine) Root() string {
	return e.root
}

// Stager returns the stager writing into the staging directory.
func (e *Engine) Stager() *Stager {
	return e.stager
}

// Authorize checks that actor is authenticated and within the upload rate
// limit. Each successful call consumes one rate-limit token. Failures are
// recorded to the audit sink under name, which is empty when the caller
// authorizes before the upload body has been read.
func (e *Engine) Authorize(ctx context.Context, actor ActorContext, name string) error {
	if !actor.IsAuthenticated() {
		err := NewIngestError("authorize", name, "", ErrUnauthenticated)
		e.recordRejection(ctx, actor, name, err)
		return err
	}
	if !e.limiter.TryAcquire(ActionUpload, actor.Identity) {
		err := NewIngestError("authorize", name, "", ErrRateLimited)
		e.recordRejection(ctx, actor, name, err)
		return err
	}
	return nil
}

// Ingest authorizes actor, stages r as an upload named name and processes it.
// The context is checked before staging only; a started run is never
// interrupted.
func (e *Engine) Ingest(ctx context.Context, actor ActorContext, r io.Reader, name string, mode OverwriteMode) (*Result, error) {
	if err := e.Authorize(ctx, actor, name); err != nil {
		return nil, err
	}
	return e.receiveAndProcess(ctx, actor, r, name, mode)
}

func (e *Engine) receiveAndProcess(ctx context.Context, actor ActorContext, r io.Reader, name string, mode OverwriteMode) (*Result, error) {
	artifact, err := e.stager.Receive(ctx, r, name)
	if err != nil {
		e.recordRejection(ctx, actor, name, err)
		return nil, err
	}

	e.audit.Record(ctx, EventUploadReceived, map[string]any{
		"actor":      actor.Identity,
		"artifact":   artifact.OriginalName,
		"saved_name": artifact.SavedName,
		"size":       artifact.Size,
		"digest":     artifact.Digest.String(),
	})

	return e.Process(ctx, actor, artifact, mode)
}

func (e *Engine) recordRejection(ctx context.Context, actor ActorContext, name string, err error) {
	e.audit.Record(ctx, EventUploadRejected, map[string]any{
		"actor":    actor.Identity,
		"artifact": name,
		"reason":   Code(err),
	})
	e.logger.WarnContext(ctx, "upload rejected", "actor", actor.Identity, "artifact", name, "reason", Reason(err))
}

// Process runs the pipeline over a staged artifact. The artifact is deleted
// exactly once before Process returns, whatever the outcome. The returned
// Result is always non-nil; on abort its report shows zero extracted entries.
func (e *Engine) Process(ctx context.Context, actor ActorContext, artifact *UploadedArtifact, mode OverwriteMode) (*Result, error) {
	r := &run{
		engine:   e,
		ctx:      ctx,
		actor:    actor,
		artifact: artifact,
		report:   newReport(mode),
		logger:   e.logger.With("artifact", artifact.OriginalName, "actor", actor.Identity),
	}
	defer r.discard()

	start := e.now()
	err := r.execute()
	r.discard()

	r.report.Elapsed = max(e.now().Sub(start), 0)
	if err != nil {
		r.report.State = StateAborted
	} else {
		r.report.State = StateDone
	}
	r.finish(err)

	return &Result{Artifact: artifact, Report: r.report}, err
}

// run holds the state of one pipeline execution.
type run struct {
	engine   *Engine
	ctx      context.Context
	actor    ActorContext
	artifact *UploadedArtifact
	report   *Report
	logger   *slog.Logger

	state       State
	plans       []*entryPlan
	discardOnce sync.Once
}

// entryPlan tracks one archive entry through the run.
type entryPlan struct {
	entry  ArchiveEntry
	target string
	rel    string

	decided bool
	outcome Outcome
}

func (p *entryPlan) reject(sentinel error, reason string) {
	p.decided = true
	p.outcome = Outcome{Entry: p.entry.Name, Status: StatusRejected, Reason: reason, Code: Code(sentinel)}
}

func (p *entryPlan) skip(reason string) {
	p.decided = true
	p.outcome = Outcome{Entry: p.entry.Name, Status: StatusSkipped, Reason: reason, ResolvedPath: p.target}
}

func (p *entryPlan) extracted(n int64) {
	p.decided = true
	p.outcome = Outcome{Entry: p.entry.Name, Status: StatusExtracted, ResolvedPath: p.target, BytesWritten: n}
}

func (r *run) transition(s State) {
	r.state = s
	r.report.State = s
	r.logger.DebugContext(r.ctx, "pipeline state changed", "state", s.String())
}

func (r *run) discard() {
	r.discardOnce.Do(func() {
		if err := r.engine.stager.Discard(r.artifact); err != nil {
			r.logger.ErrorContext(r.ctx, "failed to discard artifact", "error", err)
		}
	})
}

func (r *run) execute() error {
	e := r.engine
	r.transition(StateValidating)

	switch r.report.Mode {
	case ModeMerge, ModeDelete:
	default:
		return NewIngestError("validate", r.artifact.OriginalName, "overwrite mode must be merge or delete", ErrUploadRejected)
	}

	if err := e.uploads.Validate(r.artifact); err != nil {
		return err
	}

	archive, err := OpenArchive(e.fs, r.artifact.Path)
	if err != nil {
		return NewIngestError("inspect", r.artifact.OriginalName, "file is not a valid zip archive", fmt.Errorf("%w: %w", ErrUploadRejected, err))
	}
	defer func() { _ = archive.Close() }()

	if err := e.guard.Inspect(archive.Entries); err != nil {
		return err
	}

	r.plans = make([]*entryPlan, len(archive.Entries))
	for i, entry := range archive.Entries {
		r.plans[i] = r.classify(entry)
	}

	if r.report.Mode == ModeDelete {
		r.transition(StatePreDeleting)
		if err := r.predelete(); err != nil {
			r.assemble("run aborted")
			return err
		}
	}

	r.transition(StateExtracting)
	r.extract()

	r.transition(StateReporting)
	r.assemble("")
	return nil
}

// classify runs path, protection and content checks on one entry without
// writing anything.
func (r *run) classify(entry ArchiveEntry) *entryPlan {
	e := r.engine
	p := &entryPlan{entry: entry}

	target, err := e.sanitizer.Sanitize(entry.Name)
	if err != nil {
		p.reject(ErrPathRejected, "invalid or unsafe path")
		r.logRejected(p)
		return p
	}
	p.target = target
	p.rel = e.sanitizer.Relative(target)

	switch {
	case entry.IsSymlink:
		p.reject(ErrPathRejected, "symbolic links are not allowed")
	case e.registry.IsProtected(p.rel):
		p.reject(ErrProtectedPath, "protected system path")
	case entry.IsDir:
		return p
	default:
		r.scanEntry(p)
	}

	if p.decided {
		r.logRejected(p)
	}
	return p
}

func (r *run) scanEntry(p *entryPlan) {
	e := r.engine

	if v := e.scanner.CheckExtension(p.rel); !v.Safe {
		p.reject(ErrContentRejected, fmt.Sprintf("%s [%s]", v.Reason, v.RuleID))
		return
	}

	sample, err := p.entry.Sample(e.cfg.Limits.SampleSize)
	if err != nil {
		p.reject(ErrContentRejected, "entry content could not be read")
		return
	}

	if v := e.scanner.Scan(sample, p.rel); !v.Safe {
		p.reject(ErrContentRejected, fmt.Sprintf("%s [%s]", v.Reason, v.RuleID))
	}
}

func (r *run) logRejected(p *entryPlan) {
	r.logger.WarnContext(r.ctx, "archive entry rejected",
		"entry", p.entry.Name,
		"reason", p.outcome.Reason,
		"code", p.outcome.Code,
	)
	r.engine.audit.Record(r.ctx, EventEntryRejected, map[string]any{
		"actor":    r.actor.Identity,
		"artifact": r.artifact.OriginalName,
		"entry":    p.entry.Name,
		"reason":   p.outcome.Code,
	})
}

// assemble builds the report from the plans. Undecided plans are skipped
// with abortReason, which is only non-empty when the run is aborting.
func (r *run) assemble(abortReason string) {
	for _, p := range r.plans {
		if !p.decided {
			p.skip(abortReason)
		}
		rel := ""
		if p.outcome.Status == StatusExtracted {
			rel = p.rel
		}
		r.report.add(p.outcome, rel)
	}
}

func (r *run) finish(err error) {
	e := r.engine
	rep := r.report
	mode := string(rep.Mode)

	result := "success"
	switch {
	case err != nil:
		result = "aborted"
	case rep.Partial():
		result = "partial"
	}

	e.metrics.IncRuns(mode, result)
	e.metrics.IncEntries(string(StatusExtracted), rep.ExtractedCount)
	e.metrics.IncEntries(string(StatusRejected), rep.RejectedCount)
	e.metrics.IncEntries(string(StatusSkipped), rep.SkippedCount)
	e.metrics.AddBytesWritten(rep.TotalBytes)
	e.metrics.ObserveRunDuration(mode, rep.Elapsed.Seconds())

	attrs := map[string]any{
		"actor":      r.actor.Identity,
		"artifact":   r.artifact.OriginalName,
		"saved_name": r.artifact.SavedName,
		"mode":       mode,
		"extracted":  rep.ExtractedCount,
		"rejected":   rep.RejectedCount,
		"skipped":    rep.SkippedCount,
		"bytes":      rep.TotalBytes,
	}
	if err != nil {
		attrs["reason"] = Code(err)
		attrs["stage"] = r.state.String()
		e.audit.Record(r.ctx, EventIngestAborted, attrs)
	} else {
		if rep.Partial() {
			attrs["reason"] = Code(ErrPartialExtraction)
		}
		e.audit.Record(r.ctx, EventIngestCompleted, attrs)
	}

	logRun(r.ctx, r.logger, r.artifact, rep, err)
}

// rootDir returns the absolute path of a top-level name under the root.
func (e *Engine) rootDir(name string) string {
	return filepath.Join(e.root, name)
}
