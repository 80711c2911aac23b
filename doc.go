// Package ingest provides safe ingestion of uploaded ZIP archives into a
// shared filesystem root.
//
// An upload is staged, validated and inspected for archive bombs before any
// entry is read. Every entry name is resolved to a destination strictly below
// the extraction root, checked against the protected root-level names of the
// hosting application and scanned for script or executable content. Entries
// that pass are written with normalized permissions; entries that fail are
// reported individually. Key features:
//   - Path sanitization against traversal, drive letters and encoded separators
//   - Entry-count, compression-ratio, entry-size and aggregate-size limits
//   - Merge and delete overwrite policies with a protected-name guard
//   - Heuristic content scanning over a bounded sample of each entry
//   - Audit events, Prometheus metrics and structured logging
//   - Filesystem abstraction for testing with an in-memory root
//
// Basic usage:
//
//	cfg, err := ingest.LoadConfig("/etc/ingestd/config.yaml")
//	if err != nil {
//	    return err
//	}
//
//	engine, err := ingest.New(cfg, ingest.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//
//	actor := ingest.ActorContext{Identity: "alice", Authenticated: true}
//	res, err := engine.Ingest(ctx, actor, body, "game.zip", ingest.ModeMerge)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Report.ExtractedCount)
//
// The HTTP endpoint is available through NewHandler.
package ingest
