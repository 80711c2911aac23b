// Package ingest provides safe archive ingestion into a shared filesystem root.
// This file contains the HTTP upload endpoint.
package ingest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// multipartMemory is the amount of a multipart body kept in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// ActorResolver extracts the authenticated actor from a request. Session and
// CSRF handling belong to the resolver.
type ActorResolver func(r *http.Request) ActorContext

// Handler serves archive uploads over HTTP.
type Handler struct {
	engine  *Engine
	resolve ActorResolver
	logger  *slog.Logger
}

// NewHandler creates the upload endpoint. It accepts POST requests with a
// multipart "file" field and an optional "overwrite_mode" field.
func NewHandler(engine *Engine, resolve ActorResolver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Handler{engine: engine, resolve: resolve, logger: logger.With("component", "http")}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeResponse(w, http.StatusMethodNotAllowed, &Response{Success: false, Error: "method not allowed", Code: "method_not_allowed"})
		return
	}

	ctx := r.Context()
	actor := h.resolve(r)
	// The artifact name is unknown until the body is parsed, so gate
	// rejections are audited without one.
	if err := h.engine.Authorize(ctx, actor, ""); err != nil {
		h.writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.engine.cfg.Limits.MaxFileSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.logger.WarnContext(ctx, "failed to parse upload form", "error", err)
		h.reject(w, r, actor, "", NewIngestError("receive", "", "invalid upload request", ErrUploadRejected))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.reject(w, r, actor, "", NewIngestError("receive", "", "no file uploaded", ErrUploadRejected))
		return
	}
	defer func() { _ = file.Close() }()

	mode, err := ParseOverwriteMode(r.FormValue("overwrite_mode"))
	if err != nil {
		h.reject(w, r, actor, header.Filename, err)
		return
	}

	res, err := h.engine.receiveAndProcess(ctx, actor, file, header.Filename, mode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeResponse(w, http.StatusOK, NewResponse(res))
}

// reject audits a request-level rejection and writes the error response.
func (h *Handler) reject(w http.ResponseWriter, r *http.Request, actor ActorContext, name string, err error) {
	h.engine.recordRejection(r.Context(), actor, name, err)
	h.writeError(w, err)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	writeResponse(w, statusFor(err), ErrorResponse(err))
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUploadRejected),
		errors.Is(err, ErrBombDetected),
		errors.Is(err, ErrPathRejected),
		errors.Is(err, ErrProtectedPath),
		errors.Is(err, ErrContentRejected):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
}

func writeResponse(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
