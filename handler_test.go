package ingest

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/ingest/internal/testutil"
)

func headerActor(r *http.Request) ActorContext {
	id := r.Header.Get("X-Test-Actor")
	return ActorContext{Identity: id, Authenticated: id != ""}
}

func uploadRequest(t *testing.T, fileName string, data []byte, mode string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if mode != "" {
		require.NoError(t, mw.WriteField("overwrite_mode", mode))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Test-Actor", "alice")
	return req
}

func serve(h http.Handler, req *http.Request) (*httptest.ResponseRecorder, Response) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestHandlerSuccess(t *testing.T) {
	e, root := newTestEngine(t, nil)
	h := NewHandler(e, headerActor, nil)

	data := testutil.NewArchiveBuilder().TextFile("game/a.txt", "a").MustBytes()
	rec, resp := serve(h, uploadRequest(t, "game.zip", data, "merge"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	require.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	assert.Equal(t, "game.zip", resp.Data.OriginalName)
	assert.Equal(t, 1, resp.Data.FilesCount)
	assert.Equal(t, []string{"game/a.txt"}, resp.Data.FilesList)

	_, err := os.Stat(filepath.Join(root, "game", "a.txt"))
	assert.NoError(t, err)
}

func TestHandlerDefaultsToMerge(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	h := NewHandler(e, headerActor, nil)

	data := testutil.NewArchiveBuilder().TextFile("game/a.txt", "a").MustBytes()
	_, resp := serve(h, uploadRequest(t, "game.zip", data, ""))
	require.True(t, resp.Success)
	assert.Equal(t, "merge", resp.Data.OverwriteMode)
}

func TestHandlerErrors(t *testing.T) {
	zipData := testutil.NewArchiveBuilder().TextFile("game/a.txt", "a").MustBytes()
	bomb, err := testutil.RatioBombArchive("zeros.bin", 1<<20)
	require.NoError(t, err)

	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
		code   string
	}{
		{
			name: "method not allowed",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodGet, "/upload", nil)
			},
			status: http.StatusMethodNotAllowed,
			code:   "method_not_allowed",
		},
		{
			name: "unauthenticated",
			req: func(t *testing.T) *http.Request {
				req := uploadRequest(t, "game.zip", zipData, "merge")
				req.Header.Del("X-Test-Actor")
				return req
			},
			status: http.StatusUnauthorized,
			code:   "unauthenticated",
		},
		{
			name: "missing file",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "", nil, "merge")
			},
			status: http.StatusBadRequest,
			code:   "upload_rejected",
		},
		{
			name: "invalid mode",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "game.zip", zipData, "replace")
			},
			status: http.StatusBadRequest,
			code:   "upload_rejected",
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(zipData))
				req.Header.Set("X-Test-Actor", "alice")
				return req
			},
			status: http.StatusBadRequest,
			code:   "upload_rejected",
		},
		{
			name: "bomb",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "game.zip", bomb, "merge")
			},
			status: http.StatusBadRequest,
			code:   "bomb_detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t, nil)
			h := NewHandler(e, headerActor, nil)

			rec, resp := serve(h, tt.req(t))
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestHandlerAuditsRequestRejections(t *testing.T) {
	sink := &recordingSink{}
	e, _ := newTestEngine(t, nil, WithAuditSink(sink))
	h := NewHandler(e, headerActor, nil)
	zipData := testutil.NewArchiveBuilder().TextFile("game/a.txt", "a").MustBytes()

	malformed := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(zipData))
	malformed.Header.Set("X-Test-Actor", "alice")

	for _, req := range []*http.Request{
		uploadRequest(t, "game.zip", zipData, "replace"),
		uploadRequest(t, "", nil, "merge"),
		malformed,
	} {
		rec, resp := serve(h, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "upload_rejected", resp.Code)
	}

	require.Len(t, sink.events, 3)
	for _, ev := range sink.events {
		assert.Equal(t, EventUploadRejected, ev.kind)
		assert.Equal(t, "alice", ev.attrs["actor"])
		assert.Equal(t, "upload_rejected", ev.attrs["reason"])
	}
	assert.Equal(t, "game.zip", sink.events[0].attrs["artifact"])
	assert.Equal(t, "", sink.events[1].attrs["artifact"])
}

func TestHandlerRateLimited(t *testing.T) {
	e, _ := newTestEngine(t, nil, WithRateLimiter(NewTokenBucketLimiter(1, time.Hour)))
	h := NewHandler(e, headerActor, nil)
	data := testutil.NewArchiveBuilder().TextFile("a.txt", "a").MustBytes()

	rec, _ := serve(h, uploadRequest(t, "game.zip", data, ""))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := serve(h, uploadRequest(t, "game.zip", data, ""))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", resp.Code)
}

func TestHandlerProtectedDelete(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	h := NewHandler(e, headerActor, nil)
	data, err := testutil.ProtectedFolderArchive("database")
	require.NoError(t, err)

	rec, resp := serve(h, uploadRequest(t, "game.zip", data, "delete"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "protected_path_violation", resp.Code)
	assert.Nil(t, resp.Data)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(ErrIOFailure))
	assert.Equal(t, http.StatusInternalServerError, statusFor(plainError("boom")))
	assert.Equal(t, http.StatusBadRequest, statusFor(ErrContentRejected))
}
