package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/claims-fulfillment/internal/archive"
	"github.com/wolfman30/claims-fulfillment/internal/turnlog"
)

type stubMerger struct {
	sessionID string
	caseID    string
	doc       string
	err       error
}

func (s *stubMerger) Merge(_ context.Context, sessionID, remoteCaseID string, _ turnlog.Turn) (string, error) {
	s.sessionID = sessionID
	s.caseID = remoteCaseID
	return s.doc, s.err
}

type stubArchive struct {
	docs map[string]string
	err  error
}

func (s stubArchive) FetchTranscript(_ context.Context, caseID, sessionID string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	doc, ok := s.docs[caseID+"/"+sessionID]
	if !ok {
		return "", archive.ErrNotFound
	}
	return doc, nil
}

func adminRouter(h *AdminTranscriptsHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/admin/sessions/{sessionID}/transcript", h.RenderTranscript)
	r.Get("/admin/sessions/{sessionID}/turns", h.ListTurns)
	r.Get("/admin/cases/{caseID}/sessions/{sessionID}/archive", h.ArchivedTranscript)
	return r
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRenderTranscript(t *testing.T) {
	merger := &stubMerger{doc: "<p>Customer: hi</p><p>Bot: hello</p>"}
	h := NewAdminTranscriptsHandler(merger, turnlog.NewMemoryStore(), nil, quietLogger())

	rec := get(adminRouter(h), "/admin/sessions/abc-123/transcript?caseId=500CASE")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, merger.doc, rec.Body.String())
	assert.Equal(t, "abc-123", merger.sessionID)
	assert.Equal(t, "500CASE", merger.caseID)
}

func TestRenderTranscriptFailure(t *testing.T) {
	h := NewAdminTranscriptsHandler(&stubMerger{err: errors.New("firestore down")}, turnlog.NewMemoryStore(), nil, quietLogger())

	rec := get(adminRouter(h), "/admin/sessions/abc-123/transcript")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "firestore")
}

func TestListTurns(t *testing.T) {
	store := turnlog.NewMemoryStore()
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(context.Background(), "abc-123", "t2", turnlog.Turn{ID: "t2", SessionID: "abc-123", Timestamp: at.Add(time.Minute), Bot: []string{"second"}}))
	require.NoError(t, store.Append(context.Background(), "abc-123", "t1", turnlog.Turn{ID: "t1", SessionID: "abc-123", Timestamp: at, Customer: []string{"first"}}))
	h := NewAdminTranscriptsHandler(&stubMerger{}, store, nil, quietLogger())

	rec := get(adminRouter(h), "/admin/sessions/abc-123/turns")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessionId":"abc-123"`)
	assert.Less(t, strings.Index(rec.Body.String(), `"id":"t1"`), strings.Index(rec.Body.String(), `"id":"t2"`))

	empty := get(adminRouter(h), "/admin/sessions/nobody/turns")
	assert.JSONEq(t, `{"sessionId":"nobody","turns":[]}`, empty.Body.String())
}

func TestArchivedTranscript(t *testing.T) {
	arch := stubArchive{docs: map[string]string{"500CASE/abc-123": "<p>Bot: archived</p>"}}
	h := NewAdminTranscriptsHandler(&stubMerger{}, turnlog.NewMemoryStore(), arch, quietLogger())
	router := adminRouter(h)

	rec := get(router, "/admin/cases/500CASE/sessions/abc-123/archive")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<p>Bot: archived</p>", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(router, "/admin/cases/500CASE/sessions/other/archive").Code)

	h = NewAdminTranscriptsHandler(&stubMerger{}, turnlog.NewMemoryStore(), stubArchive{err: errors.New("s3 down")}, quietLogger())
	assert.Equal(t, http.StatusInternalServerError, get(adminRouter(h), "/admin/cases/500CASE/sessions/abc-123/archive").Code)
}

func TestArchivedTranscriptNotConfigured(t *testing.T) {
	h := NewAdminTranscriptsHandler(&stubMerger{}, turnlog.NewMemoryStore(), nil, quietLogger())
	assert.Equal(t, http.StatusNotImplemented, get(adminRouter(h), "/admin/cases/500CASE/sessions/abc-123/archive").Code)
}
