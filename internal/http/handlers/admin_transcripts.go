package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/claims-fulfillment/internal/archive"
	"github.com/wolfman30/claims-fulfillment/internal/turnlog"
	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

// TranscriptMerger renders a session's transcript, optionally after the one
// stored on a case.
type TranscriptMerger interface {
	Merge(ctx context.Context, sessionID, remoteCaseID string, current turnlog.Turn) (string, error)
}

// ArchiveReader fetches archived transcripts.
type ArchiveReader interface {
	FetchTranscript(ctx context.Context, caseID, sessionID string) (string, error)
}

// AdminTranscriptsHandler exposes transcripts to operators.
type AdminTranscriptsHandler struct {
	merger  TranscriptMerger
	turns   turnlog.Store
	archive ArchiveReader
	logger  *logging.Logger
}

// NewAdminTranscriptsHandler wires the admin transcript endpoints. archive is optional.
func NewAdminTranscriptsHandler(merger TranscriptMerger, turns turnlog.Store, archive ArchiveReader, logger *logging.Logger) *AdminTranscriptsHandler {
	if merger == nil || turns == nil {
		panic("handlers: transcript merger and turn store are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminTranscriptsHandler{merger: merger, turns: turns, archive: archive, logger: logger}
}

// RenderTranscript handles GET /admin/sessions/{sessionID}/transcript?caseId=.
func (h *AdminTranscriptsHandler) RenderTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	caseID := strings.TrimSpace(r.URL.Query().Get("caseId"))

	doc, err := h.merger.Merge(r.Context(), sessionID, caseID, turnlog.Turn{})
	if err != nil {
		h.logger.Error("render transcript", "session_id", sessionID, "case_id", caseID, "error", err)
		http.Error(w, "failed to render transcript", http.StatusInternalServerError)
		return
	}
	writeHTML(w, doc)
}

type turnsResponse struct {
	SessionID string         `json:"sessionId"`
	Turns     []turnlog.Turn `json:"turns"`
}

// ListTurns handles GET /admin/sessions/{sessionID}/turns.
func (h *AdminTranscriptsHandler) ListTurns(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	turns, err := h.turns.ListOrdered(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("list turns", "session_id", sessionID, "error", err)
		http.Error(w, "failed to list turns", http.StatusInternalServerError)
		return
	}
	if turns == nil {
		turns = []turnlog.Turn{}
	}
	writeJSON(w, http.StatusOK, turnsResponse{SessionID: sessionID, Turns: turns})
}

// ArchivedTranscript handles GET /admin/cases/{caseID}/sessions/{sessionID}/archive.
func (h *AdminTranscriptsHandler) ArchivedTranscript(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		http.Error(w, "transcript archive not configured", http.StatusNotImplemented)
		return
	}
	caseID := chi.URLParam(r, "caseID")
	sessionID := chi.URLParam(r, "sessionID")
	doc, err := h.archive.FetchTranscript(r.Context(), caseID, sessionID)
	if errors.Is(err, archive.ErrNotFound) {
		http.Error(w, "transcript not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("fetch archived transcript", "case_id", caseID, "session_id", sessionID, "error", err)
		http.Error(w, "failed to fetch transcript", http.StatusInternalServerError)
		return
	}
	writeHTML(w, doc)
}

func writeHTML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
