package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/claims-fulfillment/internal/dialog"
	"github.com/wolfman30/claims-fulfillment/internal/idempotency"
	"github.com/wolfman30/claims-fulfillment/internal/observability/metrics"
	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

const (
	maxWebhookBody    = 1 << 20
	// inFlightWait stays under the platform's webhook deadline.
	inFlightWait      = 4 * time.Second
	inFlightPollEvery = 50 * time.Millisecond
)

type claimState int

const (
	claimSkipped claimState = iota
	claimOwned
	claimReplay
	claimBusy
)

// TurnHandler fulfills one webhook turn.
type TurnHandler interface {
	Handle(ctx context.Context, req *dialog.WebhookRequest) (*dialog.WebhookResponse, error)
}

// WebhookHandler serves the fulfillment webhook.
type WebhookHandler struct {
	turns   TurnHandler
	replies idempotency.Cache
	metrics *metrics.FulfillmentMetrics
	logger  *logging.Logger

	wait      time.Duration
	pollEvery time.Duration
}

// NewWebhookHandler builds the webhook endpoint. replies may be nil, in which
// case redelivered turns are fulfilled again. With replies set, a delivery
// that arrives while the same turn is being fulfilled waits for that reply.
func NewWebhookHandler(turns TurnHandler, replies idempotency.Cache, m *metrics.FulfillmentMetrics, logger *logging.Logger) *WebhookHandler {
	if turns == nil {
		panic("handlers: turn handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		turns:     turns,
		replies:   replies,
		metrics:   m,
		logger:    logger,
		wait:      inFlightWait,
		pollEvery: inFlightPollEvery,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var req dialog.WebhookRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	id := req.ResponseID
	stored, state := h.claim(ctx, id)
	switch state {
	case claimReplay:
		h.metrics.ObserveReplay()
		h.logger.Info("replaying stored reply", "response_id", id, "session_id", req.SessionID())
		writeRawJSON(w, http.StatusOK, stored)
		return
	case claimBusy:
		h.logger.Warn("turn still in flight", "response_id", id, "session_id", req.SessionID())
		http.Error(w, "turn already in progress", http.StatusConflict)
		return
	}

	resp, err := h.turns.Handle(ctx, &req)
	if err != nil {
		h.release(ctx, id, state)
		h.writeTurnError(w, err)
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		h.release(ctx, id, state)
		h.logger.Error("encode webhook response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if state == claimOwned {
		if err := h.replies.Complete(context.WithoutCancel(ctx), id, body); err != nil {
			h.logger.Warn("store reply for replay", "response_id", id, "error", err)
		}
	}
	writeRawJSON(w, http.StatusOK, body)
}

// claim reserves the turn for this delivery. While another delivery holds it,
// claim polls until that reply is stored, the claim is released or the wait
// runs out.
func (h *WebhookHandler) claim(ctx context.Context, responseID string) ([]byte, claimState) {
	if h.replies == nil || responseID == "" {
		return nil, claimSkipped
	}
	deadline := time.Now().Add(h.wait)
	for {
		body, done, err := h.replies.Claim(ctx, responseID)
		switch {
		case err == nil && done:
			return body, claimReplay
		case err == nil:
			return nil, claimOwned
		case !errors.Is(err, idempotency.ErrInFlight):
			h.logger.Warn("reply cache unavailable", "response_id", responseID, "error", err)
			return nil, claimSkipped
		}
		if time.Now().Add(h.pollEvery).After(deadline) {
			return nil, claimBusy
		}
		timer := time.NewTimer(h.pollEvery)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, claimBusy
		case <-timer.C:
		}
	}
}

func (h *WebhookHandler) release(ctx context.Context, responseID string, state claimState) {
	if state != claimOwned {
		return
	}
	if err := h.replies.Release(context.WithoutCancel(ctx), responseID); err != nil {
		h.logger.Warn("release turn claim", "response_id", responseID, "error", err)
	}
}

func (h *WebhookHandler) writeTurnError(w http.ResponseWriter, err error) {
	if errors.Is(err, dialog.ErrInvalidRequest) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if pe, ok := dialog.AsProtocolError(err); ok {
		http.Error(w, pe.Message, http.StatusNotFound)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.Copy(w, bytes.NewReader(body))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
