package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/claims-fulfillment/internal/dialog"
	"github.com/wolfman30/claims-fulfillment/internal/idempotency"
	"github.com/wolfman30/claims-fulfillment/internal/observability/metrics"
	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

type stubTurns struct {
	mu    sync.Mutex
	calls int
	resp  *dialog.WebhookResponse
	err   error
	seen  *dialog.WebhookRequest
}

func (s *stubTurns) Handle(_ context.Context, req *dialog.WebhookRequest) (*dialog.WebhookResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.seen = req
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

// blockingTurns holds every Handle call until release is closed.
type blockingTurns struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
	resp    *dialog.WebhookResponse
}

func newBlockingTurns(resp *dialog.WebhookResponse) *blockingTurns {
	return &blockingTurns{started: make(chan struct{}), release: make(chan struct{}), resp: resp}
}

func (b *blockingTurns) Handle(ctx context.Context, _ *dialog.WebhookRequest) (*dialog.WebhookResponse, error) {
	b.calls.Add(1)
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return b.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type failingCache struct{}

func (failingCache) Claim(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("redis down")
}

func (failingCache) Complete(context.Context, string, []byte) error {
	return errors.New("redis down")
}

func (failingCache) Release(context.Context, string) error {
	return errors.New("redis down")
}

const webhookBody = `{
	"session": "projects/p/agent/sessions/abc-123",
	"responseId": "resp-1",
	"queryResult": {
		"queryText": "my basement flooded",
		"languageCode": "en",
		"intent": {"displayName": "Water Damage Claim"}
	}
}`

func reply(text string) *dialog.WebhookResponse {
	return &dialog.WebhookResponse{
		FulfillmentMessages: []dialog.FulfillmentMessage{{Text: dialog.TextMessage{Text: []string{text}}}},
		OutputContexts:      []dialog.Context{},
	}
}

func quietLogger() *logging.Logger {
	return logging.NewWithWriter("error", &strings.Builder{})
}

func postWebhook(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/dialogflow", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandlerSuccess(t *testing.T) {
	turns := &stubTurns{resp: reply("Is it water damage?")}
	h := NewWebhookHandler(turns, nil, nil, quietLogger())

	rec := postWebhook(h, webhookBody)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"fulfillmentMessages":[{"text":{"text":["Is it water damage?"]}}],"outputContexts":[]}`, rec.Body.String())
	assert.Equal(t, "abc-123", turns.seen.SessionID())
	assert.Equal(t, "my basement flooded", turns.seen.QueryResult.QueryText)
}

func TestWebhookHandlerReplaysRedelivery(t *testing.T) {
	turns := &stubTurns{resp: reply("Case created.")}
	reg := prometheus.NewRegistry()
	m := metrics.NewFulfillmentMetrics(reg)
	h := NewWebhookHandler(turns, idempotency.NewMemoryCache(time.Minute), m, quietLogger())

	first := postWebhook(h, webhookBody)
	second := postWebhook(h, webhookBody)

	assert.Equal(t, 1, turns.calls)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	expected := `
# HELP claims_fulfillment_replayed_responses_total Webhook deliveries answered from the response cache
# TYPE claims_fulfillment_replayed_responses_total counter
claims_fulfillment_replayed_responses_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "claims_fulfillment_replayed_responses_total"))
}

func TestWebhookHandlerCacheFailureStillAnswers(t *testing.T) {
	turns := &stubTurns{resp: reply("ok")}
	h := NewWebhookHandler(turns, failingCache{}, nil, quietLogger())

	rec := postWebhook(h, webhookBody)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, turns.calls)
}

func TestWebhookHandlerErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantBody string
	}{
		{"malformed json", `{"session":`, nil, http.StatusBadRequest, "invalid JSON payload"},
		{"invalid request", webhookBody, dialog.ErrInvalidRequest, http.StatusBadRequest, "invalid webhook request"},
		{"unknown intent", webhookBody, dialog.UnknownIntent("Order Pizza"), http.StatusNotFound, "No fulfillment found for intent: Order Pizza"},
		{"unsupported language", webhookBody, dialog.UnsupportedLanguage("de"), http.StatusNotFound, "No fulfilment message available for language: de"},
		{"internal", webhookBody, errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turns := &stubTurns{err: tt.err}
			h := NewWebhookHandler(turns, idempotency.NewMemoryCache(time.Minute), nil, quietLogger())

			rec := postWebhook(h, tt.body)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
			assert.NotContains(t, rec.Body.String(), "boom")
		})
	}
}

func TestWebhookHandlerDoesNotCacheFailures(t *testing.T) {
	turns := &stubTurns{err: errors.New("crm down")}
	h := NewWebhookHandler(turns, idempotency.NewMemoryCache(time.Minute), nil, quietLogger())

	postWebhook(h, webhookBody)
	turns.err = nil
	turns.resp = reply("retry worked")
	rec := postWebhook(h, webhookBody)

	assert.Equal(t, 2, turns.calls)
	assert.Contains(t, rec.Body.String(), "retry worked")
}

func TestWebhookHandlerConcurrentRedeliveryFulfillsOnce(t *testing.T) {
	turns := newBlockingTurns(reply("Case created."))
	h := NewWebhookHandler(turns, idempotency.NewMemoryCache(time.Minute), nil, quietLogger())
	h.pollEvery = time.Millisecond

	results := make(chan *httptest.ResponseRecorder, 2)
	go func() { results <- postWebhook(h, webhookBody) }()
	<-turns.started
	go func() { results <- postWebhook(h, webhookBody) }()
	close(turns.release)

	first, second := <-results, <-results
	assert.Equal(t, int32(1), turns.calls.Load())
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestWebhookHandlerRedeliveryGivesUpWhileInFlight(t *testing.T) {
	turns := newBlockingTurns(reply("Case created."))
	h := NewWebhookHandler(turns, idempotency.NewMemoryCache(time.Minute), nil, quietLogger())
	h.wait = 20 * time.Millisecond
	h.pollEvery = time.Millisecond

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() { firstDone <- postWebhook(h, webhookBody) }()
	<-turns.started

	rec := postWebhook(h, webhookBody)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "turn already in progress")

	close(turns.release)
	assert.Equal(t, http.StatusOK, (<-firstDone).Code)
	assert.Equal(t, int32(1), turns.calls.Load())
}

func TestNewWebhookHandlerPanicsWithoutTurns(t *testing.T) {
	assert.Panics(t, func() { NewWebhookHandler(nil, nil, nil, nil) })
}
