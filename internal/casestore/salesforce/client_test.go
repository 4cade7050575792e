package salesforce

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wolfman30/claims-fulfillment/internal/casestore"
)

type fakeOrg struct {
	t          *testing.T
	logins     atomic.Int32
	rejectNext atomic.Bool
	server     *httptest.Server
	failNext   atomic.Int32
	posts      atomic.Int32
	lastBody   string
	lastQuery  string
}

func newFakeOrg(t *testing.T) *fakeOrg {
	t.Helper()
	org := &fakeOrg{t: t}
	org.server = httptest.NewServer(http.HandlerFunc(org.serve))
	t.Cleanup(org.server.Close)
	return org
}

func (o *fakeOrg) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/services/oauth2/token" {
		if err := r.ParseForm(); err != nil {
			o.t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("password") != "secretTOKEN" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		o.logins.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "instance_url": o.server.URL})
		return
	}
	if r.Header.Get("Authorization") != "Bearer tok" || o.rejectNext.Swap(false) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`[{"errorCode":"INVALID_SESSION_ID","message":"Session expired"}]`))
		return
	}
	if r.Method == http.MethodPost {
		o.posts.Add(1)
	}
	if status := o.failNext.Swap(0); status != 0 {
		w.WriteHeader(int(status))
		w.Write([]byte(`[{"errorCode":"SERVER_ERROR","message":"try again"}]`))
		return
	}
	body, _ := io.ReadAll(r.Body)
	o.lastBody = string(body)
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/services/data/v58.0/query":
		o.lastQuery = r.URL.Query().Get("q")
		w.Write([]byte(`{"done":true,"records":[{"attributes":{"type":"Account"},"Id":"001A","Cases":{"done":true,"records":[{"attributes":{"type":"Case"},"Id":"500X","Description":"leak"}]}}]}`))
	case r.Method == http.MethodGet && r.URL.Path == "/services/data/v58.0/sobjects/Case/500X":
		w.Write([]byte(`{"attributes":{"type":"Case"},"Id":"500X","Transcript__c":"<p>Bot: hi</p>"}`))
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/services/data/v58.0/sobjects/Case/"):
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`[{"errorCode":"NOT_FOUND","message":"The requested resource does not exist"}]`))
	case r.Method == http.MethodPost && r.URL.Path == "/services/data/v58.0/sobjects/Case":
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"500NEW","success":true,"errors":[]}`))
	case r.Method == http.MethodPatch && r.URL.Path == "/services/data/v58.0/sobjects/Case/500X":
		w.WriteHeader(http.StatusNoContent)
	default:
		o.t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
	}
}

func newTestClient(t *testing.T, org *fakeOrg, password string) *Client {
	t.Helper()
	client, err := New(Config{
		LoginURL:      org.server.URL,
		ClientID:      "cid",
		ClientSecret:  "csecret",
		Username:      "bot@example.com",
		Password:      password,
		SecurityToken: "TOKEN",
		Backoff:       time.Millisecond,
		HTTPClient:    org.server.Client(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected credentials validation error")
	}
	if _, err := New(Config{Username: "u", Password: "p"}); err == nil {
		t.Fatalf("expected client id validation error")
	}
	client, err := New(Config{Username: "u", Password: "p", ClientID: "c"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.loginURL != defaultLoginURL || client.apiVersion != defaultAPIVersion {
		t.Fatalf("expected defaults, got %s %s", client.loginURL, client.apiVersion)
	}
}

func TestAuthenticateReusesToken(t *testing.T) {
	org := newFakeOrg(t)
	client := newTestClient(t, org, "secret")
	ctx := context.Background()

	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got := org.logins.Load(); got != 1 {
		t.Fatalf("expected one login, got %d", got)
	}

	client.now = func() time.Time { return time.Now().Add(time.Hour) }
	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got := org.logins.Load(); got != 2 {
		t.Fatalf("expected token refresh after ttl, got %d logins", got)
	}
}

func TestAuthenticateRejected(t *testing.T) {
	org := newFakeOrg(t)
	client := newTestClient(t, org, "wrong")
	err := client.Authenticate(context.Background())
	if !errors.Is(err, casestore.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestQueryFlattensRelationships(t *testing.T) {
	org := newFakeOrg(t)
	client := newTestClient(t, org, "secret")

	records, err := client.Query(context.Background(), casestore.Query{
		Entity: "Account",
		Fields: []string{"Id"},
		Where:  []casestore.Condition{casestore.Eq("AccountNumber", "12'3")},
		Include: &casestore.Include{
			Relationship: "Cases",
			Fields:       []string{"Id", "Description"},
			Limit:        1,
		},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if _, ok := records[0]["attributes"]; ok {
		t.Fatalf("attributes should be stripped")
	}
	cases := records[0].Children("Cases")
	if len(cases) != 1 || cases[0].ID() != "500X" {
		t.Fatalf("unexpected cases: %#v", cases)
	}
	if !strings.Contains(org.lastQuery, `AccountNumber = '12\'3'`) {
		t.Fatalf("expected escaped literal, got %s", org.lastQuery)
	}
}

func TestRetrieveCreateUpdate(t *testing.T) {
	org := newFakeOrg(t)
	client := newTestClient(t, org, "secret")
	ctx := context.Background()

	rec, err := client.Retrieve(ctx, "Case", "500X")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if rec.String("Transcript__c") != "<p>Bot: hi</p>" {
		t.Fatalf("unexpected record %#v", rec)
	}

	id, err := client.Create(ctx, "Case", casestore.Record{"Subject": "Water Damage Claim"})
	if err != nil || id != "500NEW" {
		t.Fatalf("create: id=%s err=%v", id, err)
	}
	if !strings.Contains(org.lastBody, `"Subject":"Water Damage Claim"`) {
		t.Fatalf("unexpected body %s", org.lastBody)
	}

	if err := client.Update(ctx, "Case", "500X", casestore.Record{"Description": "new"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	_, err = client.Retrieve(ctx, "Case", "500MISSING")
	if !errors.Is(err, casestore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExpiredSessionReauthenticatesOnce(t *testing.T) {
	org := newFakeOrg(t)
	client := newTestClient(t, org, "secret")
	ctx := context.Background()
	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	org.rejectNext.Store(true)

	if _, err := client.Retrieve(ctx, "Case", "500X"); err != nil {
		t.Fatalf("retrieve after expiry: %v", err)
	}
	if got := org.logins.Load(); got != 2 {
		t.Fatalf("expected re-login, got %d logins", got)
	}
}

func TestCreateIsNotRetriedAfterServerError(t *testing.T) {
	org := newFakeOrg(t)
	client := newTestClient(t, org, "secret")
	client.maxRetries = 2
	ctx := context.Background()

	org.failNext.Store(http.StatusInternalServerError)
	id, err := client.Create(ctx, "Case", casestore.Record{"Subject": "Water Damage Claim"})
	if err == nil {
		t.Fatalf("expected error, got id=%s", id)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 APIError, got %v", err)
	}
	if got := org.posts.Load(); got != 1 {
		t.Fatalf("expected a single POST, got %d", got)
	}
}

func TestCreateRetriesWhenThrottled(t *testing.T) {
	org := newFakeOrg(t)
	client := newTestClient(t, org, "secret")
	client.maxRetries = 2

	org.failNext.Store(http.StatusTooManyRequests)
	id, err := client.Create(context.Background(), "Case", casestore.Record{"Subject": "Water Damage Claim"})
	if err != nil || id != "500NEW" {
		t.Fatalf("create: id=%s err=%v", id, err)
	}
	if got := org.posts.Load(); got != 2 {
		t.Fatalf("expected throttled POST to be resent once, got %d", got)
	}
}

func TestReadsAndUpdatesRetryServerErrors(t *testing.T) {
	org := newFakeOrg(t)
	client := newTestClient(t, org, "secret")
	client.maxRetries = 2
	ctx := context.Background()

	org.failNext.Store(http.StatusServiceUnavailable)
	if _, err := client.Retrieve(ctx, "Case", "500X"); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	org.failNext.Store(http.StatusBadGateway)
	if err := client.Update(ctx, "Case", "500X", casestore.Record{"Description": "new"}); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		method string
		status int
		want   bool
	}{
		{http.MethodGet, http.StatusInternalServerError, true},
		{http.MethodPatch, http.StatusBadGateway, true},
		{http.MethodPost, http.StatusInternalServerError, false},
		{http.MethodPost, http.StatusTooManyRequests, true},
		{http.MethodGet, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		if got := shouldRetry(tt.method, tt.status); got != tt.want {
			t.Errorf("shouldRetry(%s, %d) = %v, want %v", tt.method, tt.status, got, tt.want)
		}
	}
}

func TestBuildSOQL(t *testing.T) {
	got, err := BuildSOQL(casestore.Query{
		Entity: "Account",
		Fields: []string{"Id", "Birth_City__c"},
		Where:  []casestore.Condition{casestore.Eq("AccountNumber", "42")},
		Include: &casestore.Include{
			Relationship: "Cases",
			Fields:       []string{"Id", "CreatedDate", "Description"},
			Where:        []casestore.Condition{{Field: "Status", Op: casestore.OpNe, Value: "Closed"}},
			OrderBy:      &casestore.Order{Field: "CreatedDate", Desc: true},
			Limit:        1,
		},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "SELECT Id, Birth_City__c, (SELECT Id, CreatedDate, Description FROM Cases WHERE Status != 'Closed' ORDER BY CreatedDate DESC LIMIT 1) FROM Account WHERE AccountNumber = '42'"
	if got != want {
		t.Fatalf("unexpected soql:\n got %s\nwant %s", got, want)
	}

	date := casestore.DateValue(time.Date(2006, 3, 1, 0, 0, 0, 0, time.UTC))
	got, err = BuildSOQL(casestore.Query{
		Entity: "Contact",
		Where:  []casestore.Condition{{Field: "Birthdate", Op: casestore.OpGt, Value: date}},
		Limit:  1,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got != "SELECT Id FROM Contact WHERE Birthdate > 2006-03-01 LIMIT 1" {
		t.Fatalf("unexpected soql %s", got)
	}

	if _, err := BuildSOQL(casestore.Query{Entity: "Account; DELETE"}); err == nil {
		t.Fatalf("expected invalid entity error")
	}
}
