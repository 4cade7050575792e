// Package main runs end-to-end checks of the fulfillment webhook against a
// running API.
//
// Scenarios cover:
//   - Health and readiness probes
//   - A claim intro turn staging its confirmation context
//   - Reply replay for a redelivered responseId
//   - Unknown intents and malformed payloads
//   - The admin turn log for the exercised session
//
// Usage:
//
//	API_BASE_URL=... go run ./scripts/e2e                    # runs all
//	API_BASE_URL=... go run ./scripts/e2e replay             # runs one
//
// WEBHOOK_JWT_SECRET and ADMIN_JWT_SECRET must match the API's when it has
// them set. The admin scenario is skipped without ADMIN_JWT_SECRET.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/claims-fulfillment/internal/dialog"
	"github.com/wolfman30/claims-fulfillment/internal/http/middleware"
)

const (
	projectPath  = "projects/claims-e2e/agent/sessions/"
	maxWait      = 15 * time.Second
	pollInterval = 500 * time.Millisecond
)

var (
	apiBase      string
	webhookToken string
	adminToken   string
)

var client = &http.Client{Timeout: 10 * time.Second}

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...any) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

func signToken(secret, audience string) string {
	if secret == "" {
		return ""
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "e2e",
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign %s token: %v\n", audience, err)
		os.Exit(1)
	}
	return signed
}

func webhookRequest(sessionID, responseID, intent string) dialog.WebhookRequest {
	return dialog.WebhookRequest{
		Session:    projectPath + sessionID,
		ResponseID: responseID,
		QueryResult: dialog.QueryResult{
			QueryText:    "e2e",
			LanguageCode: "en",
			Intent:       dialog.IntentInfo{DisplayName: intent},
		},
	}
}

func postRaw(body []byte) (int, []byte, error) {
	req, err := http.NewRequest(http.MethodPost, apiBase+"/webhooks/dialogflow", bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if webhookToken != "" {
		req.Header.Set("Authorization", "Bearer "+webhookToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, err
}

func post(req dialog.WebhookRequest) (int, []byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, nil, err
	}
	return postRaw(body)
}

func get(path, token string) (int, []byte, error) {
	req, err := http.NewRequest(http.MethodGet, apiBase+path, nil)
	if err != nil {
		return 0, nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, err
}

func firstText(resp dialog.WebhookResponse) string {
	for _, m := range resp.FulfillmentMessages {
		if len(m.Text.Text) > 0 {
			return m.Text.Text[0]
		}
	}
	return ""
}

func hasContext(resp dialog.WebhookResponse, name string) bool {
	for _, c := range resp.OutputContexts {
		if strings.HasSuffix(c.Name, "/contexts/"+name) {
			return true
		}
	}
	return false
}

func healthScenario(t *T) {
	for _, path := range []string{"/health", "/ready"} {
		status, _, err := get(path, "")
		if err != nil {
			t.fatalf("GET %s: %v", path, err)
			continue
		}
		t.check(path+" returns 200", status == http.StatusOK)
	}
}

func claimIntroScenario(t *T) {
	status, body, err := post(webhookRequest(uuid.NewString(), uuid.NewString(), "Water Damage Claim"))
	if err != nil {
		t.fatalf("post: %v", err)
		return
	}
	t.check("status 200", status == http.StatusOK)

	var resp dialog.WebhookResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.fatalf("decode reply: %v (%s)", err, body)
		return
	}
	t.check("reply has text", firstText(resp) != "")
	t.check("confirmation context staged", hasContext(resp, dialog.CtxWaterClaimConfirmation))
}

func replayScenario(t *T) {
	req := webhookRequest(uuid.NewString(), uuid.NewString(), "Electric Damage Claim")
	_, first, err := post(req)
	if err != nil {
		t.fatalf("first post: %v", err)
		return
	}
	status, second, err := post(req)
	if err != nil {
		t.fatalf("second post: %v", err)
		return
	}
	t.check("redelivery returns 200", status == http.StatusOK)
	t.check("redelivery replays the first reply", bytes.Equal(first, second))
}

func rejectionScenario(t *T) {
	status, _, err := post(webhookRequest(uuid.NewString(), uuid.NewString(), "Order Pizza"))
	if err != nil {
		t.fatalf("post: %v", err)
		return
	}
	t.check("unknown intent returns 404", status == http.StatusNotFound)

	status, _, err = postRaw([]byte(`{"session":`))
	if err != nil {
		t.fatalf("post: %v", err)
		return
	}
	t.check("malformed payload returns 400", status == http.StatusBadRequest)
}

func turnLogScenario(t *T) {
	if adminToken == "" {
		fmt.Println("    SKIP: ADMIN_JWT_SECRET not set")
		return
	}
	sessionID := uuid.NewString()
	if _, _, err := post(webhookRequest(sessionID, uuid.NewString(), "Water Damage Claim")); err != nil {
		t.fatalf("post: %v", err)
		return
	}

	// The turn log may be written by a queue worker.
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		status, body, err := get("/admin/sessions/"+sessionID+"/turns", adminToken)
		if err == nil && status == http.StatusOK {
			var out struct {
				Turns []json.RawMessage `json:"turns"`
			}
			if json.Unmarshal(body, &out) == nil && len(out.Turns) > 0 {
				t.check("turn recorded", true)
				return
			}
		}
		time.Sleep(pollInterval)
	}
	t.check("turn recorded", false)
}

var scenarios = []scenario{
	{"health", healthScenario},
	{"claim-intro", claimIntroScenario},
	{"replay", replayScenario},
	{"rejections", rejectionScenario},
	{"turn-log", turnLogScenario},
}

func main() {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if apiBase == "" {
		apiBase = "http://localhost:8080"
	}
	webhookToken = signToken(os.Getenv("WEBHOOK_JWT_SECRET"), middleware.WebhookAudience)
	adminToken = signToken(os.Getenv("ADMIN_JWT_SECRET"), middleware.AdminAudience)

	only := ""
	if len(os.Args) > 1 {
		only = os.Args[1]
	}

	var passed, failed int
	for _, sc := range scenarios {
		if only != "" && sc.Name != only {
			continue
		}
		fmt.Printf("=== %s\n", sc.Name)
		t := &T{}
		sc.Fn(t)
		passed += t.passed
		failed += t.failed
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
