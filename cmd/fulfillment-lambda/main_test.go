package main

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiEvent(method, path, body string, headers map[string]string) events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{
		RawPath: path,
		Body:    body,
		Headers: headers,
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{
				Method:   method,
				Path:     path,
				SourceIP: "203.0.113.7",
			},
		},
	}
}

func testConfig(baseURL string) config {
	return config{upstreamBaseURL: baseURL, upstreamTimeout: time.Second}
}

func TestHandleHealth(t *testing.T) {
	resp, err := handle(context.Background(), testConfig("http://example.com"), http.DefaultClient, apiEvent(http.MethodGet, "/health", "", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", resp.Body)
}

func TestHandleRejectsOtherRoutes(t *testing.T) {
	cfg := testConfig("http://example.com")

	resp, err := handle(context.Background(), cfg, http.DefaultClient, apiEvent(http.MethodGet, webhookPath, "", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = handle(context.Background(), cfg, http.DefaultClient, apiEvent(http.MethodPost, "/admin/sessions/x/transcript", "", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleForwardsWebhook(t *testing.T) {
	var gotBody, gotAuth, gotIP string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotAuth = r.Header.Get("Authorization")
		gotIP = r.Header.Get("X-Real-Ip")
		assert.Equal(t, webhookPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"fulfillmentMessages":[]}`))
	}))
	defer upstream.Close()

	payload := `{"session":"projects/p/agent/sessions/s1"}`
	evt := apiEvent(http.MethodPost, webhookPath, base64.StdEncoding.EncodeToString([]byte(payload)), map[string]string{"Authorization": "Bearer abc"})
	evt.IsBase64Encoded = true

	resp, err := handle(context.Background(), testConfig(upstream.URL), upstream.Client(), evt)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Headers["content-type"])
	assert.Equal(t, payload, gotBody)
	assert.Equal(t, "Bearer abc", gotAuth)
	assert.Equal(t, "203.0.113.7", gotIP)
}

func TestHandleUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	upstream.Close()

	resp, err := handle(context.Background(), testConfig(upstream.URL), http.DefaultClient, apiEvent(http.MethodPost, webhookPath, "{}", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHandleInvalidBase64(t *testing.T) {
	evt := apiEvent(http.MethodPost, webhookPath, "%%%", nil)
	evt.IsBase64Encoded = true

	resp, err := handle(context.Background(), testConfig("http://example.com"), http.DefaultClient, evt)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("UPSTREAM_BASE_URL", "")
	_, err := loadConfig()
	assert.Error(t, err)

	t.Setenv("UPSTREAM_BASE_URL", "https://api.example.com/")
	t.Setenv("UPSTREAM_TIMEOUT", "2s")
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.upstreamBaseURL)
	assert.Equal(t, 2*time.Second, cfg.upstreamTimeout)
}
