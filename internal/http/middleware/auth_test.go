package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func signedToken(t *testing.T, secret, audience string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "operator-1",
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func serve(mw func(http.Handler) http.Handler, token string, called *bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mw(okHandler(called)).ServeHTTP(rec, req)
	return rec
}

func TestAdminJWTMissingSecret(t *testing.T) {
	var called bool
	rec := serve(AdminJWT(""), signedToken(t, "", AdminAudience, time.Minute), &called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestAdminJWTMissingHeader(t *testing.T) {
	var called bool
	rec := serve(AdminJWT("secret"), "", &called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing authorization header")
}

func TestAdminJWTRejectsBadTokens(t *testing.T) {
	cases := map[string]string{
		"wrong secret":   signedToken(t, "wrong", AdminAudience, time.Minute),
		"wrong audience": signedToken(t, "secret", WebhookAudience, time.Minute),
		"expired":        signedToken(t, "secret", AdminAudience, -time.Minute),
		"garbage":        "not-a-jwt",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			var called bool
			rec := serve(AdminJWT("secret"), token, &called)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "invalid token")
			assert.False(t, called)
		})
	}
}

func TestAdminJWTValidToken(t *testing.T) {
	mw := AdminJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "secret", AdminAudience, time.Minute))
	rec := httptest.NewRecorder()

	var subject string
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := AdminClaimsFromContext(r.Context())
		require.True(t, ok)
		subject = claims.Subject
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operator-1", subject)
}

func TestWebhookJWTDisabledWithoutSecret(t *testing.T) {
	var called bool
	rec := serve(WebhookJWT(""), "", &called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestWebhookJWT(t *testing.T) {
	var called bool
	rec := serve(WebhookJWT("hook"), signedToken(t, "hook", WebhookAudience, time.Minute), &called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)

	called = false
	rec = serve(WebhookJWT("hook"), signedToken(t, "hook", AdminAudience, time.Minute), &called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}
