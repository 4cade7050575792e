package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	adminClaimsKey   contextKey = "adminClaims"
	webhookClaimsKey contextKey = "webhookClaims"

	// WebhookAudience is the aud claim expected on platform webhook tokens.
	WebhookAudience = "claims-webhook"
	// AdminAudience is the aud claim expected on operator tokens.
	AdminAudience = "claims-admin"
)

var errMissingBearer = errors.New("missing authorization header")

// AdminJWT enforces an HMAC-signed bearer JWT for admin endpoints. An empty
// secret rejects every request.
func AdminJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "admin auth disabled", http.StatusUnauthorized)
				return
			}
			claims, err := verifyBearer(r, secret, AdminAudience)
			if err != nil {
				http.Error(w, authMessage(err), http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), adminClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WebhookJWT verifies the bearer token the conversation platform sends with
// each fulfillment call. An empty secret disables the check for local runs.
func WebhookJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := verifyBearer(r, secret, WebhookAudience)
			if err != nil {
				http.Error(w, authMessage(err), http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), webhookClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verifyBearer(r *http.Request, secret, audience string) (jwt.RegisteredClaims, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
		return jwt.RegisteredClaims{}, errMissingBearer
	}
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims,
		func(token *jwt.Token) (any, error) {
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithAudience(audience),
	)
	if err != nil {
		return jwt.RegisteredClaims{}, err
	}
	if !token.Valid {
		return jwt.RegisteredClaims{}, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

func authMessage(err error) string {
	if errors.Is(err, errMissingBearer) {
		return errMissingBearer.Error()
	}
	return "invalid token"
}

// AdminClaimsFromContext returns admin JWT claims if present.
func AdminClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(adminClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}

// WebhookClaimsFromContext returns webhook JWT claims if present.
func WebhookClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(webhookClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}
