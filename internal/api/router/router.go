package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/claims-fulfillment/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/claims-fulfillment/internal/http/middleware"
	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger           *logging.Logger
	Webhook          http.Handler
	AdminTranscripts *handlers.AdminTranscriptsHandler
	MetricsHandler   http.Handler

	WebhookAuthSecret  string
	AdminAuthSecret    string
	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	// ReadinessCheck reports whether backing stores are reachable (optional).
	ReadinessCheck func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", health)
	r.Get("/ready", readiness(cfg.ReadinessCheck))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Webhook != nil {
		r.Group(func(hook chi.Router) {
			hook.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
			hook.Use(httpmiddleware.WebhookJWT(cfg.WebhookAuthSecret))
			hook.Method(http.MethodPost, "/webhooks/dialogflow", cfg.Webhook)
		})
	}

	if cfg.AdminTranscripts != nil {
		r.Route("/admin", func(admin chi.Router) {
			if len(cfg.CORSAllowedOrigins) > 0 {
				admin.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
			}
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Use(middleware.Compress(5))
			admin.Route("/sessions/{sessionID}", func(s chi.Router) {
				s.Get("/transcript", cfg.AdminTranscripts.RenderTranscript)
				s.Get("/turns", cfg.AdminTranscripts.ListTurns)
			})
			admin.Get("/cases/{caseID}/sessions/{sessionID}/archive", cfg.AdminTranscripts.ArchivedTranscript)
		})
	}

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, "ok")
}

func readiness(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check == nil {
			writeStatus(w, http.StatusOK, "ready")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := check(ctx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
