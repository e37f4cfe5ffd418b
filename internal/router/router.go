package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aesop-rag/aesop/internal/handler"
	"github.com/aesop-rag/aesop/internal/middleware"
)

// Dependencies holds all injected services needed by the router.
type Dependencies struct {
	DB          handler.DBPinger
	Version     string
	FrontendURL string
	Metrics     *middleware.Metrics
	MetricsReg  *prometheus.Registry

	Orchestrator handler.ChatOrchestrator
	Sessions     handler.SessionStore

	AdminMigrateDeps   handler.AdminMigrateDeps
	InternalAuthSecret string

	// ChatRateLimiter, if set, caps /chat requests per session. Nil disables
	// rate limiting (e.g. in local development).
	ChatRateLimiter *middleware.RateLimiter
}

// internalAuthOnly wraps a handler with a simple internal auth check.
// Used for admin endpoints called by the deploy pipeline (no end-user
// identity involved).
func internalAuthOnly(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Internal-Auth")
		if secret == "" || token != secret {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   "unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r)
	}
}

// New creates and configures the Chi router with all routes.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.FrontendURL))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	// Public routes
	r.Get("/health", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	// Admin routes (internal auth only — called by the deploy pipeline)
	r.Post("/admin/migrate", internalAuthOnly(deps.InternalAuthSecret,
		handler.AdminMigrate(deps.AdminMigrateDeps)))

	timeout30s := middleware.Timeout(30 * time.Second)

	// /chat drives the full orchestrator: intent classification, routing,
	// the CRAG loop, context Q&A, or chat/utility handling. It gets a
	// generous timeout (up to 3 CRAG iterations) and is rate limited per
	// session rather than per remote address where possible.
	chatMiddleware := []func(http.Handler) http.Handler{
		middleware.Timeout(90 * time.Second),
		middleware.SessionKey,
	}
	if deps.ChatRateLimiter != nil {
		chatMiddleware = append(chatMiddleware, middleware.RateLimit(deps.ChatRateLimiter))
	}
	r.With(chatMiddleware...).Post("/chat", handler.Chat(deps.Orchestrator))

	r.With(timeout30s).Get("/session/{id}", handler.GetSession(deps.Sessions))
	r.With(timeout30s).Delete("/session/{id}", handler.DeleteSession(deps.Sessions))

	// 404 fallback
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "route not found",
		})
	})

	return r
}
