package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/onsembl/onsembl/server/internal/agentdirectory"
	"github.com/onsembl/onsembl/server/internal/auth"
	"github.com/onsembl/onsembl/server/internal/hub"
	"github.com/onsembl/onsembl/server/internal/router"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It
// is populated in main.go once every component is constructed and passed
// to NewRouter as a single struct to keep the constructor manageable as
// dependencies grow.
type RouterConfig struct {
	AuthService   *auth.AuthService
	Hub           *hub.Hub
	Router        *router.Router
	Directory     *agentdirectory.Directory
	OIDCProviders auth.OIDCProviderRepository
	Logger        *zap.Logger

	// Secure controls whether auth cookies are set with the Secure flag.
	// Set to true in production (HTTPS), false in local development.
	Secure bool
}

// NewRouter builds and returns the fully configured Chi router. The two
// WebSocket endpoints live at the root, not under /api/v1, since they are
// not REST resources; everything else sits under /api/v1.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	jwtMgr := cfg.AuthService.JWTManager()

	wsHandler := NewWSHandler(cfg.Hub, jwtMgr, cfg.Directory, cfg.Logger)
	authHandler := NewAuthHandler(cfg.AuthService, cfg.Logger, cfg.Secure)
	settingsHandler := NewSettingsHandler(cfg.OIDCProviders, cfg.Logger)
	controlHandler := NewControlHandler(cfg.Router, cfg.Logger)

	r.Get("/ws/dashboard", wsHandler.ServeDashboard)
	r.Get("/ws/agent", wsHandler.ServeAgent)

	r.Get("/healthz", Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/refresh", authHandler.Refresh)
			r.Post("/auth/oidc", authHandler.OIDCExchange)
		})

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(jwtMgr))

			r.Post("/auth/logout", authHandler.Logout)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole("admin"))

				r.Post("/agents/emergency-stop", controlHandler.EmergencyStop)

				r.Get("/settings/oidc", settingsHandler.GetOIDC)
				r.Put("/settings/oidc", settingsHandler.UpsertOIDC)
			})
		})
	})

	return r
}
