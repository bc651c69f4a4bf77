package adminapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router for the admin plane.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(s.requestCounter)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())
	r.Use(s.tierRateLimit)

	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/register", s.handleAdminRegister)
		r.Post("/login", s.handleAdminLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Get("/stats", s.handleStats)
			r.Get("/users", s.handleListUsers)
			r.Put("/users/{id}", s.handleUpdateUserStatus)
			r.Delete("/users/{id}", s.handleDeleteUser)
		})
	})

	r.Route("/api/config", func(r chi.Router) {
		r.Use(s.requireAdmin)

		r.Get("/routes", s.handleListRoutes)
		r.Post("/routes", s.handleCreateRoute)
		r.Put("/routes/{id}", s.handleUpdateRoute)
		r.Delete("/routes/{id}", s.handleDeleteRoute)

		r.Get("/rate-limits", s.handleListRateLimits)
		r.Post("/rate-limits", s.handleCreateRateLimit)
		r.Put("/rate-limits/{id}", s.handleUpdateRateLimit)
		r.Delete("/rate-limits/{id}", s.handleDeleteRateLimit)

		r.Get("/jwt", s.handleGetJWTConfig)
		r.Put("/jwt", s.handleUpdateJWTConfig)
		r.Get("/jwt-secret", s.handleGetJWTSecretInfo)
		r.Post("/jwt-secret", s.handleRotateJWTSecret)

		r.Get("/smtp", s.handleGetSMTPConfig)
		r.Put("/smtp", s.handleUpdateSMTPConfig)

		r.Get("/api-keys", s.handleListAPIKeys)
		r.Post("/api-keys", s.handleCreateAPIKey)
		r.Delete("/api-keys/{id}", s.handleDeleteAPIKey)
	})

	// Machine callers authenticate with X-API-Key instead of an admin JWT.
	r.Route("/api/external", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Get("/stats", s.handleExternalStats)
		r.Get("/users", s.handleExternalUsers)
		r.Get("/routes", s.handleExternalRoutes)
	})

	return r
}

// corsMiddleware allows the admin SPA to call from any origin; the plane
// is expected to sit behind an operator-only network boundary.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedMethods: []string{
			"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS",
		},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
		AllowOriginFunc: func(_ *http.Request, _ string) bool {
			return true
		},
	})
}
