package authapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi router for the auth plane.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.ipRateLimit)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/register/verify", s.handleRegisterVerify)
		r.Post("/login/init", s.handleLoginInit)
		r.Post("/login/verify", s.handleLoginVerify)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/password/reset", s.handlePasswordReset)
		r.Post("/password/reset/confirm", s.handlePasswordResetConfirm)

		if s.cfg.Captcha.Enabled {
			r.Get("/captcha", s.handleCaptcha)
		}
	})

	return r
}
