package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arclabs/arcgate/pkg/httperr"
	"github.com/arclabs/arcgate/pkg/ratelimit"
	"github.com/arclabs/arcgate/pkg/store"
	"github.com/arclabs/arcgate/pkg/token"
)

// --- Proxy routes ---

func (s *server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := s.store.ListProxyRoutes(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list routes")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	writeJSON(w, http.StatusOK, routes)
}

type routeRequest struct {
	PathPrefix  string `json:"path_prefix"`
	Upstream    string `json:"upstream"`
	RequireAuth bool   `json:"require_auth"`
	StripPrefix string `json:"strip_prefix"`
	Enabled     bool   `json:"enabled"`
}

func (req *routeRequest) validate() error {
	if !strings.HasPrefix(req.PathPrefix, "/") {
		return httperr.InvalidRequest("path_prefix must start with /")
	}

	if req.Upstream == "" {
		return httperr.InvalidRequest("upstream is required")
	}

	return nil
}

func (s *server) handleCreateRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, "", httperr.InvalidRequest("invalid request body"))

		return
	}

	if err := req.validate(); err != nil {
		httperr.Write(w, "", err)

		return
	}

	route := &store.ProxyRoute{
		PathPrefix:  req.PathPrefix,
		Upstream:    req.Upstream,
		RequireAuth: req.RequireAuth,
		StripPrefix: req.StripPrefix,
		Enabled:     req.Enabled,
	}

	if err := s.store.CreateProxyRoute(r.Context(), route); err != nil {
		s.log.WithError(err).Error("Failed to create route")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	s.rebuildRoutes(r)
	writeJSON(w, http.StatusCreated, route)
}

func (s *server) handleUpdateRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, "", httperr.InvalidRequest("invalid request body"))

		return
	}

	if err := req.validate(); err != nil {
		httperr.Write(w, "", err)

		return
	}

	route := &store.ProxyRoute{
		ID:          chi.URLParam(r, "id"),
		PathPrefix:  req.PathPrefix,
		Upstream:    req.Upstream,
		RequireAuth: req.RequireAuth,
		StripPrefix: req.StripPrefix,
		Enabled:     req.Enabled,
	}

	if err := s.store.UpdateProxyRoute(r.Context(), route); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httperr.Write(w, "", httperr.ErrNotFound)

			return
		}

		s.log.WithError(err).Error("Failed to update route")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	s.rebuildRoutes(r)
	writeJSON(w, http.StatusOK, route)
}

func (s *server) handleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProxyRoute(
		r.Context(), chi.URLParam(r, "id"),
	); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httperr.Write(w, "", httperr.ErrNotFound)

			return
		}

		s.log.WithError(err).Error("Failed to delete route")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	s.rebuildRoutes(r)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// rebuildRoutes refreshes the gateway's route snapshot after a mutation.
func (s *server) rebuildRoutes(r *http.Request) {
	if err := s.routes.Rebuild(r.Context()); err != nil {
		s.log.WithError(err).Error("Failed to rebuild route cache")
	}
}

// --- Rate limit rules ---

func (s *server) handleListRateLimits(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRateLimitRules(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list rate limit rules")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	writeJSON(w, http.StatusOK, rules)
}

type rateLimitRequest struct {
	Name        string `json:"name"`
	PathPattern string `json:"path_pattern"`
	KeyBy       string `json:"key_by"`
	MaxRequests int    `json:"max_requests"`
	WindowSecs  int    `json:"window_secs"`
	Enabled     bool   `json:"enabled"`
}

func (req *rateLimitRequest) validate() error {
	if req.Name == "" || req.PathPattern == "" {
		return httperr.InvalidRequest("name and path_pattern are required")
	}

	switch req.KeyBy {
	case ratelimit.KeyByIP, ratelimit.KeyByEmail, ratelimit.KeyByUser:
	default:
		return httperr.InvalidRequest("key_by must be ip, email, or user")
	}

	if req.MaxRequests <= 0 || req.WindowSecs <= 0 {
		return httperr.InvalidRequest("max_requests and window_secs must be positive")
	}

	return nil
}

func (s *server) handleCreateRateLimit(w http.ResponseWriter, r *http.Request) {
	var req rateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, "", httperr.InvalidRequest("invalid request body"))

		return
	}

	if err := req.validate(); err != nil {
		httperr.Write(w, "", err)

		return
	}

	rule := &store.RateLimitRule{
		Name:        req.Name,
		PathPattern: req.PathPattern,
		KeyBy:       req.KeyBy,
		MaxRequests: req.MaxRequests,
		WindowSecs:  req.WindowSecs,
		Enabled:     req.Enabled,
	}

	if err := s.store.CreateRateLimitRule(r.Context(), rule); err != nil {
		if errors.Is(err, store.ErrConflict) {
			httperr.Write(w, "", httperr.InvalidRequest("rule name already exists"))

			return
		}

		s.log.WithError(err).Error("Failed to create rate limit rule")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	s.reloadRules(r)
	writeJSON(w, http.StatusCreated, rule)
}

func (s *server) handleUpdateRateLimit(w http.ResponseWriter, r *http.Request) {
	var req rateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, "", httperr.InvalidRequest("invalid request body"))

		return
	}

	if err := req.validate(); err != nil {
		httperr.Write(w, "", err)

		return
	}

	rule := &store.RateLimitRule{
		ID:          chi.URLParam(r, "id"),
		Name:        req.Name,
		PathPattern: req.PathPattern,
		KeyBy:       req.KeyBy,
		MaxRequests: req.MaxRequests,
		WindowSecs:  req.WindowSecs,
		Enabled:     req.Enabled,
	}

	if err := s.store.UpdateRateLimitRule(r.Context(), rule); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httperr.Write(w, "", httperr.ErrNotFound)

			return
		}

		s.log.WithError(err).Error("Failed to update rate limit rule")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	s.reloadRules(r)
	writeJSON(w, http.StatusOK, rule)
}

func (s *server) handleDeleteRateLimit(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRateLimitRule(
		r.Context(), chi.URLParam(r, "id"),
	); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httperr.Write(w, "", httperr.ErrNotFound)

			return
		}

		s.log.WithError(err).Error("Failed to delete rate limit rule")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	s.reloadRules(r)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *server) reloadRules(r *http.Request) {
	if err := s.rules.Reload(r.Context()); err != nil {
		s.log.WithError(err).Error("Failed to reload rate limit rules")
	}
}

// --- JWT configuration ---

type jwtConfigResponse struct {
	AccessTokenTTLSecs   int  `json:"access_token_ttl_secs"`
	RefreshTokenTTLSecs  int  `json:"refresh_token_ttl_secs"`
	AutoRefreshThreshold int  `json:"auto_refresh_threshold_secs"`
	RotateRefresh        bool `json:"rotate_refresh"`
}

func (s *server) handleGetJWTConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.tokens.Config()

	writeJSON(w, http.StatusOK, jwtConfigResponse{
		AccessTokenTTLSecs:   int(cfg.AccessTokenTTL.Seconds()),
		RefreshTokenTTLSecs:  int(cfg.RefreshTokenTTL.Seconds()),
		AutoRefreshThreshold: int(cfg.AutoRefreshThreshold.Seconds()),
		RotateRefresh:        cfg.RotateRefresh,
	})
}

type jwtConfigRequest struct {
	AccessTokenTTLSecs   int `json:"access_token_ttl_secs"`
	RefreshTokenTTLSecs  int `json:"refresh_token_ttl_secs"`
	AutoRefreshThreshold int `json:"auto_refresh_threshold_secs"`
}

func (s *server) handleUpdateJWTConfig(w http.ResponseWriter, r *http.Request) {
	var req jwtConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, "", httperr.InvalidRequest("invalid request body"))

		return
	}

	if req.AccessTokenTTLSecs <= 0 || req.RefreshTokenTTLSecs <= 0 ||
		req.AutoRefreshThreshold < 0 {
		httperr.Write(w, "", httperr.InvalidRequest("ttls must be positive"))

		return
	}

	if req.RefreshTokenTTLSecs <= req.AccessTokenTTLSecs {
		httperr.Write(w, "",
			httperr.InvalidRequest("refresh ttl must exceed access ttl"))

		return
	}

	if err := s.store.UpdateJWTTTLs(r.Context(),
		req.AccessTokenTTLSecs,
		req.RefreshTokenTTLSecs,
		req.AutoRefreshThreshold,
	); err != nil {
		s.log.WithError(err).Error("Failed to persist jwt ttls")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	s.tokens.SetTTLs(
		time.Duration(req.AccessTokenTTLSecs)*time.Second,
		time.Duration(req.RefreshTokenTTLSecs)*time.Second,
		time.Duration(req.AutoRefreshThreshold)*time.Second,
	)

	s.handleGetJWTConfig(w, r)
}

// --- JWT secret ---

type jwtSecretInfoResponse struct {
	UpdatedAt time.Time `json:"updated_at"`
}

// handleGetJWTSecretInfo exposes only the rotation timestamp, never the
// secret itself.
func (s *server) handleGetJWTSecretInfo(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetSystemConfig(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to load system config")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	writeJSON(w, http.StatusOK, jwtSecretInfoResponse{
		UpdatedAt: cfg.SecretUpdatedAt,
	})
}

func (s *server) handleRotateJWTSecret(w http.ResponseWriter, r *http.Request) {
	newSecret, err := token.GenerateSecret()
	if err != nil {
		s.log.WithError(err).Error("Failed to generate secret")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	rotatedAt, err := s.store.RotateJWTSecret(r.Context(), newSecret)
	if err != nil {
		s.log.WithError(err).Error("Failed to rotate jwt secret")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	// Validators re-read the store on the next request.
	s.secrets.Invalidate()

	claims := adminFromContext(r.Context())
	if claims != nil {
		s.log.WithField("username", claims.Username).
			Warn("JWT secret rotated by admin")
	}

	writeJSON(w, http.StatusOK, jwtSecretInfoResponse{UpdatedAt: rotatedAt})
}

// --- SMTP configuration ---

type smtpConfigResponse struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

func (s *server) handleGetSMTPConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetSystemConfig(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to load system config")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	// The password is write-only.
	writeJSON(w, http.StatusOK, smtpConfigResponse{
		SMTPHost:  cfg.SMTPHost,
		SMTPPort:  cfg.SMTPPort,
		SMTPUser:  cfg.SMTPUser,
		FromEmail: cfg.FromEmail,
		FromName:  cfg.FromName,
	})
}

type smtpConfigRequest struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

func (s *server) handleUpdateSMTPConfig(w http.ResponseWriter, r *http.Request) {
	var req smtpConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, "", httperr.InvalidRequest("invalid request body"))

		return
	}

	if err := s.store.UpdateSMTPConfig(r.Context(), &store.SystemConfig{
		SMTPHost:  req.SMTPHost,
		SMTPPort:  req.SMTPPort,
		SMTPUser:  req.SMTPUser,
		SMTPPass:  req.SMTPPass,
		FromEmail: req.FromEmail,
		FromName:  req.FromName,
	}); err != nil {
		s.log.WithError(err).Error("Failed to update smtp config")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	s.handleGetSMTPConfig(w, r)
}
