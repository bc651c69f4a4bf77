package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclabs/arcgate/pkg/config"
	"github.com/arclabs/arcgate/pkg/gateway"
	"github.com/arclabs/arcgate/pkg/ratelimit"
	"github.com/arclabs/arcgate/pkg/store"
	"github.com/arclabs/arcgate/pkg/token"
)

type adminEnv struct {
	srv     *server
	router  http.Handler
	store   store.Store
	tokens  *token.Service
	secrets *token.SecretProvider
	routes  *gateway.RouteCache
}

func setupAdmin(t *testing.T) *adminEnv {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{
		Server: config.ServerConfig{
			GatewayPort: 8080, APIPort: 3001, AdminPort: 9000,
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
		},
		JWT: config.JWTConfig{
			AccessTokenTTL:       time.Hour,
			RefreshTokenTTL:      24 * time.Hour,
			AutoRefreshThreshold: time.Minute,
			RotateRefresh:        true,
		},
		Gateway: config.GatewayConfig{
			TrustedProxies: []string{"127.0.0.1"},
		},
	}

	ctx := context.Background()

	st := store.NewStore(log, &cfg.Database)
	require.NoError(t, st.Start(ctx))
	t.Cleanup(func() { _ = st.Stop() })

	require.NoError(t, st.InitSystemConfig(ctx, "admin-test-secret"))
	require.NoError(t, st.SeedRateLimitRules(ctx, ratelimit.Baseline()))

	secrets := token.NewSecretProvider(log, st)
	tokens := token.NewService(log, st, secrets, cfg.JWT)

	routes := gateway.NewRouteCache(log, st, cfg.Routing, "127.0.0.1:3001")
	require.NoError(t, routes.Rebuild(ctx))

	rules := ratelimit.NewRules(log, st)
	require.NoError(t, rules.Reload(ctx))

	srv := NewServer(log, cfg, st, tokens, secrets, routes, rules).(*server)
	srv.tier = ratelimit.NewTierLimiter(1000)
	srv.startedAt = time.Now().UTC()
	t.Cleanup(srv.tier.Close)

	return &adminEnv{
		srv:     srv,
		router:  srv.buildRouter(),
		store:   st,
		tokens:  tokens,
		secrets: secrets,
		routes:  routes,
	}
}

func (e *adminEnv) do(
	t *testing.T, method, path, bearer string, body any,
) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	return rec
}

// bootstrapAdmin seeds a registration token and registers the first admin,
// returning an admin JWT.
func bootstrapAdmin(t *testing.T, e *adminEnv) (string, string) {
	t.Helper()

	rawToken := strings.Repeat("ef", 32)
	require.NoError(t, e.store.CreateAdminRegistrationToken(
		context.Background(), &store.AdminRegistrationToken{
			TokenHash: token.HashToken(rawToken),
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		}))

	rec := e.do(t, "POST", "/api/admin/register", "", map[string]string{
		"token":    rawToken,
		"username": "root",
		"password": "super-secret-pw",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp adminAuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	return resp.Token, rawToken
}

func TestAdminRegisterAndLogin(t *testing.T) {
	e := setupAdmin(t)
	_, rawToken := bootstrapAdmin(t, e)

	// The bootstrap token is single-use.
	rec := e.do(t, "POST", "/api/admin/register", "", map[string]string{
		"token":    rawToken,
		"username": "second",
		"password": "another-secret",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Login with the created credentials.
	rec = e.do(t, "POST", "/api/admin/login", "", map[string]string{
		"username": "root",
		"password": "super-secret-pw",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Wrong password fails.
	rec = e.do(t, "POST", "/api/admin/login", "", map[string]string{
		"username": "root",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRegister_WeakPassword(t *testing.T) {
	e := setupAdmin(t)

	rec := e.do(t, "POST", "/api/admin/register", "", map[string]string{
		"token":    "whatever",
		"username": "root",
		"password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "WEAK_PASSWORD")
}

func TestConfigEndpointsRequireAdminToken(t *testing.T) {
	e := setupAdmin(t)

	rec := e.do(t, "GET", "/api/config/routes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// An end-user access token is not an admin token.
	user := &store.User{
		Email: "u@example.com", SrpSalt: "s", SrpVerifier: "v", IsActive: true,
	}
	require.NoError(t, e.store.CreateUser(context.Background(), user))

	access, err := e.tokens.IssueAccessToken(
		context.Background(), user.ID, user.Email,
	)
	require.NoError(t, err)

	rec = e.do(t, "GET", "/api/config/routes", access, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouteCRUDRefreshesGateway(t *testing.T) {
	e := setupAdmin(t)
	adminToken, _ := bootstrapAdmin(t, e)

	rec := e.do(t, "POST", "/api/config/routes", adminToken, map[string]any{
		"path_prefix":  "/svc",
		"upstream":     "127.0.0.1:9101",
		"require_auth": true,
		"enabled":      true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created store.ProxyRoute
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// The gateway's cache sees the new route immediately.
	matched := e.routes.Match("/svc/x")
	require.NotNil(t, matched)
	assert.Equal(t, "127.0.0.1:9101", matched.Upstream)

	// Disable it: the cache drops it.
	rec = e.do(t, "PUT", "/api/config/routes/"+created.ID, adminToken,
		map[string]any{
			"path_prefix":  "/svc",
			"upstream":     "127.0.0.1:9101",
			"require_auth": true,
			"enabled":      false,
		})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, e.routes.Match("/svc/x"))

	rec = e.do(t, "DELETE", "/api/config/routes/"+created.ID, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, "DELETE", "/api/config/routes/"+created.ID, adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJWTConfigUpdate(t *testing.T) {
	e := setupAdmin(t)
	adminToken, _ := bootstrapAdmin(t, e)

	rec := e.do(t, "PUT", "/api/config/jwt", adminToken, map[string]int{
		"access_token_ttl_secs":       600,
		"refresh_token_ttl_secs":      86400,
		"auto_refresh_threshold_secs": 120,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cfg := e.tokens.Config()
	assert.Equal(t, 10*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 2*time.Minute, cfg.AutoRefreshThreshold)

	// Persisted for the next boot.
	row, err := e.store.GetSystemConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 600, row.AccessTTLSecs)

	// Nonsense is rejected.
	rec = e.do(t, "PUT", "/api/config/jwt", adminToken, map[string]int{
		"access_token_ttl_secs":  600,
		"refresh_token_ttl_secs": 60,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSecretRotationEndpoint(t *testing.T) {
	e := setupAdmin(t)
	adminToken, _ := bootstrapAdmin(t, e)
	ctx := context.Background()

	before, err := e.store.GetSystemConfig(ctx)
	require.NoError(t, err)

	rec := e.do(t, "POST", "/api/config/jwt-secret", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	after, err := e.store.GetSystemConfig(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.JWTSecret, after.JWTSecret)

	// The response carries only the timestamp, never the secret.
	assert.NotContains(t, rec.Body.String(), after.JWTSecret)

	// The admin's own token was signed with the old secret.
	rec = e.do(t, "GET", "/api/config/jwt-secret", adminToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSMTPConfig_PasswordWriteOnly(t *testing.T) {
	e := setupAdmin(t)
	adminToken, _ := bootstrapAdmin(t, e)

	rec := e.do(t, "PUT", "/api/config/smtp", adminToken, map[string]any{
		"smtp_host":  "smtp.example.com",
		"smtp_port":  587,
		"smtp_user":  "mailer",
		"smtp_pass":  "hunter2-smtp-pass",
		"from_email": "noreply@example.com",
		"from_name":  "Example",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "hunter2-smtp-pass")

	rec = e.do(t, "GET", "/api/config/smtp", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "smtp.example.com")
	assert.NotContains(t, rec.Body.String(), "hunter2-smtp-pass")
}

func TestUserManagement(t *testing.T) {
	e := setupAdmin(t)
	adminToken, _ := bootstrapAdmin(t, e)
	ctx := context.Background()

	user := &store.User{
		Email: "victim@example.com", SrpSalt: "s", SrpVerifier: "v",
		IsActive: true,
	}
	require.NoError(t, e.store.CreateUser(ctx, user))
	require.NoError(t, e.store.CreateRefreshToken(ctx, &store.RefreshToken{
		UserID: user.ID, TokenHash: "h1",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}))

	rec := e.do(t, "GET", "/api/admin/users", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "victim@example.com")

	// Disabling revokes outstanding refresh tokens.
	rec = e.do(t, "PUT", "/api/admin/users/"+user.ID, adminToken,
		map[string]bool{"is_active": false})
	require.Equal(t, http.StatusOK, rec.Code)

	tok, err := e.store.GetRefreshTokenByHash(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, tok.Revoked)

	rec = e.do(t, "DELETE", "/api/admin/users/"+user.ID, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = e.store.GetUserByID(ctx, user.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAPIKeyLifecycleAndExternalAccess(t *testing.T) {
	e := setupAdmin(t)
	adminToken, _ := bootstrapAdmin(t, e)

	rec := e.do(t, "POST", "/api/config/api-keys", adminToken, map[string]any{
		"name":        "ci",
		"permissions": []string{"stats:read"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created createAPIKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Len(t, created.RawKey, 64)
	assert.Equal(t, created.RawKey[:8], created.Key.KeyPrefix)

	// The raw key is never listed again.
	rec = e.do(t, "GET", "/api/config/api-keys", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), created.RawKey)

	// External endpoints honor the permission set.
	req := httptest.NewRequest("GET", "/api/external/stats", nil)
	req.Header.Set("X-API-Key", created.RawKey)
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	req = httptest.NewRequest("GET", "/api/external/users", nil)
	req.Header.Set("X-API-Key", created.RawKey)
	resp = httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	// Deleting the key cuts access.
	rec = e.do(t, "DELETE", "/api/config/api-keys/"+created.Key.ID,
		adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/api/external/stats", nil)
	req.Header.Set("X-API-Key", created.RawKey)
	resp = httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestStatsEndpoint(t *testing.T) {
	e := setupAdmin(t)
	adminToken, _ := bootstrapAdmin(t, e)

	rec := e.do(t, "GET", "/api/admin/stats", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stats statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats.Admins)
	assert.GreaterOrEqual(t, stats.Requests, int64(1))
}

func TestArgon2Hashing(t *testing.T) {
	hash, err := hashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	assert.True(t, verifyPassword("correct horse", hash))
	assert.False(t, verifyPassword("wrong horse", hash))
	assert.False(t, verifyPassword("correct horse", "not-a-hash"))
}
