package authapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclabs/arcgate/pkg/captcha"
	"github.com/arclabs/arcgate/pkg/config"
	"github.com/arclabs/arcgate/pkg/ratelimit"
	"github.com/arclabs/arcgate/pkg/srp"
	"github.com/arclabs/arcgate/pkg/store"
	"github.com/arclabs/arcgate/pkg/token"
)

// nullSender drops mail; tests read codes straight from the store.
type nullSender struct{}

func (nullSender) SendVerificationCode(context.Context, string, string) error {
	return nil
}

func (nullSender) SendPasswordReset(context.Context, string, string) error {
	return nil
}

type fixedGenerator struct{ text string }

func (g fixedGenerator) Generate() (string, []byte, error) {
	return g.text, []byte("png"), nil
}

type testEnv struct {
	router http.Handler
	store  store.Store
	tokens *token.Service
}

func setupEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{
		Server: config.ServerConfig{GatewayPort: 8080, APIPort: 3001},
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

	if mutate != nil {
		mutate(cfg)
	}

	ctx := context.Background()

	st := store.NewStore(log, &cfg.Database)
	require.NoError(t, st.Start(ctx))
	t.Cleanup(func() { _ = st.Stop() })

	require.NoError(t, st.InitSystemConfig(ctx, "test-secret"))
	require.NoError(t, st.SeedRateLimitRules(ctx, ratelimit.Baseline()))

	rules := ratelimit.NewRules(log, st)
	require.NoError(t, rules.Reload(ctx))

	secrets := token.NewSecretProvider(log, st)
	tokens := token.NewService(log, st, secrets, cfg.JWT)

	captchaSvc := captcha.NewService(log, st).
		WithGenerator(fixedGenerator{text: "73914"})

	srv := NewServer(
		log, cfg, st, tokens, nullSender{}, captchaSvc, rules,
	).(*server)
	srv.synthKey = []byte("0123456789abcdef0123456789abcdef")

	return &testEnv{
		router: srv.buildRouter(),
		store:  st,
		tokens: tokens,
	}
}

func (e *testEnv) do(
	t *testing.T, method, path string, body any, remoteAddr string,
) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	return resp.Error.Code
}

// registerUser drives the full registration flow and returns the password
// the client chose.
func registerUser(t *testing.T, e *testEnv, email, password string) authResponse {
	t.Helper()

	rec := e.do(t, "POST", "/auth/register",
		map[string]string{"email": email}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	code, err := e.store.LatestVerificationCode(
		context.Background(), email, store.CodeKindRegister,
	)
	require.NoError(t, err)

	salt, err := srp.GenerateSalt()
	require.NoError(t, err)

	verifier := srp.ComputeVerifier(email, password, salt)

	rec = e.do(t, "POST", "/auth/register/verify", map[string]string{
		"email":    email,
		"code":     code.Code,
		"salt":     hex.EncodeToString(salt),
		"verifier": hex.EncodeToString(verifier),
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	return decodeBody[authResponse](t, rec)
}

// login drives both SRP legs and returns the verify response and recorder.
func login(
	t *testing.T, e *testEnv, email, password string,
) (*httptest.ResponseRecorder, loginVerifyResponse, string) {
	t.Helper()

	clientSecret, err := srp.GenerateEphemeralSecret()
	require.NoError(t, err)

	A := srp.ClientPublic(clientSecret)

	rec := e.do(t, "POST", "/auth/login/init", map[string]string{
		"email":         email,
		"client_public": hex.EncodeToString(A),
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	init := decodeBody[loginInitResponse](t, rec)

	salt, err := hex.DecodeString(init.Salt)
	require.NoError(t, err)

	B, err := hex.DecodeString(init.ServerPublic)
	require.NoError(t, err)

	key := srp.ClientSessionKey(email, password, salt, clientSecret, A, B)
	m1 := srp.ComputeM1(email, salt, A, B, key)

	rec = e.do(t, "POST", "/auth/login/verify", map[string]string{
		"session_id":   init.SessionID,
		"client_proof": hex.EncodeToString(m1),
	}, "")

	var resp loginVerifyResponse
	if rec.Code == http.StatusOK {
		resp = decodeBody[loginVerifyResponse](t, rec)
	}

	return rec, resp, init.SessionID
}

func TestRegisterThenLogin_E2E(t *testing.T) {
	e := setupEnv(t, nil)

	reg := registerUser(t, e, "alice@example.com", "s3cret-Passphrase")
	assert.Equal(t, "alice@example.com", reg.User.Email)
	assert.True(t, reg.User.EmailVerified)
	assert.NotEmpty(t, reg.AccessToken)
	assert.NotEmpty(t, reg.RefreshToken)

	rec, resp, _ := login(t, e, "alice@example.com", "s3cret-Passphrase")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, reg.User.ID, resp.User.ID)
	assert.NotEmpty(t, resp.ServerProof)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	// Server proof verifies on the client: issued access token validates.
	claims, err := e.tokens.ValidateAccessToken(
		context.Background(), resp.AccessToken,
	)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.Subject)
}

func TestLogin_WrongPassword(t *testing.T) {
	e := setupEnv(t, nil)
	registerUser(t, e, "bob@example.com", "right-password")

	rec, _, _ := login(t, e, "bob@example.com", "wrong-password")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, rec))
}

func TestLoginVerify_Replay(t *testing.T) {
	e := setupEnv(t, nil)
	registerUser(t, e, "carol@example.com", "pw-pw-pw")

	rec, _, sessionID := login(t, e, "carol@example.com", "pw-pw-pw")
	require.Equal(t, http.StatusOK, rec.Code)

	// Replaying the same session id fails: the session was consumed.
	rec = e.do(t, "POST", "/auth/login/verify", map[string]string{
		"session_id":   sessionID,
		"client_proof": "abcd",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, rec))
}

func TestLoginInit_UnknownEmailSynthetic(t *testing.T) {
	e := setupEnv(t, nil)

	clientSecret, err := srp.GenerateEphemeralSecret()
	require.NoError(t, err)

	A := hex.EncodeToString(srp.ClientPublic(clientSecret))

	// Unknown email still gets a success-shaped session.
	rec := e.do(t, "POST", "/auth/login/init", map[string]string{
		"email":         "ghost@example.com",
		"client_public": A,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	first := decodeBody[loginInitResponse](t, rec)
	assert.NotEmpty(t, first.SessionID)
	assert.NotEmpty(t, first.Salt)
	assert.NotEmpty(t, first.ServerPublic)

	// The salt is deterministic across inits, like a real account's.
	rec = e.do(t, "POST", "/auth/login/init", map[string]string{
		"email":         "ghost@example.com",
		"client_public": A,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.Salt, decodeBody[loginInitResponse](t, rec).Salt)

	// Verify can never succeed on a synthetic session.
	rec = e.do(t, "POST", "/auth/login/verify", map[string]string{
		"session_id":   first.SessionID,
		"client_proof": "deadbeef",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, rec))
}

func TestRegister_InvalidEmail(t *testing.T) {
	e := setupEnv(t, nil)

	// Each case comes from its own address so the per-IP register limit
	// (5 per hour) does not answer before the email check.
	for i, email := range []string{
		"", "plainaddress", "a@b", "user@@example.com",
		".user@example.com", "user@localhost", "user@test.123",
	} {
		rec := e.do(t, "POST", "/auth/register",
			map[string]string{"email": email},
			fmt.Sprintf("198.51.100.%d:1234", i+1))
		assert.Equal(t, http.StatusBadRequest, rec.Code, email)
		assert.Equal(t, "INVALID_EMAIL", errorCode(t, rec), email)
	}
}

func TestRegisterVerify_CodeSingleUse(t *testing.T) {
	e := setupEnv(t, nil)
	registerUser(t, e, "dave@example.com", "some-password")

	// The code was consumed during registration; replaying it fails.
	rec := e.do(t, "POST", "/auth/register/verify", map[string]string{
		"email":    "dave@example.com",
		"code":     "000000",
		"salt":     "aa",
		"verifier": "bb",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CODE", errorCode(t, rec))
}

func TestRegisterVerify_AttemptCap(t *testing.T) {
	e := setupEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, e.store.CreateVerificationCode(ctx, &store.VerificationCode{
		Email:     "ivan@example.com",
		Code:      "314159",
		Kind:      store.CodeKindRegister,
		ExpiresAt: time.Now().UTC().Add(10 * time.Minute),
	}))

	// Burn every attempt with wrong guesses.
	for i := range store.MaxCodeAttempts {
		rec := e.do(t, "POST", "/auth/register/verify", map[string]string{
			"email":    "ivan@example.com",
			"code":     fmt.Sprintf("%06d", i),
			"salt":     "aa",
			"verifier": "bb",
		}, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_CODE", errorCode(t, rec))
	}

	// Even the correct code is rejected once the row is exhausted.
	rec := e.do(t, "POST", "/auth/register/verify", map[string]string{
		"email":    "ivan@example.com",
		"code":     "314159",
		"salt":     "aa",
		"verifier": "bb",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CODE", errorCode(t, rec))
}

func TestRegisterVerify_DuplicateEmail(t *testing.T) {
	e := setupEnv(t, nil)
	ctx := context.Background()

	registerUser(t, e, "eve@example.com", "password-one")

	// A second registration round for the same address fails at verify.
	require.NoError(t, e.store.CreateVerificationCode(ctx, &store.VerificationCode{
		Email:     "eve@example.com",
		Code:      "424242",
		Kind:      store.CodeKindRegister,
		ExpiresAt: time.Now().UTC().Add(10 * time.Minute),
	}))

	rec := e.do(t, "POST", "/auth/register/verify", map[string]string{
		"email":    "eve@example.com",
		"code":     "424242",
		"salt":     "aa",
		"verifier": "bb",
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "EMAIL_EXISTS", errorCode(t, rec))
}

func TestRegister_IPRateLimit(t *testing.T) {
	e := setupEnv(t, nil)

	// Baseline: 5 registrations per hour per IP; the 6th gets 429.
	for i := range 5 {
		rec := e.do(t, "POST", "/auth/register", map[string]string{
			"email": fmt.Sprintf("user%d@example.com", i),
		}, "203.0.113.50:9999")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := e.do(t, "POST", "/auth/register", map[string]string{
		"email": "user6@example.com",
	}, "203.0.113.50:9999")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, rec))

	// A different IP is unaffected.
	rec = e.do(t, "POST", "/auth/register", map[string]string{
		"email": "user7@example.com",
	}, "203.0.113.51:9999")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegister_EmailRateLimit(t *testing.T) {
	e := setupEnv(t, nil)

	rec := e.do(t, "POST", "/auth/register",
		map[string]string{"email": "same@example.com"}, "10.0.0.1:1")
	require.Equal(t, http.StatusOK, rec.Code)

	// register-email allows 1 per minute regardless of source IP.
	rec = e.do(t, "POST", "/auth/register",
		map[string]string{"email": "same@example.com"}, "10.0.0.2:1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRefresh_EndpointRotation(t *testing.T) {
	e := setupEnv(t, nil)
	reg := registerUser(t, e, "frank@example.com", "pw-123456")

	rec := e.do(t, "POST", "/auth/refresh",
		map[string]string{"refresh_token": reg.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[refreshResponse](t, rec)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	// Replaying the rotated-out token fails.
	rec = e.do(t, "POST", "/auth/refresh",
		map[string]string{"refresh_token": reg.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefresh_Garbage(t *testing.T) {
	e := setupEnv(t, nil)

	rec := e.do(t, "POST", "/auth/refresh",
		map[string]string{"refresh_token": "garbage"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, rec))
}

func TestPasswordReset_E2E(t *testing.T) {
	e := setupEnv(t, nil)
	ctx := context.Background()

	reg := registerUser(t, e, "grace@example.com", "old-password")

	rec := e.do(t, "POST", "/auth/password/reset",
		map[string]string{"email": "grace@example.com"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	code, err := e.store.LatestVerificationCode(
		ctx, "grace@example.com", store.CodeKindPasswordReset,
	)
	require.NoError(t, err)

	salt, err := srp.GenerateSalt()
	require.NoError(t, err)

	verifier := srp.ComputeVerifier("grace@example.com", "new-password", salt)

	rec = e.do(t, "POST", "/auth/password/reset/confirm", map[string]string{
		"email":    "grace@example.com",
		"code":     code.Code,
		"salt":     hex.EncodeToString(salt),
		"verifier": hex.EncodeToString(verifier),
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Old refresh tokens are revoked.
	rec = e.do(t, "POST", "/auth/refresh",
		map[string]string{"refresh_token": reg.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The old password no longer logs in, the new one does.
	rec, _, _ = login(t, e, "grace@example.com", "old-password")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _, _ = login(t, e, "grace@example.com", "new-password")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPasswordReset_UnknownEmailUniform(t *testing.T) {
	e := setupEnv(t, nil)

	rec := e.do(t, "POST", "/auth/password/reset",
		map[string]string{"email": "nobody@example.com"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[okResponse](t, rec).OK)
}

func TestCaptcha_FlowWhenEnabled(t *testing.T) {
	e := setupEnv(t, func(cfg *config.Config) {
		cfg.Captcha.Enabled = true
	})

	// Registration without a captcha solution is rejected.
	rec := e.do(t, "POST", "/auth/register",
		map[string]string{"email": "henry0@example.com"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CAPTCHA", errorCode(t, rec))

	rec = e.do(t, "GET", "/auth/captcha", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	ch := decodeBody[captchaResponse](t, rec)
	require.NotEmpty(t, ch.CaptchaID)
	require.NotEmpty(t, ch.Image)

	rec = e.do(t, "POST", "/auth/register", map[string]string{
		"email":        "henry@example.com",
		"captcha_id":   ch.CaptchaID,
		"captcha_text": "73914",
	}, "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The challenge burned; reusing it fails.
	rec = e.do(t, "POST", "/auth/register", map[string]string{
		"email":        "henry2@example.com",
		"captcha_id":   ch.CaptchaID,
		"captcha_text": "73914",
	}, "10.1.1.1:2")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CAPTCHA", errorCode(t, rec))
}

func TestCaptcha_EndpointAbsentWhenDisabled(t *testing.T) {
	e := setupEnv(t, nil)

	rec := e.do(t, "GET", "/auth/captcha", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
