package authapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/arclabs/arcgate/pkg/httperr"
	"github.com/arclabs/arcgate/pkg/ratelimit"
	"github.com/arclabs/arcgate/pkg/srp"
	"github.com/arclabs/arcgate/pkg/store"
)

const srpSessionTTL = 2 * time.Minute

type loginInitRequest struct {
	Email        string `json:"email"`
	ClientPublic string `json:"client_public"`
}

type loginInitResponse struct {
	SessionID    string `json:"session_id"`
	Salt         string `json:"salt"`
	ServerPublic string `json:"server_public"`
}

// handleLoginInit runs SRP leg A. Unknown or disabled accounts get a
// synthetic session with a deterministic salt; it looks identical to a real
// one and can never pass verify, so the endpoint does not leak which
// addresses exist.
func (s *server) handleLoginInit(w http.ResponseWriter, r *http.Request) {
	var req loginInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, requestID(r), httperr.InvalidRequest("invalid request body"))

		return
	}

	email := normalizeEmail(req.Email)
	if !isValidEmail(email) {
		httperr.Write(w, requestID(r), httperr.ErrInvalidEmail)

		return
	}

	clientPublic, err := hex.DecodeString(req.ClientPublic)
	if err != nil || len(clientPublic) == 0 {
		httperr.Write(w, requestID(r),
			httperr.InvalidRequest("client_public must be hex"))

		return
	}

	if !s.rules.Allow(r.Method, r.URL.Path, ratelimit.KeyByEmail, email) {
		httperr.Write(w, requestID(r), httperr.ErrRateLimited)

		return
	}

	var (
		userID   string
		saltHex  string
		verifier string
	)

	user, err := s.store.GetUserByEmail(r.Context(), email)

	switch {
	case err == nil && user.IsActive:
		userID = user.ID
		saltHex = user.SrpSalt
		verifier = user.SrpVerifier
	case err == nil, errors.Is(err, store.ErrNotFound):
		// Synthetic session: deterministic salt, synthetic verifier,
		// empty user id. Verify will fail with INVALID_CREDENTIALS.
		saltHex, verifier = s.syntheticCredentials(email)
	default:
		s.log.WithError(err).Error("Failed to look up user")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	serverSecret, err := srp.GenerateEphemeralSecret()
	if err != nil {
		s.log.WithError(err).Error("Failed to generate server ephemeral")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	verifierBytes, err := hex.DecodeString(verifier)
	if err != nil {
		s.log.WithField("email", email).Error("Stored verifier is not hex")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	serverPublic := srp.ComputeB(serverSecret, verifierBytes)

	session := &store.SrpSession{
		UserID:       userID,
		Email:        email,
		Salt:         saltHex,
		ServerSecret: hex.EncodeToString(serverSecret),
		ClientPublic: req.ClientPublic,
		Verifier:     verifier,
		ExpiresAt:    time.Now().UTC().Add(srpSessionTTL),
	}

	if err := s.store.CreateSrpSession(r.Context(), session); err != nil {
		s.log.WithError(err).Error("Failed to store srp session")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	s.log.WithField("email", email).
		WithField("session_id", session.ID).
		Debug("SRP login initiated")

	writeJSON(w, http.StatusOK, loginInitResponse{
		SessionID:    session.ID,
		Salt:         saltHex,
		ServerPublic: hex.EncodeToString(serverPublic),
	})
}

// syntheticCredentials derives a stable fake (salt, verifier) pair for an
// unknown email. Keyed with a per-process secret so the output is not
// recognizable as synthetic.
func (s *server) syntheticCredentials(email string) (saltHex, verifierHex string) {
	saltMac := hmac.New(sha256.New, s.synthKey)
	saltMac.Write([]byte("salt:" + email))
	salt := saltMac.Sum(nil)[:16]

	verifierMac := hmac.New(sha256.New, s.synthKey)
	verifierMac.Write([]byte("verifier:" + email))

	return hex.EncodeToString(salt), hex.EncodeToString(verifierMac.Sum(nil))
}

type loginVerifyRequest struct {
	SessionID   string `json:"session_id"`
	ClientProof string `json:"client_proof"`
}

type loginVerifyResponse struct {
	User         userResponse `json:"user"`
	ServerProof  string       `json:"server_proof"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
}

// handleLoginVerify runs SRP leg B. The session is consumed atomically up
// front: success, proof mismatch, and synthetic sessions all destroy it, so
// a session id never gets a second attempt.
func (s *server) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	var req loginVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, requestID(r), httperr.InvalidRequest("invalid request body"))

		return
	}

	if req.SessionID == "" {
		httperr.Write(w, requestID(r),
			httperr.InvalidRequest("session_id is required"))

		return
	}

	clientProof, err := hex.DecodeString(req.ClientProof)
	if err != nil || len(clientProof) == 0 {
		httperr.Write(w, requestID(r),
			httperr.InvalidRequest("client_proof must be hex"))

		return
	}

	session, err := s.store.ConsumeSrpSession(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httperr.Write(w, requestID(r), httperr.ErrInvalidCredentials)

			return
		}

		s.log.WithError(err).Error("Failed to consume srp session")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	// No email-keyed check here: every verify consumes a session that an
	// email-limited init had to create, so the init limit already bounds
	// verify attempts per address.
	proof, ok := s.checkProof(session, clientProof)
	if !ok || session.UserID == "" {
		s.log.WithField("email", session.Email).
			WithField("session_id", session.ID).
			Warn("SRP proof mismatch")
		httperr.Write(w, requestID(r), httperr.ErrInvalidCredentials)

		return
	}

	user, err := s.store.GetUserByID(r.Context(), session.UserID)
	if err != nil || !user.IsActive {
		httperr.Write(w, requestID(r), httperr.ErrInvalidCredentials)

		return
	}

	access, refresh, err := s.tokens.IssuePair(r.Context(), user.ID, user.Email)
	if err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).
			Error("Failed to issue tokens")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	s.log.WithField("email", user.Email).
		WithField("user_id", user.ID).
		Info("User logged in")

	writeJSON(w, http.StatusOK, loginVerifyResponse{
		User:         toUserResponse(user),
		ServerProof:  hex.EncodeToString(proof),
		AccessToken:  access,
		RefreshToken: refresh,
	})
}

// checkProof re-derives the shared secret and compares proofs in constant
// time. It runs for synthetic sessions too, keeping timing uniform.
func (s *server) checkProof(
	session *store.SrpSession, clientProof []byte,
) (serverProof []byte, ok bool) {
	salt, err := hex.DecodeString(session.Salt)
	if err != nil {
		return nil, false
	}

	serverSecret, err := hex.DecodeString(session.ServerSecret)
	if err != nil {
		return nil, false
	}

	clientPublic, err := hex.DecodeString(session.ClientPublic)
	if err != nil {
		return nil, false
	}

	verifier, err := hex.DecodeString(session.Verifier)
	if err != nil {
		return nil, false
	}

	sessionKey := srp.ServerSessionKey(clientPublic, verifier, serverSecret)
	serverPublic := srp.ComputeB(serverSecret, verifier)

	expectedM1 := srp.ComputeM1(
		session.Email, salt, clientPublic, serverPublic, sessionKey,
	)

	if subtle.ConstantTimeCompare(clientProof, expectedM1) != 1 {
		return nil, false
	}

	return srp.ComputeM2(clientPublic, expectedM1, sessionKey), true
}
