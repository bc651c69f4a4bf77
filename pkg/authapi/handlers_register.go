package authapi

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/arclabs/arcgate/pkg/httperr"
	"github.com/arclabs/arcgate/pkg/ratelimit"
	"github.com/arclabs/arcgate/pkg/store"
)

const codeTTL = 10 * time.Minute

type registerRequest struct {
	Email       string `json:"email"`
	CaptchaID   string `json:"captcha_id"`
	CaptchaText string `json:"captcha_text"`
}

// handleRegister issues a verification code for a new registration. The
// response shape does not reveal whether the address is already taken;
// that surfaces only at register/verify.
func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, requestID(r), httperr.InvalidRequest("invalid request body"))

		return
	}

	email := normalizeEmail(req.Email)
	if !isValidEmail(email) {
		httperr.Write(w, requestID(r), httperr.ErrInvalidEmail)

		return
	}

	if !s.rules.Allow(r.Method, r.URL.Path, ratelimit.KeyByEmail, email) {
		httperr.Write(w, requestID(r), httperr.ErrRateLimited)

		return
	}

	if s.cfg.Captcha.Enabled {
		if err := s.captcha.Validate(
			r.Context(), req.CaptchaID, req.CaptchaText,
		); err != nil {
			httperr.Write(w, requestID(r), err)

			return
		}
	}

	code, err := generateCode()
	if err != nil {
		s.log.WithError(err).Error("Failed to generate verification code")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	if err := s.store.CreateVerificationCode(r.Context(), &store.VerificationCode{
		Email:     email,
		Code:      code,
		Kind:      store.CodeKindRegister,
		ExpiresAt: time.Now().UTC().Add(codeTTL),
	}); err != nil {
		s.log.WithError(err).WithField("email", email).
			Error("Failed to store verification code")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	if err := s.sender.SendVerificationCode(r.Context(), email, code); err != nil {
		s.log.WithError(err).WithField("email", email).
			Error("Failed to send verification code")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	s.log.WithField("email", email).Info("Registration code sent")
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type registerVerifyRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Salt     string `json:"salt"`
	Verifier string `json:"verifier"`
}

type authResponse struct {
	User         userResponse `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
}

// handleRegisterVerify consumes the verification code and creates the user
// with the client-supplied SRP credentials.
func (s *server) handleRegisterVerify(w http.ResponseWriter, r *http.Request) {
	var req registerVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, requestID(r), httperr.InvalidRequest("invalid request body"))

		return
	}

	email := normalizeEmail(req.Email)
	if !isValidEmail(email) {
		httperr.Write(w, requestID(r), httperr.ErrInvalidEmail)

		return
	}

	if !validHex(req.Salt) || !validHex(req.Verifier) {
		httperr.Write(w, requestID(r),
			httperr.InvalidRequest("salt and verifier must be hex"))

		return
	}

	if err := s.store.ConsumeVerificationCode(
		r.Context(), email, req.Code, store.CodeKindRegister,
	); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httperr.Write(w, requestID(r), httperr.ErrInvalidCode)

			return
		}

		s.log.WithError(err).Error("Failed to consume verification code")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	user := &store.User{
		Email:         email,
		SrpSalt:       req.Salt,
		SrpVerifier:   req.Verifier,
		EmailVerified: true,
		IsActive:      true,
	}

	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			httperr.Write(w, requestID(r), httperr.ErrEmailExists)

			return
		}

		s.log.WithError(err).WithField("email", email).
			Error("Failed to create user")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	access, refresh, err := s.tokens.IssuePair(r.Context(), user.ID, user.Email)
	if err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).
			Error("Failed to issue tokens")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	s.log.WithField("email", email).
		WithField("user_id", user.ID).
		Info("User registered")

	writeJSON(w, http.StatusOK, authResponse{
		User:         toUserResponse(user),
		AccessToken:  access,
		RefreshToken: refresh,
	})
}

func validHex(s string) bool {
	if s == "" {
		return false
	}

	_, err := hex.DecodeString(s)

	return err == nil
}
