package authapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/arclabs/arcgate/pkg/httperr"
	"github.com/arclabs/arcgate/pkg/ratelimit"
	"github.com/arclabs/arcgate/pkg/store"
)

type passwordResetRequest struct {
	Email string `json:"email"`
}

// handlePasswordReset issues a reset code. The response is identical
// whether or not the address is registered.
func (s *server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
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

	user, err := s.store.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Uniform success shape for unknown addresses.
			writeJSON(w, http.StatusOK, okResponse{OK: true})

			return
		}

		s.log.WithError(err).Error("Failed to look up user")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	code, err := generateCode()
	if err != nil {
		s.log.WithError(err).Error("Failed to generate reset code")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	if err := s.store.CreateVerificationCode(r.Context(), &store.VerificationCode{
		Email:     user.Email,
		Code:      code,
		Kind:      store.CodeKindPasswordReset,
		ExpiresAt: time.Now().UTC().Add(codeTTL),
	}); err != nil {
		s.log.WithError(err).Error("Failed to store reset code")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	if err := s.sender.SendPasswordReset(r.Context(), user.Email, code); err != nil {
		s.log.WithError(err).WithField("email", user.Email).
			Error("Failed to send reset code")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	s.log.WithField("email", user.Email).Info("Password reset code sent")
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type passwordResetConfirmRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Salt     string `json:"salt"`
	Verifier string `json:"verifier"`
}

// handlePasswordResetConfirm consumes the reset code, replaces the SRP
// credentials, and revokes every outstanding refresh token for the user.
func (s *server) handlePasswordResetConfirm(
	w http.ResponseWriter, r *http.Request,
) {
	var req passwordResetConfirmRequest
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
		r.Context(), email, req.Code, store.CodeKindPasswordReset,
	); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httperr.Write(w, requestID(r), httperr.ErrInvalidCode)

			return
		}

		s.log.WithError(err).Error("Failed to consume reset code")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httperr.Write(w, requestID(r), httperr.ErrInvalidCredentials)

			return
		}

		s.log.WithError(err).Error("Failed to look up user")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	if err := s.store.UpdateUserSrpCredentials(
		r.Context(), user.ID, req.Salt, req.Verifier,
	); err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).
			Error("Failed to update srp credentials")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	if err := s.store.RevokeUserRefreshTokens(r.Context(), user.ID); err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).
			Error("Failed to revoke refresh tokens")
		httperr.Write(w, requestID(r), httperr.ErrInternal)

		return
	}

	s.log.WithField("email", user.Email).
		WithField("user_id", user.ID).
		Info("Password reset completed")

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
