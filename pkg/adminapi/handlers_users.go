package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arclabs/arcgate/pkg/httperr"
	"github.com/arclabs/arcgate/pkg/store"
)

func (s *server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list users")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	writeJSON(w, http.StatusOK, users)
}

type updateUserStatusRequest struct {
	IsActive bool `json:"is_active"`
}

// handleUpdateUserStatus enables or disables an end-user account. Disabling
// also revokes the user's refresh tokens so the lockout takes effect at the
// next refresh, not at refresh-token expiry.
func (s *server) handleUpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	var req updateUserStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, "", httperr.InvalidRequest("invalid request body"))

		return
	}

	id := chi.URLParam(r, "id")

	if err := s.store.SetUserActive(r.Context(), id, req.IsActive); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httperr.Write(w, "", httperr.ErrNotFound)

			return
		}

		s.log.WithError(err).Error("Failed to update user status")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	if !req.IsActive {
		if err := s.store.RevokeUserRefreshTokens(r.Context(), id); err != nil {
			s.log.WithError(err).WithField("user_id", id).
				Error("Failed to revoke tokens for disabled user")
		}
	}

	claims := adminFromContext(r.Context())

	s.log.WithField("user_id", id).
		WithField("is_active", req.IsActive).
		WithField("admin", claims.Username).
		Info("User status updated")

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.store.RevokeUserRefreshTokens(r.Context(), id); err != nil {
		s.log.WithError(err).WithField("user_id", id).
			Error("Failed to revoke tokens before delete")
	}

	if err := s.store.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httperr.Write(w, "", httperr.ErrNotFound)

			return
		}

		s.log.WithError(err).Error("Failed to delete user")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	s.log.WithField("user_id", id).Info("User deleted")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
