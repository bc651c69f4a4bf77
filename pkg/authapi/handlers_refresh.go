package authapi

import (
	"encoding/json"
	"net/http"

	"github.com/arclabs/arcgate/pkg/httperr"
	"github.com/arclabs/arcgate/pkg/ratelimit"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// handleRefresh exchanges a refresh token for a new access token, rotating
// the refresh token when rotation is enabled.
func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, requestID(r), httperr.InvalidRequest("invalid request body"))

		return
	}

	if req.RefreshToken == "" {
		httperr.Write(w, requestID(r),
			httperr.InvalidRequest("refresh_token is required"))

		return
	}

	subject, err := s.tokens.ParseSubject(r.Context(), req.RefreshToken)
	if err != nil {
		httperr.Write(w, requestID(r), err)

		return
	}

	if !s.rules.Allow(r.Method, r.URL.Path, ratelimit.KeyByUser, subject) {
		httperr.Write(w, requestID(r), httperr.ErrRateLimited)

		return
	}

	access, refresh, err := s.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httperr.Write(w, requestID(r), err)

		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:  access,
		RefreshToken: refresh,
	})
}
