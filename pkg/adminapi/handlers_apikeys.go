package adminapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arclabs/arcgate/pkg/httperr"
	"github.com/arclabs/arcgate/pkg/store"
	"github.com/arclabs/arcgate/pkg/token"
)

const apiKeyBytes = 32

func (s *server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	claims := adminFromContext(r.Context())

	keys, err := s.store.ListAPIKeys(r.Context(), claims.Subject)
	if err != nil {
		s.log.WithError(err).Error("Failed to list api keys")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	writeJSON(w, http.StatusOK, keys)
}

type createAPIKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type createAPIKeyResponse struct {
	Key store.APIKey `json:"key"`

	// RawKey is returned exactly once; only its hash is stored.
	RawKey string `json:"raw_key"`
}

func (s *server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, "", httperr.InvalidRequest("invalid request body"))

		return
	}

	if req.Name == "" {
		httperr.Write(w, "", httperr.InvalidRequest("name is required"))

		return
	}

	if len(req.Permissions) == 0 {
		req.Permissions = []string{"*"}
	}

	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		s.log.WithError(err).Error("Failed to generate api key")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	rawKey := hex.EncodeToString(buf)
	claims := adminFromContext(r.Context())

	key := &store.APIKey{
		AdminID:     claims.Subject,
		Name:        req.Name,
		KeyHash:     token.HashToken(rawKey),
		KeyPrefix:   rawKey[:8],
		Permissions: store.Permissions(req.Permissions),
	}

	if err := s.store.CreateAPIKey(r.Context(), key); err != nil {
		s.log.WithError(err).Error("Failed to create api key")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	s.log.WithField("name", key.Name).
		WithField("prefix", key.KeyPrefix).
		WithField("admin", claims.Username).
		Info("API key created")

	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		Key:    *key,
		RawKey: rawKey,
	})
}

func (s *server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	claims := adminFromContext(r.Context())

	if err := s.store.DeleteAPIKey(
		r.Context(), chi.URLParam(r, "id"), claims.Subject,
	); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httperr.Write(w, "", httperr.ErrNotFound)

			return
		}

		s.log.WithError(err).Error("Failed to delete api key")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
