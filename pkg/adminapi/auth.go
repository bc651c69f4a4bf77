package adminapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/arclabs/arcgate/pkg/httperr"
	"github.com/arclabs/arcgate/pkg/store"
	"github.com/arclabs/arcgate/pkg/token"
)

// argon2id parameters.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// hashPassword derives an encoded argon2id hash.
func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey(
		[]byte(password), salt,
		argonTime, argonMemory, argonThreads, argonKeyLen,
	)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// verifyPassword checks a password against an encoded argon2id hash.
func verifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var memory, iterations uint32

	var parallelism uint8

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&memory, &iterations, &parallelism); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}

	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	got := argon2.IDKey(
		[]byte(password), salt,
		iterations, memory, parallelism, uint32(len(want)),
	)

	return subtle.ConstantTimeCompare(got, want) == 1
}

type adminRegisterRequest struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type adminAuthResponse struct {
	Token string      `json:"token"`
	Admin store.Admin `json:"admin"`
}

// handleAdminRegister redeems the one-shot bootstrap token and creates the
// admin account.
func (s *server) handleAdminRegister(w http.ResponseWriter, r *http.Request) {
	var req adminRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, "", httperr.InvalidRequest("invalid request body"))

		return
	}

	if req.Token == "" || req.Username == "" {
		httperr.Write(w, "",
			httperr.InvalidRequest("token and username are required"))

		return
	}

	if len(req.Password) < 8 {
		httperr.Write(w, "", httperr.ErrWeakPassword)

		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		s.log.WithError(err).Error("Failed to hash password")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	admin := &store.Admin{
		Username:     req.Username,
		PasswordHash: hash,
	}

	if err := s.store.CreateAdmin(r.Context(), admin); err != nil {
		if errors.Is(err, store.ErrConflict) {
			httperr.Write(w, "",
				httperr.InvalidRequest("username already exists"))

			return
		}

		s.log.WithError(err).Error("Failed to create admin")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	// Redeem after creation so the token burn records who used it; a lost
	// race deletes the account again and fails closed.
	ok, err := s.store.RedeemAdminRegistrationToken(
		r.Context(), token.HashToken(req.Token), admin.ID,
	)
	if err != nil {
		s.log.WithError(err).Error("Failed to redeem registration token")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	if !ok {
		_ = s.store.DeleteAdminAccount(r.Context(), admin.ID)
		httperr.Write(w, "", httperr.ErrInvalidCredentials)

		return
	}

	jwtToken, err := s.tokens.IssueAdminToken(
		r.Context(), admin.ID, admin.Username,
	)
	if err != nil {
		s.log.WithError(err).Error("Failed to issue admin token")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	s.log.WithField("username", admin.Username).Info("Admin registered")

	writeJSON(w, http.StatusOK, adminAuthResponse{
		Token: jwtToken,
		Admin: *admin,
	})
}

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleAdminLogin authenticates an admin with username+password.
func (s *server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, "", httperr.InvalidRequest("invalid request body"))

		return
	}

	admin, err := s.store.GetAdminByUsername(r.Context(), req.Username)
	if err != nil {
		httperr.Write(w, "", httperr.ErrInvalidCredentials)

		return
	}

	if !verifyPassword(req.Password, admin.PasswordHash) {
		s.log.WithField("username", req.Username).
			Warn("Admin login failed")
		httperr.Write(w, "", httperr.ErrInvalidCredentials)

		return
	}

	jwtToken, err := s.tokens.IssueAdminToken(
		r.Context(), admin.ID, admin.Username,
	)
	if err != nil {
		s.log.WithError(err).Error("Failed to issue admin token")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	s.log.WithField("username", admin.Username).Info("Admin logged in")

	writeJSON(w, http.StatusOK, adminAuthResponse{
		Token: jwtToken,
		Admin: *admin,
	})
}

type contextKey string

const adminContextKey contextKey = "admin"

// requireAdmin validates the Bearer admin JWT and stores the claims in the
// request context.
func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")

		raw, found := strings.CutPrefix(auth, "Bearer ")
		if !found {
			httperr.Write(w, "", httperr.ErrInvalidToken)

			return
		}

		claims, err := s.tokens.ValidateAdminToken(r.Context(), raw)
		if err != nil {
			httperr.Write(w, "", err)

			return
		}

		ctx := context.WithValue(r.Context(), adminContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminFromContext extracts the authenticated admin claims.
func adminFromContext(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(adminContextKey).(*token.Claims)

	return claims
}

const apiKeyLength = 64

type apiKeyContextKeyType string

const apiKeyContextKey apiKeyContextKeyType = "api-key"

// requireAPIKey authenticates machine callers via X-API-Key.
func (s *server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if len(key) != apiKeyLength || !isHex(key) {
			httperr.Write(w, "", httperr.ErrInvalidToken)

			return
		}

		apiKey, err := s.store.GetAPIKeyByHash(
			r.Context(), token.HashToken(key),
		)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				httperr.Write(w, "", httperr.ErrInvalidToken)

				return
			}

			s.log.WithError(err).Error("API key lookup failed")
			httperr.Write(w, "", httperr.ErrInternal)

			return
		}

		ctx := context.WithValue(r.Context(), apiKeyContextKey, apiKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission rejects API-key callers lacking perm.
func (s *server) requirePermission(
	w http.ResponseWriter, r *http.Request, perm string,
) bool {
	apiKey, _ := r.Context().Value(apiKeyContextKey).(*store.APIKey)
	if apiKey == nil || !apiKey.Permissions.Allows(perm) {
		httperr.Write(w, "", httperr.ErrForbidden)

		return false
	}

	return true
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)

	return err == nil
}
