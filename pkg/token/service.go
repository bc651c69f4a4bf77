// Package token issues and validates the gateway's JWTs and manages the
// refresh-token hash table. Access and refresh tokens are HS256-signed with
// the rotatable secret from the system config row.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arclabs/arcgate/pkg/config"
	"github.com/arclabs/arcgate/pkg/httperr"
	"github.com/arclabs/arcgate/pkg/store"
)

// RoleAdmin marks operator tokens. End-user tokens carry no role.
const RoleAdmin = "admin"

// Claims is the claim set for every token class the service issues.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and validates tokens. The TTL settings are admin-editable
// at runtime, so they sit behind a read-mostly lock.
type Service struct {
	log     logrus.FieldLogger
	store   store.Store
	secrets *SecretProvider

	mu  sync.RWMutex
	cfg config.JWTConfig
}

// NewService creates a token service.
func NewService(
	log logrus.FieldLogger,
	st store.Store,
	secrets *SecretProvider,
	cfg config.JWTConfig,
) *Service {
	return &Service{
		log:     log.WithField("component", "token"),
		store:   st,
		secrets: secrets,
		cfg:     cfg,
	}
}

// Config returns a snapshot of the current TTL settings.
func (s *Service) Config() config.JWTConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg
}

// SetTTLs applies admin-edited token lifetimes. Zero values leave the
// corresponding setting unchanged.
func (s *Service) SetTTLs(access, refresh, threshold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if access > 0 {
		s.cfg.AccessTokenTTL = access
	}

	if refresh > 0 {
		s.cfg.RefreshTokenTTL = refresh
	}

	if threshold > 0 {
		s.cfg.AutoRefreshThreshold = threshold
	}
}

// SetRotateRefresh toggles the refresh-rotation policy.
func (s *Service) SetRotateRefresh(rotate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg.RotateRefresh = rotate
}

// HashToken returns the hex SHA-256 of a serialized token. Only this form
// is ever persisted.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))

	return hex.EncodeToString(sum[:])
}

func (s *Service) sign(ctx context.Context, claims *Claims) (string, error) {
	secret, err := s.secrets.Get(ctx)
	if err != nil {
		return "", err
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	return signed, nil
}

// IssueAccessToken mints a short-lived access token for a user.
func (s *Service) IssueAccessToken(
	ctx context.Context, userID, email string,
) (string, error) {
	now := time.Now().UTC()

	return s.sign(ctx, &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.Config().AccessTokenTTL)),
			ID:        uuid.NewString(),
		},
	})
}

// IssueRefreshToken mints a long-lived refresh token and persists its hash.
// The raw token exists server-side only until this call returns.
func (s *Service) IssueRefreshToken(
	ctx context.Context, userID string,
) (string, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.Config().RefreshTokenTTL)

	raw, err := s.sign(ctx, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	})
	if err != nil {
		return "", err
	}

	if err := s.store.CreateRefreshToken(ctx, &store.RefreshToken{
		UserID:    userID,
		TokenHash: HashToken(raw),
		ExpiresAt: expiresAt,
	}); err != nil {
		return "", err
	}

	return raw, nil
}

// IssuePair mints an access+refresh pair for a user.
func (s *Service) IssuePair(
	ctx context.Context, userID, email string,
) (access, refresh string, err error) {
	access, err = s.IssueAccessToken(ctx, userID, email)
	if err != nil {
		return "", "", err
	}

	refresh, err = s.IssueRefreshToken(ctx, userID)
	if err != nil {
		return "", "", err
	}

	return access, refresh, nil
}

// IssueAdminToken mints an operator token.
func (s *Service) IssueAdminToken(
	ctx context.Context, adminID, username string,
) (string, error) {
	now := time.Now().UTC()

	return s.sign(ctx, &Claims{
		Username: username,
		Role:     RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.Config().AccessTokenTTL)),
			ID:        uuid.NewString(),
		},
	})
}

func (s *Service) parse(ctx context.Context, raw string) (*Claims, error) {
	secret, err := s.secrets.Get(ctx)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}

	_, err = jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, httperr.ErrTokenExpired
		}

		return nil, httperr.ErrInvalidToken
	}

	return claims, nil
}

// ValidateAccessToken parses and verifies an end-user access token.
func (s *Service) ValidateAccessToken(
	ctx context.Context, raw string,
) (*Claims, error) {
	claims, err := s.parse(ctx, raw)
	if err != nil {
		return nil, err
	}

	if claims.Role != "" {
		return nil, httperr.ErrInvalidToken
	}

	return claims, nil
}

// ValidateAdminToken parses and verifies an operator token.
func (s *Service) ValidateAdminToken(
	ctx context.Context, raw string,
) (*Claims, error) {
	claims, err := s.parse(ctx, raw)
	if err != nil {
		return nil, err
	}

	if claims.Role != RoleAdmin {
		return nil, httperr.ErrInvalidToken
	}

	return claims, nil
}

// ShouldRefresh reports whether an access token is inside the auto-refresh
// window.
func (s *Service) ShouldRefresh(claims *Claims) bool {
	if claims.ExpiresAt == nil {
		return false
	}

	return time.Until(claims.ExpiresAt.Time) < s.Config().AutoRefreshThreshold
}

// ParseSubject verifies a token of any class and returns its subject.
// Used for subject-keyed rate limiting ahead of the real exchange.
func (s *Service) ParseSubject(ctx context.Context, raw string) (string, error) {
	claims, err := s.parse(ctx, raw)
	if err != nil {
		return "", err
	}

	return claims.Subject, nil
}

// Refresh exchanges a refresh token for a new access token. Under the
// rotation policy the old token is revoked and a successor refresh token is
// returned; the conditional revoke makes the exchange single-success, so a
// replayed refresh token cannot mint a second lineage.
func (s *Service) Refresh(
	ctx context.Context, rawRefresh string,
) (access, newRefresh string, err error) {
	claims, err := s.parse(ctx, rawRefresh)
	if err != nil {
		return "", "", err
	}

	if claims.Role != "" {
		return "", "", httperr.ErrInvalidToken
	}

	hash := HashToken(rawRefresh)

	row, err := s.store.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", "", httperr.ErrInvalidToken
		}

		return "", "", err
	}

	if row.Revoked {
		return "", "", httperr.ErrTokenRevoked
	}

	if time.Now().UTC().After(row.ExpiresAt) {
		return "", "", httperr.ErrTokenExpired
	}

	user, err := s.store.GetUserByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", "", httperr.ErrInvalidToken
		}

		return "", "", err
	}

	if !user.IsActive {
		return "", "", httperr.ErrInvalidCredentials
	}

	if s.Config().RotateRefresh {
		ok, err := s.store.RevokeRefreshTokenIfActive(ctx, hash)
		if err != nil {
			return "", "", err
		}

		if !ok {
			// Lost the race to a concurrent refresh of the same token.
			return "", "", httperr.ErrTokenRevoked
		}

		return s.IssuePair(ctx, user.ID, user.Email)
	}

	access, err = s.IssueAccessToken(ctx, user.ID, user.Email)
	if err != nil {
		return "", "", err
	}

	return access, "", nil
}
