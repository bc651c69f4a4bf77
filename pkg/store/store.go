// Package store provides gorm-backed persistence for every arcgate entity.
// The critical consume/burn/revoke operations are single conditional
// statements checked via rows-affected, never read-then-write.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/arclabs/arcgate/pkg/config"
)

// Sentinel errors returned by lookup and consume operations.
var (
	// ErrNotFound is returned when a row is missing, already consumed,
	// or expired.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned on unique-constraint violations.
	ErrConflict = errors.New("store: conflict")
)

// Store provides persistence for arcgate resources.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Users.
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	CountUsers(ctx context.Context) (int64, error)
	CreateUser(ctx context.Context, user *User) error
	UpdateUserSrpCredentials(ctx context.Context, id, salt, verifier string) error
	SetUserActive(ctx context.Context, id string, active bool) error
	DeleteUser(ctx context.Context, id string) error

	// Verification codes.
	CreateVerificationCode(ctx context.Context, code *VerificationCode) error
	ConsumeVerificationCode(ctx context.Context, email, code, kind string) error
	LatestVerificationCode(ctx context.Context, email, kind string) (*VerificationCode, error)

	// SRP sessions.
	CreateSrpSession(ctx context.Context, session *SrpSession) error
	ConsumeSrpSession(ctx context.Context, id string) (*SrpSession, error)

	// Refresh tokens.
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (*RefreshToken, error)
	RevokeRefreshTokenIfActive(ctx context.Context, hash string) (bool, error)
	RevokeUserRefreshTokens(ctx context.Context, userID string) error

	// Admins.
	GetAdminByID(ctx context.Context, id string) (*Admin, error)
	GetAdminByUsername(ctx context.Context, username string) (*Admin, error)
	CountAdmins(ctx context.Context) (int64, error)
	CreateAdmin(ctx context.Context, admin *Admin) error
	DeleteAdminAccount(ctx context.Context, id string) error
	CreateAdminRegistrationToken(ctx context.Context, token *AdminRegistrationToken) error
	HasValidAdminRegistrationToken(ctx context.Context) (bool, error)
	RedeemAdminRegistrationToken(ctx context.Context, hash, adminID string) (bool, error)

	// API keys.
	CreateAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	ListAPIKeys(ctx context.Context, adminID string) ([]APIKey, error)
	DeleteAPIKey(ctx context.Context, id, adminID string) error

	// Captchas.
	CreateCaptcha(ctx context.Context, captcha *Captcha) error
	BurnCaptcha(ctx context.Context, id string) (string, error)

	// Proxy routes.
	ListProxyRoutes(ctx context.Context) ([]ProxyRoute, error)
	ListEnabledProxyRoutes(ctx context.Context) ([]ProxyRoute, error)
	CreateProxyRoute(ctx context.Context, route *ProxyRoute) error
	UpdateProxyRoute(ctx context.Context, route *ProxyRoute) error
	DeleteProxyRoute(ctx context.Context, id string) error

	// Rate limit rules.
	ListRateLimitRules(ctx context.Context) ([]RateLimitRule, error)
	ListEnabledRateLimitRules(ctx context.Context) ([]RateLimitRule, error)
	CreateRateLimitRule(ctx context.Context, rule *RateLimitRule) error
	UpdateRateLimitRule(ctx context.Context, rule *RateLimitRule) error
	DeleteRateLimitRule(ctx context.Context, id string) error
	SeedRateLimitRules(ctx context.Context, rules []RateLimitRule) error

	// System config singleton.
	InitSystemConfig(ctx context.Context, initialSecret string) error
	GetSystemConfig(ctx context.Context) (*SystemConfig, error)
	UpdateSMTPConfig(ctx context.Context, cfg *SystemConfig) error
	UpdateJWTTTLs(ctx context.Context, accessSecs, refreshSecs, thresholdSecs int) error
	RotateJWTSecret(ctx context.Context, newSecret string) (time.Time, error)

	// Cleanup sweeps.
	DeleteExpiredVerificationCodes(ctx context.Context) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context) (int64, error)
	DeleteExpiredSrpSessions(ctx context.Context) (int64, error)
	DeleteExpiredCaptchas(ctx context.Context) (int64, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dialector = postgres.Open(s.cfg.URL)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	if s.cfg.MaxConnections > 0 {
		sqlDB.SetMaxOpenConns(s.cfg.MaxConnections)
	}

	// Every connection to ":memory:" opens a distinct database, so the
	// in-memory driver must be pinned to a single connection.
	if s.cfg.Driver == "sqlite" && s.cfg.SQLite.Path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&User{},
		&VerificationCode{},
		&SrpSession{},
		&RefreshToken{},
		&Admin{},
		&AdminRegistrationToken{},
		&APIKey{},
		&Captcha{},
		&ProxyRoute{},
		&RateLimitRule{},
		&SystemConfig{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// translate maps gorm errors onto the store sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return err
	}
}
