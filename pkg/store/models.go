package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Verification code kinds.
const (
	CodeKindRegister      = "register"
	CodeKindPasswordReset = "reset_password"
)

// User is an end user authenticating via SRP. The server stores only the
// client-derived (salt, verifier) pair; there is no password hash column.
type User struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	Email         string    `gorm:"uniqueIndex;not null" json:"email"`
	SrpSalt       string    `gorm:"not null" json:"-"`
	SrpVerifier   string    `gorm:"not null" json:"-"`
	EmailVerified bool      `gorm:"not null" json:"email_verified"`
	IsActive      bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID primary key when none is set.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}

	return nil
}

// VerificationCode is a single-use 6-digit email code.
type VerificationCode struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Email     string    `gorm:"index;not null" json:"email"`
	Code      string    `gorm:"not null" json:"-"`
	Kind      string    `gorm:"not null" json:"kind"`
	Attempts  int       `gorm:"not null;default:0" json:"attempts"`
	Used      bool      `gorm:"not null;default:false" json:"used"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *VerificationCode) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	return nil
}

// SrpSession is an in-progress SRP login handshake. UserID is empty for
// synthetic sessions issued for unknown emails; those can never verify.
type SrpSession struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"size:36" json:"user_id"`
	Email        string    `gorm:"not null" json:"email"`
	Salt         string    `gorm:"not null" json:"-"`
	ServerSecret string    `gorm:"not null" json:"-"`
	ClientPublic string    `gorm:"not null" json:"-"`
	Verifier     string    `gorm:"not null" json:"-"`
	ExpiresAt    time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *SrpSession) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	return nil
}

// RefreshToken stores only the SHA-256 hash of an issued refresh token.
type RefreshToken struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"index;size:36;not null" json:"user_id"`
	TokenHash string    `gorm:"uniqueIndex;not null" json:"-"`
	Revoked   bool      `gorm:"not null;default:false" json:"revoked"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *RefreshToken) BeforeCreate(_ *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	return nil
}

// Admin is an operator account. Unlike end users, admins authenticate with
// username+password; the hash is argon2id.
type Admin struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (a *Admin) BeforeCreate(_ *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	return nil
}

// AdminRegistrationToken is the single-use bootstrap credential for the
// first admin account. Only its hash is persisted.
type AdminRegistrationToken struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	TokenHash string    `gorm:"uniqueIndex;not null" json:"-"`
	Used      bool      `gorm:"not null;default:false" json:"used"`
	UsedBy    string    `gorm:"size:36" json:"used_by"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *AdminRegistrationToken) BeforeCreate(_ *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	return nil
}

// Permissions is a JSON-encoded string list. The single element "*" grants
// every permission.
type Permissions []string

// Value implements driver.Valuer.
func (p Permissions) Value() (driver.Value, error) {
	b, err := json.Marshal([]string(p))
	if err != nil {
		return nil, fmt.Errorf("encoding permissions: %w", err)
	}

	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *Permissions) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*[]string)(p))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(p))
	case nil:
		*p = nil
		return nil
	default:
		return fmt.Errorf("unsupported permissions column type %T", value)
	}
}

// Allows reports whether the set grants perm.
func (p Permissions) Allows(perm string) bool {
	for _, have := range p {
		if have == "*" || have == perm {
			return true
		}
	}

	return false
}

// APIKey is a machine credential for the admin plane's external endpoints.
type APIKey struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id"`
	AdminID     string      `gorm:"index;size:36;not null" json:"admin_id"`
	Name        string      `gorm:"not null" json:"name"`
	KeyHash     string      `gorm:"uniqueIndex;not null" json:"-"`
	KeyPrefix   string      `gorm:"size:8;not null" json:"key_prefix"`
	Permissions Permissions `gorm:"type:text" json:"permissions"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (k *APIKey) BeforeCreate(_ *gorm.DB) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}

	return nil
}

// Captcha is a short-lived challenge burned on first validation attempt.
type Captcha struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Text      string    `gorm:"not null" json:"-"`
	Used      bool      `gorm:"not null;default:false" json:"used"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Captcha) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	return nil
}

// ProxyRoute is a dynamic (admin-managed) route for the edge proxy.
type ProxyRoute struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	PathPrefix  string    `gorm:"not null" json:"path_prefix"`
	Upstream    string    `gorm:"not null" json:"upstream"`
	RequireAuth bool      `gorm:"not null;default:true" json:"require_auth"`
	StripPrefix string    `json:"strip_prefix"`
	Enabled     bool      `gorm:"not null;default:true" json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (r *ProxyRoute) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	return nil
}

// RateLimitRule configures a sliding-window limit for an endpoint pattern.
// KeyBy is one of "ip", "email", "user".
type RateLimitRule struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	PathPattern string    `gorm:"not null" json:"path_pattern"`
	KeyBy       string    `gorm:"not null" json:"key_by"`
	MaxRequests int       `gorm:"not null" json:"max_requests"`
	WindowSecs  int       `gorm:"not null" json:"window_secs"`
	Enabled     bool      `gorm:"not null;default:true" json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (r *RateLimitRule) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	return nil
}

// SystemConfig is the singleton row holding SMTP settings and the JWT
// signing secret. The secret is never exposed through the admin API; only
// SecretUpdatedAt is.
type SystemConfig struct {
	ID              int       `gorm:"primaryKey" json:"id"`
	SMTPHost        string    `json:"smtp_host"`
	SMTPPort        int       `json:"smtp_port"`
	SMTPUser        string    `json:"smtp_user"`
	SMTPPass        string    `json:"-"`
	FromEmail       string    `json:"from_email"`
	FromName        string    `json:"from_name"`
	JWTSecret       string    `gorm:"not null" json:"-"`
	SecretUpdatedAt time.Time `gorm:"not null" json:"jwt_secret_updated_at"`

	// Token lifetime overrides in seconds; 0 inherits the file config.
	AccessTTLSecs   int       `json:"access_ttl_secs"`
	RefreshTTLSecs  int       `json:"refresh_ttl_secs"`
	AutoRefreshSecs int       `json:"auto_refresh_secs"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
