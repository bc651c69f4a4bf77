package store

import (
	"context"
	"fmt"
	"time"
)

const systemConfigID = 1

// InitSystemConfig creates the singleton row on first start. An existing
// row (and its secret) is left untouched.
func (s *store) InitSystemConfig(
	ctx context.Context, initialSecret string,
) error {
	cfg := SystemConfig{
		ID:              systemConfigID,
		JWTSecret:       initialSecret,
		SecretUpdatedAt: time.Now().UTC(),
	}

	result := s.db.WithContext(ctx).
		Where("id = ?", systemConfigID).
		FirstOrCreate(&cfg)
	if result.Error != nil {
		return fmt.Errorf("initializing system config: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.Info("System config initialized with new JWT secret")
	}

	return nil
}

func (s *store) GetSystemConfig(ctx context.Context) (*SystemConfig, error) {
	var cfg SystemConfig
	if err := s.db.WithContext(ctx).
		Where("id = ?", systemConfigID).
		First(&cfg).Error; err != nil {
		return nil, translate(err)
	}

	return &cfg, nil
}

func (s *store) UpdateSMTPConfig(
	ctx context.Context, cfg *SystemConfig,
) error {
	result := s.db.WithContext(ctx).
		Model(&SystemConfig{}).
		Where("id = ?", systemConfigID).
		Updates(map[string]any{
			"smtp_host":  cfg.SMTPHost,
			"smtp_port":  cfg.SMTPPort,
			"smtp_user":  cfg.SMTPUser,
			"smtp_pass":  cfg.SMTPPass,
			"from_email": cfg.FromEmail,
			"from_name":  cfg.FromName,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("updating smtp config: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateJWTTTLs persists admin-edited token lifetimes in seconds.
func (s *store) UpdateJWTTTLs(
	ctx context.Context, accessSecs, refreshSecs, thresholdSecs int,
) error {
	result := s.db.WithContext(ctx).
		Model(&SystemConfig{}).
		Where("id = ?", systemConfigID).
		Updates(map[string]any{
			"access_ttl_secs":   accessSecs,
			"refresh_ttl_secs":  refreshSecs,
			"auto_refresh_secs": thresholdSecs,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("updating jwt ttls: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// RotateJWTSecret replaces the signing secret and stamps the rotation time.
// Every outstanding token becomes invalid once validators re-read.
func (s *store) RotateJWTSecret(
	ctx context.Context, newSecret string,
) (time.Time, error) {
	now := time.Now().UTC()

	result := s.db.WithContext(ctx).
		Model(&SystemConfig{}).
		Where("id = ?", systemConfigID).
		Updates(map[string]any{
			"jwt_secret":        newSecret,
			"secret_updated_at": now,
			"updated_at":        now,
		})
	if result.Error != nil {
		return time.Time{}, fmt.Errorf("rotating jwt secret: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return time.Time{}, ErrNotFound
	}

	s.log.Warn("JWT secret rotated - all existing tokens are now invalid")

	return now, nil
}

// --- Cleanup sweeps ---

func (s *store) DeleteExpiredVerificationCodes(
	ctx context.Context,
) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR used = ?", time.Now().UTC(), true).
		Delete(&VerificationCode{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting expired codes: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func (s *store) DeleteExpiredRefreshTokens(
	ctx context.Context,
) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR revoked = ?", time.Now().UTC(), true).
		Delete(&RefreshToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting expired refresh tokens: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func (s *store) DeleteExpiredSrpSessions(
	ctx context.Context,
) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now().UTC()).
		Delete(&SrpSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting expired srp sessions: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func (s *store) DeleteExpiredCaptchas(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR used = ?", time.Now().UTC(), true).
		Delete(&Captcha{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting expired captchas: %w", result.Error)
	}

	return result.RowsAffected, nil
}
