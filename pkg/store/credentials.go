package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxCodeAttempts bounds how many times a single verification code may be
// matched against, successful or not. A 6-digit code must not be
// brute-forceable within its 10-minute lifetime.
const MaxCodeAttempts = 5

// --- Verification codes ---

func (s *store) CreateVerificationCode(
	ctx context.Context, code *VerificationCode,
) error {
	if err := s.db.WithContext(ctx).Create(code).Error; err != nil {
		return fmt.Errorf("creating verification code: %w", err)
	}

	return nil
}

// ConsumeVerificationCode matches code against the newest live code for
// (email, kind) and marks it used. Every call burns one of the row's
// MaxCodeAttempts tries first, right or wrong, so a 6-digit code cannot be
// guessed; both the attempt spend and the used flip are single conditional
// UPDATEs, never read-then-write.
func (s *store) ConsumeVerificationCode(
	ctx context.Context, email, code, kind string,
) error {
	now := time.Now().UTC()

	var row VerificationCode
	if err := s.db.WithContext(ctx).
		Where("email = ? AND kind = ? AND used = ? AND expires_at > ?",
			email, kind, false, now).
		Order("created_at DESC").
		First(&row).Error; err != nil {
		return translate(err)
	}

	spend := s.db.WithContext(ctx).
		Model(&VerificationCode{}).
		Where("id = ? AND attempts < ?", row.ID, MaxCodeAttempts).
		Update("attempts", gorm.Expr("attempts + 1"))
	if spend.Error != nil {
		return fmt.Errorf("spending code attempt: %w", spend.Error)
	}

	if spend.RowsAffected == 0 {
		s.log.WithField("email", email).
			WithField("kind", kind).
			Warn("Verification code exhausted")

		return ErrNotFound
	}

	result := s.db.WithContext(ctx).
		Model(&VerificationCode{}).
		Where("id = ? AND code = ? AND used = ? AND expires_at > ?",
			row.ID, code, false, now).
		Update("used", true)
	if result.Error != nil {
		return fmt.Errorf("consuming verification code: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// LatestVerificationCode returns the newest live code for an email, used by
// tests.
func (s *store) LatestVerificationCode(
	ctx context.Context, email, kind string,
) (*VerificationCode, error) {
	var code VerificationCode
	if err := s.db.WithContext(ctx).
		Where("email = ? AND kind = ? AND used = ? AND expires_at > ?",
			email, kind, false, time.Now().UTC()).
		Order("created_at DESC").
		First(&code).Error; err != nil {
		return nil, translate(err)
	}

	return &code, nil
}

// --- SRP sessions ---

func (s *store) CreateSrpSession(
	ctx context.Context, session *SrpSession,
) error {
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("creating srp session: %w", err)
	}

	return nil
}

// ConsumeSrpSession atomically fetches and deletes an unexpired session.
// Session rows are immutable after creation, so the read is safe; the
// conditional DELETE is the consume — concurrent verifies race on it and at
// most one observes RowsAffected == 1.
func (s *store) ConsumeSrpSession(
	ctx context.Context, id string,
) (*SrpSession, error) {
	now := time.Now().UTC()

	var session SrpSession
	if err := s.db.WithContext(ctx).
		Where("id = ? AND expires_at > ?", id, now).
		First(&session).Error; err != nil {
		return nil, translate(err)
	}

	result := s.db.WithContext(ctx).
		Where("id = ? AND expires_at > ?", id, now).
		Delete(&SrpSession{})
	if result.Error != nil {
		return nil, fmt.Errorf("consuming srp session: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	return &session, nil
}

// --- Refresh tokens ---

func (s *store) CreateRefreshToken(
	ctx context.Context, token *RefreshToken,
) error {
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("creating refresh token: %w", err)
	}

	return nil
}

func (s *store) GetRefreshTokenByHash(
	ctx context.Context, hash string,
) (*RefreshToken, error) {
	var token RefreshToken
	if err := s.db.WithContext(ctx).
		Where("token_hash = ?", hash).
		First(&token).Error; err != nil {
		return nil, translate(err)
	}

	return &token, nil
}

// RevokeRefreshTokenIfActive flips revoked on a live token. Returns true
// only for the caller whose UPDATE actually transitioned the row, which
// makes rotation single-success under concurrency.
func (s *store) RevokeRefreshTokenIfActive(
	ctx context.Context, hash string,
) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&RefreshToken{}).
		Where("token_hash = ? AND revoked = ? AND expires_at > ?",
			hash, false, time.Now().UTC()).
		Update("revoked", true)
	if result.Error != nil {
		return false, fmt.Errorf("revoking refresh token: %w", result.Error)
	}

	return result.RowsAffected == 1, nil
}

func (s *store) RevokeUserRefreshTokens(
	ctx context.Context, userID string,
) error {
	result := s.db.WithContext(ctx).
		Model(&RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true)
	if result.Error != nil {
		return fmt.Errorf("revoking user refresh tokens: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.WithField("user_id", userID).
			WithField("count", result.RowsAffected).
			Info("Revoked outstanding refresh tokens")
	}

	return nil
}

// --- Captchas ---

func (s *store) CreateCaptcha(ctx context.Context, captcha *Captcha) error {
	if err := s.db.WithContext(ctx).Create(captcha).Error; err != nil {
		return fmt.Errorf("creating captcha: %w", err)
	}

	return nil
}

// BurnCaptcha marks the captcha used and returns its challenge text in one
// UPDATE ... RETURNING statement. The burn happens whether or not the
// caller's answer turns out to be correct: one validation attempt per
// challenge, and the cleanup sweeper can never race a won burn.
func (s *store) BurnCaptcha(
	ctx context.Context, id string,
) (string, error) {
	var burned Captcha

	result := s.db.WithContext(ctx).
		Model(&burned).
		Clauses(clause.Returning{
			Columns: []clause.Column{{Name: "text"}},
		}).
		Where("id = ? AND used = ? AND expires_at > ?",
			id, false, time.Now().UTC()).
		Update("used", true)
	if result.Error != nil {
		return "", fmt.Errorf("burning captcha: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return "", ErrNotFound
	}

	return burned.Text, nil
}
