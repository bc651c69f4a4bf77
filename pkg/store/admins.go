package store

import (
	"context"
	"fmt"
	"time"
)

func (s *store) GetAdminByID(ctx context.Context, id string) (*Admin, error) {
	var admin Admin
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&admin).Error; err != nil {
		return nil, translate(err)
	}

	return &admin, nil
}

func (s *store) GetAdminByUsername(
	ctx context.Context, username string,
) (*Admin, error) {
	var admin Admin
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		First(&admin).Error; err != nil {
		return nil, translate(err)
	}

	return &admin, nil
}

func (s *store) CountAdmins(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Admin{}).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}

	return count, nil
}

func (s *store) CreateAdmin(ctx context.Context, admin *Admin) error {
	if err := s.db.WithContext(ctx).Create(admin).Error; err != nil {
		return translate(err)
	}

	return nil
}

// DeleteAdminAccount removes an admin row, used to roll back account
// creation when the bootstrap token redeem loses its race.
func (s *store) DeleteAdminAccount(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&Admin{}).Error; err != nil {
		return fmt.Errorf("deleting admin: %w", err)
	}

	return nil
}

func (s *store) CreateAdminRegistrationToken(
	ctx context.Context, token *AdminRegistrationToken,
) error {
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("creating admin registration token: %w", err)
	}

	return nil
}

func (s *store) HasValidAdminRegistrationToken(
	ctx context.Context,
) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&AdminRegistrationToken{}).
		Where("used = ? AND expires_at > ?", false, time.Now().UTC()).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking registration tokens: %w", err)
	}

	return count > 0, nil
}

// RedeemAdminRegistrationToken burns the bootstrap token. Single conditional
// UPDATE; the first redeemer wins, all others get false.
func (s *store) RedeemAdminRegistrationToken(
	ctx context.Context, hash, adminID string,
) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&AdminRegistrationToken{}).
		Where("token_hash = ? AND used = ? AND expires_at > ?",
			hash, false, time.Now().UTC()).
		Updates(map[string]any{
			"used":    true,
			"used_by": adminID,
		})
	if result.Error != nil {
		return false, fmt.Errorf("redeeming registration token: %w", result.Error)
	}

	return result.RowsAffected == 1, nil
}

// --- API keys ---

func (s *store) CreateAPIKey(ctx context.Context, key *APIKey) error {
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return fmt.Errorf("creating api key: %w", err)
	}

	return nil
}

func (s *store) GetAPIKeyByHash(
	ctx context.Context, hash string,
) (*APIKey, error) {
	var key APIKey
	if err := s.db.WithContext(ctx).
		Where("key_hash = ?", hash).
		First(&key).Error; err != nil {
		return nil, translate(err)
	}

	return &key, nil
}

func (s *store) ListAPIKeys(
	ctx context.Context, adminID string,
) ([]APIKey, error) {
	var keys []APIKey

	query := s.db.WithContext(ctx).Order("created_at DESC")
	if adminID != "" {
		query = query.Where("admin_id = ?", adminID)
	}

	if err := query.Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}

	return keys, nil
}

func (s *store) DeleteAPIKey(ctx context.Context, id, adminID string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND admin_id = ?", id, adminID).
		Delete(&APIKey{})
	if result.Error != nil {
		return fmt.Errorf("deleting api key: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
