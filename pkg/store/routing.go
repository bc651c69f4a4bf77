package store

import (
	"context"
	"fmt"
	"time"
)

// --- Proxy routes ---

func (s *store) ListProxyRoutes(ctx context.Context) ([]ProxyRoute, error) {
	var routes []ProxyRoute
	if err := s.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&routes).Error; err != nil {
		return nil, fmt.Errorf("listing proxy routes: %w", err)
	}

	return routes, nil
}

func (s *store) ListEnabledProxyRoutes(
	ctx context.Context,
) ([]ProxyRoute, error) {
	var routes []ProxyRoute
	if err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("created_at ASC").
		Find(&routes).Error; err != nil {
		return nil, fmt.Errorf("listing enabled proxy routes: %w", err)
	}

	return routes, nil
}

func (s *store) CreateProxyRoute(
	ctx context.Context, route *ProxyRoute,
) error {
	// Create replaces false bools with the column default (true), so false
	// flags are written back explicitly.
	requireAuth, enabled := route.RequireAuth, route.Enabled

	if err := s.db.WithContext(ctx).Create(route).Error; err != nil {
		return fmt.Errorf("creating proxy route: %w", err)
	}

	if !requireAuth || !enabled {
		if err := s.db.WithContext(ctx).
			Model(&ProxyRoute{}).
			Where("id = ?", route.ID).
			Updates(map[string]any{
				"require_auth": requireAuth,
				"enabled":      enabled,
			}).Error; err != nil {
			return fmt.Errorf("creating proxy route: %w", err)
		}

		route.RequireAuth, route.Enabled = requireAuth, enabled
	}

	return nil
}

func (s *store) UpdateProxyRoute(
	ctx context.Context, route *ProxyRoute,
) error {
	result := s.db.WithContext(ctx).
		Model(&ProxyRoute{}).
		Where("id = ?", route.ID).
		Updates(map[string]any{
			"path_prefix":  route.PathPrefix,
			"upstream":     route.Upstream,
			"require_auth": route.RequireAuth,
			"strip_prefix": route.StripPrefix,
			"enabled":      route.Enabled,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("updating proxy route: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *store) DeleteProxyRoute(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&ProxyRoute{})
	if result.Error != nil {
		return fmt.Errorf("deleting proxy route: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// --- Rate limit rules ---

func (s *store) ListRateLimitRules(
	ctx context.Context,
) ([]RateLimitRule, error) {
	var rules []RateLimitRule
	if err := s.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("listing rate limit rules: %w", err)
	}

	return rules, nil
}

func (s *store) ListEnabledRateLimitRules(
	ctx context.Context,
) ([]RateLimitRule, error) {
	var rules []RateLimitRule
	if err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("created_at ASC").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("listing enabled rate limit rules: %w", err)
	}

	return rules, nil
}

func (s *store) CreateRateLimitRule(
	ctx context.Context, rule *RateLimitRule,
) error {
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return translate(err)
	}

	return nil
}

func (s *store) UpdateRateLimitRule(
	ctx context.Context, rule *RateLimitRule,
) error {
	result := s.db.WithContext(ctx).
		Model(&RateLimitRule{}).
		Where("id = ?", rule.ID).
		Updates(map[string]any{
			"name":         rule.Name,
			"path_pattern": rule.PathPattern,
			"key_by":       rule.KeyBy,
			"max_requests": rule.MaxRequests,
			"window_secs":  rule.WindowSecs,
			"enabled":      rule.Enabled,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("updating rate limit rule: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *store) DeleteRateLimitRule(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&RateLimitRule{})
	if result.Error != nil {
		return fmt.Errorf("deleting rate limit rule: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// SeedRateLimitRules inserts the baseline rules, preserving any the admin
// has already created or edited (first-write-wins by name).
func (s *store) SeedRateLimitRules(
	ctx context.Context, rules []RateLimitRule,
) error {
	for i := range rules {
		rule := rules[i]
		if err := s.db.WithContext(ctx).
			Where("name = ?", rule.Name).
			FirstOrCreate(&rule).Error; err != nil {
			return fmt.Errorf("seeding rule %q: %w", rule.Name, err)
		}
	}

	s.log.WithField("count", len(rules)).
		Debug("Seeded baseline rate limit rules")

	return nil
}
