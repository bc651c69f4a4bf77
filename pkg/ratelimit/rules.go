package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arclabs/arcgate/pkg/store"
)

// Key dimensions a rule may limit by.
const (
	KeyByIP    = "ip"
	KeyByEmail = "email"
	KeyByUser  = "user"
)

// Baseline returns the default rule set seeded on first start. Admins may
// edit or disable any of them afterwards.
func Baseline() []store.RateLimitRule {
	return []store.RateLimitRule{
		{Name: "register-ip", PathPattern: "POST /auth/register", KeyBy: KeyByIP, MaxRequests: 5, WindowSecs: 3600, Enabled: true},
		{Name: "register-email", PathPattern: "POST /auth/register", KeyBy: KeyByEmail, MaxRequests: 1, WindowSecs: 60, Enabled: true},
		{Name: "login-ip", PathPattern: "POST /auth/login/*", KeyBy: KeyByIP, MaxRequests: 10, WindowSecs: 60, Enabled: true},
		{Name: "login-email", PathPattern: "POST /auth/login/*", KeyBy: KeyByEmail, MaxRequests: 5, WindowSecs: 300, Enabled: true},
		{Name: "reset-ip", PathPattern: "POST /auth/password/reset", KeyBy: KeyByIP, MaxRequests: 3, WindowSecs: 600, Enabled: true},
		{Name: "reset-email", PathPattern: "POST /auth/password/reset", KeyBy: KeyByEmail, MaxRequests: 1, WindowSecs: 60, Enabled: true},
		{Name: "refresh-user", PathPattern: "POST /auth/refresh", KeyBy: KeyByUser, MaxRequests: 60, WindowSecs: 60, Enabled: true},
	}
}

type compiledRule struct {
	rule   store.RateLimitRule
	window *Window
}

// Rules evaluates the enabled RateLimitRule rows against requests. Windows
// are kept per rule id and survive Reload when the rule is unchanged, so an
// admin edit does not reset unrelated counters.
type Rules struct {
	log   logrus.FieldLogger
	store store.Store

	mu       sync.RWMutex
	compiled []compiledRule
}

// NewRules creates the rule engine.
func NewRules(log logrus.FieldLogger, st store.Store) *Rules {
	return &Rules{
		log:   log.WithField("component", "ratelimit"),
		store: st,
	}
}

// Reload fetches the enabled rules from the store and swaps them in.
func (r *Rules) Reload(ctx context.Context) error {
	rows, err := r.store.ListEnabledRateLimitRules(ctx)
	if err != nil {
		return fmt.Errorf("loading rate limit rules: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous := make(map[string]compiledRule, len(r.compiled))
	for _, c := range r.compiled {
		previous[c.rule.ID] = c
	}

	compiled := make([]compiledRule, 0, len(rows))

	for _, row := range rows {
		if prev, ok := previous[row.ID]; ok &&
			prev.rule.MaxRequests == row.MaxRequests &&
			prev.rule.WindowSecs == row.WindowSecs {
			prev.rule = row
			compiled = append(compiled, prev)

			continue
		}

		compiled = append(compiled, compiledRule{
			rule: row,
			window: NewWindow(
				row.MaxRequests,
				time.Duration(row.WindowSecs)*time.Second,
			),
		})
	}

	r.compiled = compiled
	r.log.WithField("count", len(compiled)).Debug("Rate limit rules loaded")

	return nil
}

// Allow checks every rule matching (method, path) on the given dimension.
// The request is rejected if any matching window is exhausted.
func (r *Rules) Allow(method, path, keyBy, key string) bool {
	if key == "" {
		return true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.compiled {
		c := &r.compiled[i]
		if c.rule.KeyBy != keyBy {
			continue
		}

		if !patternMatches(c.rule.PathPattern, method, path) {
			continue
		}

		if !c.window.Allow(c.rule.ID + ":" + key) {
			r.log.WithField("rule", c.rule.Name).
				WithField("key_by", keyBy).
				Warn("Rate limit exceeded")

			return false
		}
	}

	return true
}

// patternMatches evaluates "METHOD /path" patterns where a trailing "/*"
// matches any suffix.
func patternMatches(pattern, method, path string) bool {
	patMethod, patPath, found := strings.Cut(pattern, " ")
	if !found {
		return false
	}

	if !strings.EqualFold(patMethod, method) {
		return false
	}

	if prefix, ok := strings.CutSuffix(patPath, "/*"); ok {
		return strings.HasPrefix(path, prefix+"/")
	}

	return path == patPath
}
