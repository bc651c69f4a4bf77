package token

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arclabs/arcgate/pkg/store"
)

// secretTTL bounds how stale a cached secret may be. A rotated secret is
// observed within one TTL even without an explicit Invalidate call (e.g.
// when the rotation happened in another instance).
const secretTTL = 30 * time.Second

type secretSnapshot struct {
	secret   string
	loadedAt time.Time
}

// SecretProvider serves the current JWT signing secret from the system
// config row. Reads are an atomic pointer load; the row is re-read after
// secretTTL or immediately after Invalidate.
type SecretProvider struct {
	log      logrus.FieldLogger
	store    store.Store
	snapshot atomic.Pointer[secretSnapshot]
}

// NewSecretProvider creates a provider over the given store.
func NewSecretProvider(
	log logrus.FieldLogger, st store.Store,
) *SecretProvider {
	return &SecretProvider{
		log:   log.WithField("component", "secret-provider"),
		store: st,
	}
}

// Get returns the current signing secret.
func (p *SecretProvider) Get(ctx context.Context) (string, error) {
	if snap := p.snapshot.Load(); snap != nil &&
		time.Since(snap.loadedAt) < secretTTL {
		return snap.secret, nil
	}

	cfg, err := p.store.GetSystemConfig(ctx)
	if err != nil {
		// Serve the stale secret rather than failing every request
		// during a transient database outage.
		if snap := p.snapshot.Load(); snap != nil {
			p.log.WithError(err).Warn("Serving stale JWT secret")

			return snap.secret, nil
		}

		return "", fmt.Errorf("loading jwt secret: %w", err)
	}

	p.snapshot.Store(&secretSnapshot{
		secret:   cfg.JWTSecret,
		loadedAt: time.Now(),
	})

	return cfg.JWTSecret, nil
}

// Invalidate drops the cached secret so the next Get re-reads the store.
// Called after an admin-triggered rotation.
func (p *SecretProvider) Invalidate() {
	p.snapshot.Store(nil)
}

// GenerateSecret returns a fresh 64-character alphanumeric signing secret.
func GenerateSecret() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
		"abcdefghijklmnopqrstuvwxyz0123456789"

	out := make([]byte, 64)

	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("generating secret: %w", err)
		}

		out[i] = charset[n.Int64()]
	}

	return string(out), nil
}
