// Package adminapi implements the operator plane: admin accounts
// (argon2id passwords, one-shot bootstrap token), configuration CRUD over
// proxy routes, rate limits, JWT settings and SMTP, user management, API
// keys, and a stats endpoint.
package adminapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arclabs/arcgate/pkg/config"
	"github.com/arclabs/arcgate/pkg/gateway"
	"github.com/arclabs/arcgate/pkg/ratelimit"
	"github.com/arclabs/arcgate/pkg/store"
	"github.com/arclabs/arcgate/pkg/token"
)

const (
	shutdownTimeout   = 10 * time.Second
	bootstrapTokenTTL = 24 * time.Hour

	adminTierRequestsPerMinute = 100
)

// Server exposes the admin API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	store      store.Store
	tokens     *token.Service
	secrets    *token.SecretProvider
	routes     *gateway.RouteCache
	rules      *ratelimit.Rules
	tier       *ratelimit.TierLimiter
	requests   atomic.Int64
	startedAt  time.Time
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates the admin API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	st store.Store,
	tokens *token.Service,
	secrets *token.SecretProvider,
	routes *gateway.RouteCache,
	rules *ratelimit.Rules,
) Server {
	return &server{
		log:     log.WithField("component", "adminapi"),
		cfg:     cfg,
		store:   st,
		tokens:  tokens,
		secrets: secrets,
		routes:  routes,
		rules:   rules,
	}
}

// Start ensures a bootstrap credential exists and begins serving.
func (s *server) Start(ctx context.Context) error {
	if err := s.ensureBootstrapToken(ctx); err != nil {
		return err
	}

	s.tier = ratelimit.NewTierLimiter(adminTierRequestsPerMinute)
	s.startedAt = time.Now().UTC()

	addr := fmt.Sprintf(":%d", s.cfg.Server.AdminPort)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", addr).Info("Admin API starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the admin API.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	if s.tier != nil {
		s.tier.Close()
	}

	s.wg.Wait()
	s.log.Info("Admin API stopped")

	return nil
}

// ensureBootstrapToken generates and logs a one-shot registration token
// when no admin account and no valid token exist yet. Only the hash is
// persisted.
func (s *server) ensureBootstrapToken(ctx context.Context) error {
	count, err := s.store.CountAdmins(ctx)
	if err != nil {
		return fmt.Errorf("counting admins: %w", err)
	}

	if count > 0 {
		return nil
	}

	hasToken, err := s.store.HasValidAdminRegistrationToken(ctx)
	if err != nil {
		return fmt.Errorf("checking registration tokens: %w", err)
	}

	if hasToken {
		return nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generating registration token: %w", err)
	}

	rawToken := hex.EncodeToString(raw)

	if err := s.store.CreateAdminRegistrationToken(ctx,
		&store.AdminRegistrationToken{
			TokenHash: token.HashToken(rawToken),
			ExpiresAt: time.Now().UTC().Add(bootstrapTokenTTL),
		}); err != nil {
		return err
	}

	s.log.Info("========================================")
	s.log.Info("NO ADMIN FOUND - REGISTRATION TOKEN GENERATED")
	s.log.Infof("Token: %s", rawToken)
	s.log.Info("Valid for 24 hours. Use it to register the first admin.")
	s.log.Info("========================================")

	return nil
}
