// Package authapi implements the internal authentication API: SRP
// registration and login, token refresh, password reset, and captcha
// issuance. It binds to loopback and is reached through the edge gateway's
// /auth/* forwarding band.
package authapi

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arclabs/arcgate/pkg/captcha"
	"github.com/arclabs/arcgate/pkg/config"
	"github.com/arclabs/arcgate/pkg/mailer"
	"github.com/arclabs/arcgate/pkg/ratelimit"
	"github.com/arclabs/arcgate/pkg/store"
	"github.com/arclabs/arcgate/pkg/token"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the auth API HTTP server lifecycle.
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
	sender     mailer.Sender
	captcha    *captcha.Service
	rules      *ratelimit.Rules
	httpServer *http.Server

	// synthKey keys the deterministic salt returned for unknown emails at
	// login init, so repeated inits for the same unknown address look like
	// a stable registered account.
	synthKey []byte

	wg sync.WaitGroup
}

// NewServer creates the auth API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	st store.Store,
	tokens *token.Service,
	sender mailer.Sender,
	captchaSvc *captcha.Service,
	rules *ratelimit.Rules,
) Server {
	return &server{
		log:     log.WithField("component", "authapi"),
		cfg:     cfg,
		store:   st,
		tokens:  tokens,
		sender:  sender,
		captcha: captchaSvc,
		rules:   rules,
	}
}

// Start binds the loopback listener and serves requests.
func (s *server) Start(ctx context.Context) error {
	s.synthKey = make([]byte, 32)
	if _, err := rand.Read(s.synthKey); err != nil {
		return fmt.Errorf("generating synthetic salt key: %w", err)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Server.APIPort)

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

		s.log.WithField("listen", addr).Info("Auth API starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
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

	s.wg.Wait()
	s.log.Info("Auth API stopped")

	return nil
}
