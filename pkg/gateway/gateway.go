// Package gateway implements the public edge proxy: route resolution,
// token classification, header discipline, opportunistic access-token
// refresh, and transparent WebSocket/SSE streaming.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arclabs/arcgate/pkg/config"
	"github.com/arclabs/arcgate/pkg/store"
	"github.com/arclabs/arcgate/pkg/token"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the gateway HTTP server lifecycle.
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
	routes     *RouteCache
	transport  *http.Transport
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates the edge gateway.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	st store.Store,
	tokens *token.Service,
	routes *RouteCache,
) Server {
	return &server{
		log:    log.WithField("component", "gateway"),
		cfg:    cfg,
		store:  st,
		tokens: tokens,
		routes: routes,
		transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}

// Start builds the route snapshot and begins serving.
func (s *server) Start(ctx context.Context) error {
	if err := s.routes.Rebuild(ctx); err != nil {
		return fmt.Errorf("building route cache: %w", err)
	}

	addr := fmt.Sprintf(":%d", s.cfg.Server.GatewayPort)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", addr).Info("Gateway starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the gateway.
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

	s.transport.CloseIdleConnections()
	s.wg.Wait()
	s.log.Info("Gateway stopped")

	return nil
}
