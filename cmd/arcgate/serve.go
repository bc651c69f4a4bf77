package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arclabs/arcgate/pkg/adminapi"
	"github.com/arclabs/arcgate/pkg/authapi"
	"github.com/arclabs/arcgate/pkg/captcha"
	"github.com/arclabs/arcgate/pkg/cleanup"
	"github.com/arclabs/arcgate/pkg/config"
	"github.com/arclabs/arcgate/pkg/gateway"
	"github.com/arclabs/arcgate/pkg/mailer"
	"github.com/arclabs/arcgate/pkg/ratelimit"
	"github.com/arclabs/arcgate/pkg/store"
	"github.com/arclabs/arcgate/pkg/token"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway, auth API, and admin API",
	Long: `Start all arcgate planes: the public edge gateway, the loopback
authentication API, and (when server.admin_port is set) the admin API.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// plane is a named server with a Start/Stop lifecycle.
type plane struct {
	name string
	srv  interface {
		Start(ctx context.Context) error
		Stop() error
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Shared store.
	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Store stop error")
		}
	}()

	// The signing secret lives in the database; created on first boot,
	// preserved afterwards.
	initialSecret, err := token.GenerateSecret()
	if err != nil {
		return fmt.Errorf("generating initial secret: %w", err)
	}

	if err := st.InitSystemConfig(ctx, initialSecret); err != nil {
		return fmt.Errorf("initializing system config: %w", err)
	}

	applyStoredTTLs(ctx, st, cfg)

	secrets := token.NewSecretProvider(log, st)
	tokens := token.NewService(log, st, secrets, cfg.JWT)

	// Baseline rate limit rules, preserving admin edits.
	if err := st.SeedRateLimitRules(ctx, ratelimit.Baseline()); err != nil {
		return fmt.Errorf("seeding rate limit rules: %w", err)
	}

	rules := ratelimit.NewRules(log, st)
	if err := rules.Reload(ctx); err != nil {
		return fmt.Errorf("loading rate limit rules: %w", err)
	}

	routes := gateway.NewRouteCache(log, st, cfg.Routing,
		fmt.Sprintf("127.0.0.1:%d", cfg.Server.APIPort))

	sender := mailer.NewSender(log, st)
	captchaSvc := captcha.NewService(log, st)

	sweeper := cleanup.NewScheduler(log, st, cleanup.DefaultInterval)
	sweeper.Start(ctx)

	defer sweeper.Stop()

	planes := []plane{
		{"authapi", authapi.NewServer(
			log, cfg, st, tokens, sender, captchaSvc, rules,
		)},
		{"gateway", gateway.NewServer(log, cfg, st, tokens, routes)},
	}

	if cfg.Server.AdminPort > 0 {
		planes = append(planes, plane{"adminapi", adminapi.NewServer(
			log, cfg, st, tokens, secrets, routes, rules,
		)})
	}

	var started []plane

	for _, p := range planes {
		if err := p.srv.Start(ctx); err != nil {
			stopPlanes(started)

			return fmt.Errorf("starting %s: %w", p.name, err)
		}

		started = append(started, p)
	}

	log.Info("All planes started")

	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down")
	cancel()

	stopPlanes(started)

	return nil
}

// applyStoredTTLs lets admin-edited token lifetimes from the database
// override the file config on boot.
func applyStoredTTLs(ctx context.Context, st store.Store, cfg *config.Config) {
	row, err := st.GetSystemConfig(ctx)
	if err != nil {
		log.WithError(err).Warn("Could not read stored jwt ttls")

		return
	}

	if row.AccessTTLSecs > 0 {
		cfg.JWT.AccessTokenTTL = time.Duration(row.AccessTTLSecs) * time.Second
	}

	if row.RefreshTTLSecs > 0 {
		cfg.JWT.RefreshTokenTTL = time.Duration(row.RefreshTTLSecs) * time.Second
	}

	if row.AutoRefreshSecs > 0 {
		cfg.JWT.AutoRefreshThreshold = time.Duration(row.AutoRefreshSecs) * time.Second
	}
}

// stopPlanes drains all listeners concurrently; each plane has its own
// shutdown timeout.
func stopPlanes(started []plane) {
	var g errgroup.Group

	for _, p := range started {
		g.Go(func() error {
			if err := p.srv.Stop(); err != nil {
				return fmt.Errorf("stopping %s: %w", p.name, err)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Warn("Server stop error")
	}
}
