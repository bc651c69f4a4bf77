// Package cleanup runs the periodic sweep that deletes expired or consumed
// verification codes, refresh tokens, SRP sessions, and captchas. User rows
// are never touched.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arclabs/arcgate/pkg/store"
)

// DefaultInterval is the sweep cadence.
const DefaultInterval = time.Minute

// Scheduler periodically sweeps expired rows.
type Scheduler struct {
	log      logrus.FieldLogger
	store    store.Store
	interval time.Duration
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewScheduler creates a scheduler. A non-positive interval falls back to
// DefaultInterval.
func NewScheduler(
	log logrus.FieldLogger, st store.Store, interval time.Duration,
) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Scheduler{
		log:      log.WithField("component", "cleanup"),
		store:    st,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
}

// Sweep runs all deletes once. Each delete is idempotent; failures are
// logged and do not stop the remaining sweeps.
func (s *Scheduler) Sweep(ctx context.Context) {
	var total int64

	sweeps := []struct {
		name string
		fn   func(context.Context) (int64, error)
	}{
		{"verification_codes", s.store.DeleteExpiredVerificationCodes},
		{"refresh_tokens", s.store.DeleteExpiredRefreshTokens},
		{"srp_sessions", s.store.DeleteExpiredSrpSessions},
		{"captchas", s.store.DeleteExpiredCaptchas},
	}

	for _, sweep := range sweeps {
		n, err := sweep.fn(ctx)
		if err != nil {
			s.log.WithError(err).
				WithField("table", sweep.name).
				Warn("Cleanup sweep failed")

			continue
		}

		total += n
	}

	if total > 0 {
		s.log.WithField("count", total).Debug("Swept expired rows")
	}
}
