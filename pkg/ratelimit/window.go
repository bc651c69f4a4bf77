// Package ratelimit provides the two limiter flavors used by the gateway:
// a sliding-window limiter driven by database rules (per ip/email/user),
// and a coarse token-bucket tier limiter for the admin plane.
package ratelimit

import (
	"sync"
	"time"
)

const windowCleanupInterval = time.Minute

// Window is a sliding-window limiter over per-key timestamp lists. At most
// max requests are admitted per window; the request after that is rejected
// until the oldest timestamp leaves the window.
type Window struct {
	mu          sync.Mutex
	entries     map[string][]time.Time
	max         int
	window      time.Duration
	lastCleanup time.Time

	// now is the clock source; NewWindow sets it to time.Now.
	now func() time.Time
}

// NewWindow creates a sliding-window limiter.
func NewWindow(max int, window time.Duration) *Window {
	return &Window{
		entries: make(map[string][]time.Time, 64),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// Allow records and admits the call unless the key already has max
// timestamps inside the window.
func (w *Window) Allow(key string) bool {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.maybeCleanup(now)

	kept := w.entries[key][:0]

	for _, t := range w.entries[key] {
		if now.Sub(t) < w.window {
			kept = append(kept, t)
		}
	}

	if len(kept) >= w.max {
		w.entries[key] = kept

		return false
	}

	w.entries[key] = append(kept, now)

	return true
}

// maybeCleanup drops keys whose every timestamp has left the window.
// Called with the mutex held.
func (w *Window) maybeCleanup(now time.Time) {
	if now.Sub(w.lastCleanup) < windowCleanupInterval {
		return
	}

	w.lastCleanup = now

	for key, timestamps := range w.entries {
		live := false

		for _, t := range timestamps {
			if now.Sub(t) < w.window {
				live = true
				break
			}
		}

		if !live {
			delete(w.entries, key)
		}
	}
}
