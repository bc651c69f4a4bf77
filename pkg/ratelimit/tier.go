package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	tierCleanupInterval = 5 * time.Minute
	tierEntryTTL        = 10 * time.Minute
)

type tierEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TierLimiter is a coarse per-IP token-bucket limiter for the admin plane.
type TierLimiter struct {
	mu       sync.Mutex
	limiters map[string]*tierEntry
	rps      rate.Limit
	burst    int
	done     chan struct{}
}

// NewTierLimiter creates a per-IP limiter allowing requestsPerMinute.
func NewTierLimiter(requestsPerMinute int) *TierLimiter {
	tl := &TierLimiter{
		limiters: make(map[string]*tierEntry, 64),
		rps:      rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    requestsPerMinute,
		done:     make(chan struct{}),
	}

	go tl.cleanup()

	return tl
}

// Allow admits or rejects a call for the given IP.
func (tl *TierLimiter) Allow(ip string) bool {
	tl.mu.Lock()

	entry, exists := tl.limiters[ip]
	if !exists {
		entry = &tierEntry{limiter: rate.NewLimiter(tl.rps, tl.burst)}
		tl.limiters[ip] = entry
	}

	entry.lastSeen = time.Now()
	tl.mu.Unlock()

	return entry.limiter.Allow()
}

// Close stops the background cleanup goroutine.
func (tl *TierLimiter) Close() {
	close(tl.done)
}

func (tl *TierLimiter) cleanup() {
	ticker := time.NewTicker(tierCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tl.mu.Lock()

			for ip, entry := range tl.limiters {
				if time.Since(entry.lastSeen) > tierEntryTTL {
					delete(tl.limiters, ip)
				}
			}

			tl.mu.Unlock()
		case <-tl.done:
			return
		}
	}
}

// ClientIP resolves the caller's address. Forwarding headers are honored
// only when the direct peer is a trusted proxy; otherwise a client could
// spoof its own rate-limit key.
func ClientIP(r *http.Request, trustedProxies []string) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	peer, err := netip.ParseAddr(host)
	if err != nil {
		return host
	}

	if !isTrusted(peer, trustedProxies) {
		return host
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-Ip")); realIP != "" {
		return realIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	return host
}

func isTrusted(addr netip.Addr, trustedProxies []string) bool {
	for _, trusted := range trustedProxies {
		if strings.Contains(trusted, "/") {
			prefix, err := netip.ParsePrefix(trusted)
			if err != nil {
				continue
			}

			if prefix.Contains(addr) {
				return true
			}

			continue
		}

		if single, err := netip.ParseAddr(trusted); err == nil &&
			single == addr {
			return true
		}
	}

	return false
}
