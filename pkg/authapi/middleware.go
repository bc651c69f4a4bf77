package authapi

import (
	"net/http"
	"time"

	"github.com/arclabs/arcgate/pkg/httperr"
	"github.com/arclabs/arcgate/pkg/ratelimit"
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("request_id", requestID(r)).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// clientIP resolves the original caller. The gateway is a trusted proxy on
// loopback and forwards the real address.
func (s *server) clientIP(r *http.Request) string {
	return ratelimit.ClientIP(r, s.cfg.Gateway.TrustedProxies)
}

// ipRateLimit enforces the ip-dimension rules for every auth endpoint.
// Email- and user-dimension rules run inside the handlers once the request
// body has been decoded.
func (s *server) ipRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := s.clientIP(r)

		if !s.rules.Allow(r.Method, r.URL.Path, ratelimit.KeyByIP, ip) {
			httperr.Write(w, requestID(r), httperr.ErrRateLimited)

			return
		}

		next.ServeHTTP(w, r)
	})
}
