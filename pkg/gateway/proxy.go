package gateway

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/arclabs/arcgate/pkg/httperr"
	"github.com/arclabs/arcgate/pkg/ratelimit"
	"github.com/arclabs/arcgate/pkg/store"
	"github.com/arclabs/arcgate/pkg/token"
)

// Headers the proxy reads or writes. Client requests carrying X-User-Id or
// X-Request-Id are rejected before any upstream contact; client-sent
// X-Api-Client-Id and X-Api-Permissions are stripped before forwarding.
const (
	headerUserID         = "X-User-Id"
	headerRequestID      = "X-Request-Id"
	headerAPIClientID    = "X-Api-Client-Id"
	headerAPIPermissions = "X-Api-Permissions"
	headerNewAccessToken = "X-New-Access-Token"
	headerAPIKey         = "X-API-Key"
)

const apiKeyLength = 64

// requestIdentity is what authentication derived for a request.
type requestIdentity struct {
	userID        string
	apiClientID   string
	permissions   store.Permissions
	shouldRefresh bool
	email         string
}

// handler is the gateway request pipeline.
func (s *server) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()

		// Reserved headers are rejected before route resolution, so a
		// forged identity can never reach an upstream.
		if r.Header.Get(headerUserID) != "" ||
			r.Header.Get(headerRequestID) != "" {
			httperr.Write(w, reqID, httperr.ErrReservedHeader)

			return
		}

		route := s.routes.Match(r.URL.Path)
		if route == nil {
			httperr.Write(w, reqID, httperr.ErrNotFound)

			return
		}

		var identity requestIdentity

		if route.RequireAuth {
			id, err := s.authenticate(r)
			if err != nil {
				httperr.Write(w, reqID, err)

				return
			}

			identity = *id
		}

		s.forward(w, r, route, &identity, reqID)
	})
}

// authenticate classifies and validates the request credential. Bearer
// tokens take precedence over API keys; at most one class is honored.
func (s *server) authenticate(r *http.Request) (*requestIdentity, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		raw, found := strings.CutPrefix(auth, "Bearer ")
		if !found {
			return nil, httperr.ErrInvalidToken
		}

		claims, err := s.tokens.ValidateAccessToken(r.Context(), raw)
		if err != nil {
			return nil, err
		}

		return &requestIdentity{
			userID:        claims.Subject,
			email:         claims.Email,
			shouldRefresh: s.tokens.ShouldRefresh(claims),
		}, nil
	}

	if key := r.Header.Get(headerAPIKey); key != "" {
		if len(key) != apiKeyLength || !isHex(key) {
			return nil, httperr.ErrInvalidToken
		}

		apiKey, err := s.store.GetAPIKeyByHash(
			r.Context(), token.HashToken(key),
		)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, httperr.ErrInvalidToken
			}

			s.log.WithError(err).Error("API key lookup failed")

			return nil, httperr.ErrInternal
		}

		return &requestIdentity{
			apiClientID: apiKey.ID,
			permissions: apiKey.Permissions,
		}, nil
	}

	return nil, httperr.ErrInvalidToken
}

// forward proxies the request to the matched upstream.
func (s *server) forward(
	w http.ResponseWriter,
	r *http.Request,
	route *Route,
	identity *requestIdentity,
	reqID string,
) {
	target := &url.URL{Scheme: "http", Host: route.Upstream}

	clientIP := ratelimit.ClientIP(r, s.cfg.Gateway.TrustedProxies)

	proxy := &httputil.ReverseProxy{
		Transport:    s.transport,
		ErrorHandler: s.upstreamError(reqID),
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()

			pr.Out.Host = r.Host
			pr.Out.URL.Path = forwardPath(r.URL.Path, route.StripPrefix)
			pr.Out.URL.RawPath = ""

			pr.Out.Header.Set(headerRequestID, reqID)
			pr.Out.Header.Set("X-Real-Ip", clientIP)

			// Identity headers are server-controlled; whatever the client
			// sent must not survive.
			pr.Out.Header.Del(headerAPIClientID)
			pr.Out.Header.Del(headerAPIPermissions)

			if identity.userID != "" {
				pr.Out.Header.Set(headerUserID, identity.userID)
			}

			if identity.apiClientID != "" {
				pr.Out.Header.Set(headerAPIClientID, identity.apiClientID)
				pr.Out.Header.Set(headerAPIPermissions,
					strings.Join(identity.permissions, ","))
			}
		},
	}

	streaming := isUpgrade(r) || isSSE(r)

	timeout := s.cfg.Gateway.RequestTimeout
	if streaming {
		proxy.FlushInterval = -1
		timeout = s.cfg.Gateway.StreamTimeout
	}

	if timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		r = r.WithContext(ctx)
	}

	// Opportunistic refresh: best-effort, never blocks the response.
	if identity.shouldRefresh {
		fresh, err := s.tokens.IssueAccessToken(
			r.Context(), identity.userID, identity.email,
		)
		if err == nil {
			w.Header().Set(headerNewAccessToken, fresh)
		} else {
			s.log.WithError(err).
				WithField("user_id", identity.userID).
				Debug("Opportunistic refresh failed")
		}
	}

	proxy.ServeHTTP(w, r)
}

// upstreamError renders connection failures as the standard 502 envelope.
// Headers may already be on the wire for streamed responses; in that case
// the connection is simply severed.
func (s *server) upstreamError(reqID string) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		s.log.WithError(err).
			WithField("path", r.URL.Path).
			WithField("request_id", reqID).
			Warn("Upstream error")

		httperr.Write(w, reqID, httperr.ErrBadGateway)
	}
}

// forwardPath removes the route's strip prefix from the forwarded path.
func forwardPath(path, stripPrefix string) string {
	if stripPrefix == "" {
		return path
	}

	stripped, found := strings.CutPrefix(path, stripPrefix)
	if !found {
		return path
	}

	if !strings.HasPrefix(stripped, "/") {
		stripped = "/" + stripped
	}

	return stripped
}

// isUpgrade reports whether the request asks for a protocol upgrade
// (WebSocket). Authentication ran at the handshake; afterwards bytes flow
// opaquely in both directions until either peer disconnects.
func isUpgrade(r *http.Request) bool {
	if !strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") {
		return false
	}

	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// isSSE reports whether the client expects an event stream.
func isSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)

	return err == nil
}
