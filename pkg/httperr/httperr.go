// Package httperr defines the typed error taxonomy shared by the gateway,
// auth, and admin planes, and the single conversion layer that renders a
// typed error as the JSON error envelope.
package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is a typed application error carrying a stable code string and the
// HTTP status it maps to.
type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Well-known errors. Handlers return these (or wrap them); Write maps
// anything else to INTERNAL_ERROR.
var (
	ErrInvalidEmail       = &Error{Code: "INVALID_EMAIL", Status: http.StatusBadRequest, Message: "Invalid email format"}
	ErrInvalidCode        = &Error{Code: "INVALID_CODE", Status: http.StatusBadRequest, Message: "Invalid verification code"}
	ErrWeakPassword       = &Error{Code: "WEAK_PASSWORD", Status: http.StatusBadRequest, Message: "Password does not meet requirements"}
	ErrInvalidCaptcha     = &Error{Code: "INVALID_CAPTCHA", Status: http.StatusBadRequest, Message: "Invalid captcha"}
	ErrReservedHeader     = &Error{Code: "RESERVED_HEADER", Status: http.StatusBadRequest, Message: "Request carries a server-controlled header"}
	ErrInvalidCredentials = &Error{Code: "INVALID_CREDENTIALS", Status: http.StatusUnauthorized, Message: "Invalid credentials"}
	ErrInvalidToken       = &Error{Code: "INVALID_TOKEN", Status: http.StatusUnauthorized, Message: "Invalid token"}
	ErrTokenExpired       = &Error{Code: "TOKEN_EXPIRED", Status: http.StatusUnauthorized, Message: "Token expired"}
	ErrTokenRevoked       = &Error{Code: "TOKEN_REVOKED", Status: http.StatusUnauthorized, Message: "Token revoked"}
	ErrEmailNotVerified   = &Error{Code: "EMAIL_NOT_VERIFIED", Status: http.StatusForbidden, Message: "Email not verified"}
	ErrForbidden          = &Error{Code: "FORBIDDEN", Status: http.StatusForbidden, Message: "Access forbidden"}
	ErrNotFound           = &Error{Code: "NOT_FOUND", Status: http.StatusNotFound, Message: "Resource not found"}
	ErrEmailExists        = &Error{Code: "EMAIL_EXISTS", Status: http.StatusConflict, Message: "Email already exists"}
	ErrRateLimited        = &Error{Code: "RATE_LIMITED", Status: http.StatusTooManyRequests, Message: "Rate limit exceeded"}
	ErrInternal           = &Error{Code: "INTERNAL_ERROR", Status: http.StatusInternalServerError, Message: "Internal server error"}
	ErrBadGateway         = &Error{Code: "BAD_GATEWAY", Status: http.StatusBadGateway, Message: "Upstream unreachable"}
)

// InvalidRequest builds a schema-violation error with a specific message.
func InvalidRequest(msg string) *Error {
	return &Error{Code: "INVALID_REQUEST", Status: http.StatusBadRequest, Message: msg}
}

// envelope is the wire form of every error response.
type envelope struct {
	Error   body    `json:"error"`
	Request *string `json:"request_id"`
}

type body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Write renders err as the standard JSON envelope. Unrecognized errors are
// masked as INTERNAL_ERROR so internals never leak to clients.
func Write(w http.ResponseWriter, requestID string, err error) {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal
	}

	var reqID *string
	if requestID != "" {
		reqID = &requestID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status)

	_ = json.NewEncoder(w).Encode(envelope{
		Error:   body{Code: appErr.Code, Message: appErr.Message},
		Request: reqID,
	})
}
