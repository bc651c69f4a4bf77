package authapi

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/arclabs/arcgate/pkg/store"
)

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// requestID returns the gateway-assigned request id. The gateway rejects
// client-supplied X-Request-Id, so the value is trustworthy.
func requestID(r *http.Request) string {
	return r.Header.Get("X-Request-Id")
}

type okResponse struct {
	OK bool `json:"ok"`
}

type userResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
	}
}

// generateCode returns a random zero-padded 6-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}

	return fmt.Sprintf("%06d", n.Int64()), nil
}

// normalizeEmail lowercases and trims an address; matching is
// case-insensitive throughout.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const (
	maxEmailLength = 254
	minEmailLength = 5
	maxLocalLength = 64
	maxDomainLen   = 253
)

// isValidEmail applies structural validation: length bounds, one @, a sane
// local part, and a multi-label domain with a non-numeric TLD.
func isValidEmail(email string) bool {
	if len(email) > maxEmailLength || len(email) < minEmailLength {
		return false
	}

	local, domain, found := strings.Cut(email, "@")
	if !found || strings.Contains(domain, "@") {
		return false
	}

	if local == "" || len(local) > maxLocalLength {
		return false
	}

	return isValidLocalPart(local) && isValidDomain(domain)
}

func isValidLocalPart(local string) bool {
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") ||
		strings.Contains(local, "..") {
		return false
	}

	for _, c := range local {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.ContainsRune("!#$%&'*+/=?^_`{|}~.-", c):
		default:
			return false
		}
	}

	return true
}

func isValidDomain(domain string) bool {
	if domain == "" || len(domain) > maxDomainLen {
		return false
	}

	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") ||
		strings.HasPrefix(domain, "-") {
		return false
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}

	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}

		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}

		for _, c := range label {
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z',
				c >= '0' && c <= '9', c == '-':
			default:
				return false
			}
		}
	}

	// An all-numeric TLD is not a mail domain.
	tld := labels[len(labels)-1]
	allDigits := true

	for _, c := range tld {
		if c < '0' || c > '9' {
			allDigits = false
			break
		}
	}

	return !allDigits
}
