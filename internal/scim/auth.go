package scim

import (
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// withAuth wraps a handler with SCIM bearer token authentication. The token
// is verified against the configured bcrypt hash; requests are rate limited
// per client address to blunt brute-force attempts.
func (h *Handler) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "authorization header must use Bearer scheme")
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			writeError(w, http.StatusUnauthorized, "bearer token is empty")
			return
		}

		if !h.limiter.allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		if h.tokenHash == "" {
			writeError(w, http.StatusUnauthorized, "SCIM token not configured")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(h.tokenHash), []byte(token)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		// Validate Content-Type on requests with a body
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/scim+json") && !strings.HasPrefix(ct, "application/json") {
				writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/scim+json or application/json")
				return
			}
		}

		next.ServeHTTP(w, r)
	}
}

// clientKey is the rate-limiter key for a request: the client IP, without
// the ephemeral port.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
