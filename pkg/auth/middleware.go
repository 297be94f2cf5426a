// Package auth provides the HTTP security middleware: a shared-secret
// bearer check and an Origin allow-list check, composed in front of the
// protocol endpoints. The pipe transport has no headers and carries no
// authentication.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/mdtools/mdtd/pkg/logging"
)

// Middleware wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain composes middleware so the first listed runs outermost
func Chain(h http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// Bearer returns middleware enforcing a single shared-secret bearer token.
// An empty token disables the check entirely.
func Bearer(token string, logger logging.Logger) Middleware {
	if logger == nil {
		logger = logging.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.Warn("rejected request with missing or invalid bearer token",
					logging.String("path", r.URL.Path),
					logging.String("method", r.Method))
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from an Authorization header value
func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

// OriginCheck returns middleware validating the Origin header against an
// allow-list. An absent Origin is always allowed so non-browser clients can
// connect; an empty allow-list disables the check.
func OriginCheck(allowed []string, logger logging.Logger) Middleware {
	if logger == nil {
		logger = logging.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 || originAllowed(allowed, origin) {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("rejected request from disallowed origin",
				logging.String("origin", origin),
				logging.String("path", r.URL.Path))
			http.Error(w, "Origin not allowed", http.StatusForbidden)
		})
	}
}

// originAllowed checks origin against the allow-list
func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" {
			return true
		}
		if matchOrigin(a, origin) {
			return true
		}
	}
	return false
}

// matchOrigin performs origin matching with support for localhost patterns
func matchOrigin(allowed, origin string) bool {
	if allowed == origin {
		return true
	}
	if isLocalhostPattern(allowed) && isLocalhostOrigin(origin) {
		return true
	}
	return false
}

func isLocalhostPattern(allowed string) bool {
	return allowed == "http://localhost" || allowed == "https://localhost" ||
		allowed == "http://127.0.0.1" || allowed == "https://127.0.0.1"
}

func isLocalhostOrigin(origin string) bool {
	patterns := []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	}
	for _, p := range patterns {
		if origin == p || strings.HasPrefix(origin, p+":") {
			return true
		}
	}
	return false
}
