package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-API-Key, " + RequestIDHeader
)

// originMatcher holds the configured origins split into exact entries and
// "https://*.example.com" style suffix patterns.
type originMatcher struct {
	any      bool
	exact    map[string]bool
	suffixes []originSuffix
}

type originSuffix struct {
	scheme string
	suffix string // ".example.com"
}

func newOriginMatcher(allowed []string) originMatcher {
	m := originMatcher{any: len(allowed) == 0, exact: make(map[string]bool, len(allowed))}
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		switch {
		case o == "*":
			m.any = true
		case strings.Contains(o, "://*."):
			scheme, host, _ := strings.Cut(o, "://*")
			m.suffixes = append(m.suffixes, originSuffix{scheme: scheme + "://", suffix: host})
		case o != "":
			m.exact[o] = true
		}
	}
	return m
}

func (m originMatcher) allows(origin string) bool {
	if m.any {
		return true
	}
	origin = strings.ToLower(origin)
	if m.exact[origin] {
		return true
	}
	for _, s := range m.suffixes {
		if strings.HasPrefix(origin, s.scheme) && strings.HasSuffix(origin, s.suffix) {
			return true
		}
	}
	return false
}

// CORS returns middleware that sets CORS headers for the allowed origins.
// If allowedOrigins is empty, all origins are allowed. Entries may use a
// leading wildcard label ("https://*.example.com").
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	matcher := newOriginMatcher(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				w.Header().Add("Vary", "Origin")
				if matcher.allows(origin) {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", corsMethods)
					h.Set("Access-Control-Allow-Headers", corsHeaders)
					h.Set("Access-Control-Expose-Headers", RequestIDHeader+", Retry-After")
					h.Set("Access-Control-Max-Age", "86400")
				}
			}
			// Preflight never reaches auth or the rate limiter.
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
