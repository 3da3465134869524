package restapi

import (
	"net/http"
	"strings"
)

// securityHeaders adds the same baseline hardening headers the teacher
// applies to every response, plus agency-configurable CORS: allowOrigin is
// "*" (any origin) or a comma-separated allowlist whose matching entry is
// echoed back.
func securityHeaders(allowOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")

			if origin := r.Header.Get("Origin"); origin != "" {
				allowed := ""
				if allowOrigin == "*" {
					allowed = "*"
				} else {
					for _, o := range strings.Split(allowOrigin, ",") {
						if strings.TrimSpace(o) == origin {
							allowed = origin
						}
					}
				}
				if allowed != "" {
					w.Header().Set("Access-Control-Allow-Origin", allowed)
					w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithSecurityHeaders exposes securityHeaders for callers assembling the
// full middleware chain outside this package.
func (api *RestAPI) WithSecurityHeaders(next http.Handler) http.Handler {
	return securityHeaders(api.Config.AllowOrigin)(next)
}
