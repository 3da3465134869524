package restapi

import (
	"net/http"

	"golang.org/x/time/rate"
)

// rateLimited wraps handler with limiter, rejecting over-limit requests
// with 429 rather than queuing them. The management endpoints it guards
// share one limiter, which NewRestAPI sets to one request per second.
func rateLimited(limiter *rate.Limiter, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		handler(w, r)
	})
}
