package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/kohaku-project/kohaku/internal/apperr"
)

// RateLimit limits requests per client IP using a sliding window.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByHeader limits requests keyed on a header value. The login
// endpoint uses it with X-API-Key so a brute-forced credential is throttled
// independently of the source address.
func RateLimitByHeader(headerName string, requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return r.Header.Get(headerName), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// limitExceeded renders the throttle rejection in the error envelope instead
// of httprate's plain-text default.
func limitExceeded(w http.ResponseWriter, r *http.Request) {
	status, body := apperr.Response(apperr.New(apperr.TooManyRequests, "rate limit exceeded, slow down"))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
