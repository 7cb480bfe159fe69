package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/nkiryanov/labtrack/internal/handlers/render"
)

const TooManyRequestsType = "too_many_requests"

// LoginRateLimit limits requests per client IP within a minute window
func LoginRateLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			render.Error(w, TooManyRequestsType, "Too many login attempts, try again later", http.StatusTooManyRequests)
		}),
	)
}
