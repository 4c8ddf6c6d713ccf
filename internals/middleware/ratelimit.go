package middle

import (
	"net/http"
	"time"

	"cronguard/pkg/apperror"
	"cronguard/pkg/utils"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

// RateLimitByIP caps requests per client IP at the transport layer. This is
// coarse abuse protection; the real per-monitor check-in quota is enforced
// in the ingest service.
func RateLimitByIP(requestLimit int, window time.Duration) Middleware {
	return httprate.Limit(
		requestLimit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			utils.WriteError(w, http.StatusTooManyRequests, reqID, apperror.RateLimited, "too many requests from this address")
		}),
	)
}
