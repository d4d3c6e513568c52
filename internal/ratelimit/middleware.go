package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/zeus-ia/zeus/internal/model"
)

// KeyFunc derives the bucket key for a request. An empty key exempts it.
type KeyFunc func(r *http.Request) string

// RequestIDFunc reads the request ID so 429 bodies carry it in meta.
type RequestIDFunc func(r *http.Request) string

// retryAfterer is implemented by limiters that know their refill period.
type retryAfterer interface {
	RetryAfter() time.Duration
}

// Middleware enforces limiter per key. A nil limiter disables it and a
// failing limiter lets traffic through with a warning.
func Middleware(limiter Limiter, keyFunc KeyFunc, reqIDFunc RequestIDFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	retryAfter := "1"
	if ra, ok := limiter.(retryAfterer); ok {
		retryAfter = strconv.Itoa(max(1, int(math.Ceil(ra.RetryAfter().Seconds()))))
	}

	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok, err := limiter.Allow(r.Context(), key)
			switch {
			case err != nil:
				logger.Warn("ratelimit: limiter failed, allowing request", "key", key, "error", err)
			case !ok:
				var requestID string
				if reqIDFunc != nil {
					requestID = reqIDFunc(r)
				}
				w.Header().Set("Retry-After", retryAfter)
				writeTooManyRequests(w, requestID)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeTooManyRequests(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: model.ErrCodeRateLimited, Message: "too many requests"},
		Meta:  model.ResponseMeta{RequestID: requestID, Timestamp: time.Now().UTC()},
	})
}

// IPKeyFunc keys by the peer address. X-Forwarded-For is ignored since any
// client can forge it.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
