package middleware

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/services/ratelimit"
	"github.com/nandth/model-router-ai/utils"
)

// RateLimitChecker defines the interface for rate limit checking
type RateLimitChecker interface {
	CheckLimit(clientIP string, scope ratelimit.Scope) ratelimit.RateLimitResult
}

// AdmissionMiddleware rejects callers over their per-scope request rate
// before any routing work is done
type AdmissionMiddleware struct {
	limiter RateLimitChecker
	logger  *zap.Logger
}

// NewAdmissionMiddleware creates a new AdmissionMiddleware
func NewAdmissionMiddleware(limiter RateLimitChecker, logger *zap.Logger) *AdmissionMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionMiddleware{
		limiter: limiter,
		logger:  logger,
	}
}

// Limit returns a middleware admitting requests against scope's limit.
// Rejected requests get 429 with Retry-After.
func (m *AdmissionMiddleware) Limit(scope ratelimit.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := GetClientIPFromContext(ctx)
			if ip == "" {
				ip = clientIP(r)
			}

			result := m.limiter.CheckLimit(ip, scope)
			if result.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			}

			if !result.Allowed {
				m.logger.Warn("rate limit exceeded",
					zap.String("request_id", GetRequestIDFromContext(ctx)),
					zap.String("client_ip", ip),
					zap.String("scope", string(scope)),
					zap.Int("limit", result.Limit))

				_ = utils.WriteTooManyRequests(w, result.RetryAfterSeconds(), map[string]interface{}{
					"scope":               string(scope),
					"limit":               result.Limit,
					"retry_after_seconds": result.RetryAfterSeconds(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
