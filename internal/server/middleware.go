package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/metrics"
)

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// apiKeys holds the accepted X-API-Key values. An empty set disables
// authentication and, with it, per-key rate limiting.
type apiKeys []string

func parseAPIKeys(raw string) apiKeys {
	var keys apiKeys
	for _, key := range strings.Split(raw, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// match returns the accepted key equal to the presented one, using a
// constant-time comparison per key.
func (k apiKeys) match(presented string) (string, bool) {
	for _, key := range k {
		if len(key) == len(presented) &&
			subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
			return key, true
		}
	}
	return "", false
}

type contextKey string

const callerKeyContext contextKey = "caller-key"

func contextWithCallerKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, callerKeyContext, key)
}

func callerKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(callerKeyContext).(string)
	return key, ok && key != ""
}

// requireAuth enforces X-API-Key authentication when keys are configured.
// The matched key is stored on the request context as the caller identity
// for rate limiting.
func requireAuth(next http.Handler, keys apiKeys) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(keys) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		presented := r.Header.Get("X-API-Key")
		key, ok := keys.match(presented)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing API key")
			return
		}

		ctx := contextWithCallerKey(r.Context(), key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitMiddleware applies the per-caller fixed-window limiter. Requests
// without a caller identity (auth disabled) pass through uncounted.
func rateLimitMiddleware(next http.Handler, limiter *engine.RateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerKeyFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.Allow(caller) {
			metrics.RateLimitedTotal.Inc()
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(limiter.RetryAfter().Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// globalLimitMiddleware applies an optional server-wide token bucket in
// front of everything else. A nil limiter disables it.
func globalLimitMiddleware(next http.Handler, limiter *rate.Limiter) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "server is overloaded, retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}
