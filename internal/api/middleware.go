package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platewatch/platewatch/pkg/apierr"
	"github.com/platewatch/platewatch/pkg/auth"
	"github.com/platewatch/platewatch/pkg/ratelimit"
)

// publicPaths are reachable without an API key.
var publicPaths = map[string]bool{
	"/":        true,
	"/health":  true,
	"/metrics": true,
}

// AuthMiddleware enforces the configured API key on everything except
// the public endpoints. A nil or disabled verifier passes everything
// through.
func AuthMiddleware(verifier *auth.KeyVerifier) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil || !verifier.Enabled() || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if err := verifier.Verify(auth.ExtractKey(r)); err != nil {
				ResponseError(w, apierr.NewUnauthorizedError(err.Error()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware applies the per-IP token bucket to the
// prediction endpoints. A nil limiter passes everything through.
func RateLimitMiddleware(limiter *ratelimit.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || !strings.HasPrefix(r.URL.Path, "/predict") {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(ratelimit.IPKeyFunc(r)) {
				ResponseError(w, apierr.NewRateLimitedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
