// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig configures a single rate-limiting middleware instance.
type RateLimitConfig struct {
	RequestLimit int
	WindowSize   time.Duration
	KeyFunc      func(r *http.Request) (string, error)
	Whitelist    []string
}

// RateLimit builds a sliding-window rate limiter via httprate. It is used
// both at the HTTP edge (ahead of tenant admission, where no tenant is
// known yet) and, via APIRateLimit, as the stack's global per-IP guard.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}

	limiter := httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(cfg.WindowSize.Seconds())))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestLimit))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","detail":"too many requests"}`))
		}),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if whitelisted(cfg.Whitelist, r.RemoteAddr) {
				next.ServeHTTP(w, r)
				return
			}
			limiter(next).ServeHTTP(w, r)
		})
	}
}

// whitelisted reports whether remoteAddr's IP matches any entry in
// whitelist, where an entry is either an exact IP or a CIDR range.
func whitelisted(whitelist []string, remoteAddr string) bool {
	if len(whitelist) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)

	for _, entry := range whitelist {
		if entry == host {
			return true
		}
		if ip == nil {
			continue
		}
		if _, cidr, err := net.ParseCIDR(entry); err == nil && cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// APIRateLimit returns the stack's global per-IP limiter, configured from
// config.HTTPConfig's edge-rate fields. Disabled returns a passthrough.
func APIRateLimit(enabled bool, rps int, burst int, whitelist []string) func(http.Handler) http.Handler {
	if !enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	if rps <= 0 {
		rps = 100
	}
	_ = burst // burst is not used: the window here only needs a per-minute ceiling.

	return RateLimit(RateLimitConfig{
		RequestLimit: rps * 60,
		WindowSize:   time.Minute,
		Whitelist:    whitelist,
	})
}
