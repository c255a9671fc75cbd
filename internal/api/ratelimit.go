package api

import (
	"net"
	"net/http"
	"time"

	"github.com/daimoniac/docshield/internal/observability"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	maxTrackedClients = 10000
	clientIdleTimeout = 10 * time.Minute
)

// ipRateLimiter hands out one token bucket per client IP. Idle clients are
// evicted after clientIdleTimeout.
type ipRateLimiter struct {
	limit   rate.Limit
	burst   int
	buckets *expirable.LRU[string, *rate.Limiter]
}

func newIPRateLimiter(rps float64, burst int) *ipRateLimiter {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = int(rps * 2)
	}
	return &ipRateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: expirable.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, clientIdleTimeout),
	}
}

// allow reports whether a request from ip may proceed
func (l *ipRateLimiter) allow(ip string) bool {
	limiter, ok := l.buckets.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
	}
	// re-adding refreshes the idle timeout
	l.buckets.Add(ip, limiter)
	return limiter.Allow()
}

// rateLimitMiddleware enforces the per-IP request rate. This is transport
// throttling; repeated security violations are limited by the detector.
func (s *APIServer) rateLimitMiddleware(next http.Handler) http.Handler {
	throttled := observability.GetMetrics().APIRequestsThrottled
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiter.allow(ip) {
			throttled.Inc()
			s.logger.Warn("request throttled", "source", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			s.respondError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the peer address of the request without its port
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
