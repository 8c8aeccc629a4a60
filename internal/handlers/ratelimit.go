package handlers

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/shopaway/shopaway/internal/observability"
)

const defaultLimiterCacheSize = 10_000

// IPRateLimiter hands out one token bucket per client IP. The least recently
// seen clients are evicted once the cache is full.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

func NewIPRateLimiter(rps float64, burst int) (*IPRateLimiter, error) {
	if rps <= 0 {
		return nil, fmt.Errorf("rate limit must be positive")
	}
	if burst <= 0 {
		burst = 1
	}
	limiters, err := lru.New[string, *rate.Limiter](defaultLimiterCacheSize)
	if err != nil {
		return nil, err
	}
	return &IPRateLimiter{
		limiters: limiters,
		limit:    rate.Limit(rps),
		burst:    burst,
	}, nil
}

func (l *IPRateLimiter) Allow(ip string) bool {
	return l.limiterFor(ip).Allow()
}

func (l *IPRateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok := l.limiters.Get(ip); ok {
		return limiter
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(ip, limiter)
	return limiter
}

// RateLimit rejects clients that exceed their per-IP budget. It is a no-op when
// no limiter is configured.
func (h *Handlers) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		ip := h.clientIP(r)
		if !h.limiter.Allow(ip) {
			meter := observability.MeterFromContext(r.Context())
			meter.Count("security.rate_limited", 1, sentry.WithAttributes(attribute.String("http.route", routeLabel(r))))
			h.loggerFromContext(r.Context()).Warn("rate limit exceeded", "remote_ip", ip)
			w.Header().Set("Retry-After", "1")
			h.writeDetail(w, r, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
