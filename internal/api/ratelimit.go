package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/duckmesh/querygate/internal/auth"
	"github.com/duckmesh/querygate/internal/config"
)

const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type clientLimiters struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

func newClientLimiters(cfg config.RateLimitConfig, now func() time.Time) *clientLimiters {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiters{
		limit:     rate.Limit(cfg.RequestsPerSecond),
		burst:     burst,
		now:       now,
		clients:   map[string]*clientLimiter{},
		lastSweep: now(),
	}
}

// get returns the limiter for client and drops limiters idle for longer than
// limiterIdleTTL.
func (c *clientLimiters) get(client string) *rate.Limiter {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastSweep) > limiterIdleTTL {
		for key, entry := range c.clients {
			if now.Sub(entry.lastSeen) > limiterIdleTTL {
				delete(c.clients, key)
			}
		}
		c.lastSweep = now
	}
	entry, ok := c.clients[client]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[client] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// RateLimiter enforces a token bucket per authenticated client, or per remote
// IP when the request carries no identity.
func RateLimiter(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	return rateLimiter(cfg, time.Now)
}

func rateLimiter(cfg config.RateLimitConfig, now func() time.Time) func(http.Handler) http.Handler {
	limiters := newClientLimiters(cfg, now)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := limiters.get(rateLimitKey(r))
			reservation := limiter.ReserveN(now(), 1)
			if !reservation.OK() {
				writeRateLimited(w, r, 0)
				return
			}
			if delay := reservation.DelayFrom(now()); delay > 0 {
				reservation.CancelAt(now())
				writeRateLimited(w, r, int(delay.Seconds())+1)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiters.burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.TokensAt(now()))))
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.ClientID != "" {
		return "client:" + identity.ClientID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	if retryAfterSecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	}
	writeError(r.Context(), w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", true, map[string]any{"retry_after_seconds": retryAfterSecs})
}
