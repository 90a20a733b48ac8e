package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an IP's limiter is kept after its last request.
const limiterIdleTTL = 10 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiters hands out one token bucket per client IP.
type ipLimiters struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	every     rate.Limit
	burst     int
	lastSweep time.Time
}

func newIPLimiters(maxRequests int, window time.Duration) *ipLimiters {
	return &ipLimiters{
		limiters: make(map[string]*ipLimiter),
		every:    rate.Every(window / time.Duration(maxRequests)),
		burst:    maxRequests,
	}
}

// allow consumes one token for ip and reports whether the request may pass.
func (l *ipLimiters) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Sweep idle entries at most once per TTL instead of running a goroutine.
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, v := range l.limiters {
			if now.Sub(v.lastSeen) > limiterIdleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.every, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// RateLimit returns middleware that allows maxRequests per IP within the
// window, refilling continuously. Returns 429 when exceeded.
func RateLimit(maxRequests int, window time.Duration) echo.MiddlewareFunc {
	if maxRequests < 1 {
		maxRequests = 1
	}
	limiters := newIPLimiters(maxRequests, window)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiters.allow(c.RealIP(), time.Now()) {
				c.Response().Header().Set("Retry-After", "60")
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error":   "Too Many Requests",
					"message": "Rate limit exceeded. Please try again later.",
				})
			}
			return next(c)
		}
	}
}
