package middleware

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Mule-Mart/Mule-Mart/internal/response"
	"github.com/Mule-Mart/Mule-Mart/pkg/logger"
	"github.com/Mule-Mart/Mule-Mart/prometheus"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the limiter map. Idle entries are pruned past it,
// then the least recently seen tenth is evicted if that was not enough.
const maxTrackedClients = 10000

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client IP
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*clientLimiter
	rate       rate.Limit
	burst      int
	idle       time.Duration
	maxClients int
	now        func() time.Time
}

// NewRateLimiter allows requestsPerSecond on average with bursts of burst per IP
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters:   make(map[string]*clientLimiter),
		rate:       rate.Limit(requestsPerSecond),
		burst:      burst,
		idle:       10 * time.Minute,
		maxClients: maxTrackedClients,
		now:        time.Now,
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= rl.maxClients {
			rl.prune(now)
			if len(rl.limiters) >= rl.maxClients {
				rl.evictOldest(len(rl.limiters) - rl.maxClients + 1 + rl.maxClients/10)
			}
		}
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// prune drops idle clients. Caller holds mu.
func (rl *RateLimiter) prune(now time.Time) {
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > rl.idle {
			delete(rl.limiters, key)
		}
	}
}

// evictOldest drops the n least recently seen clients. Caller holds mu.
func (rl *RateLimiter) evictOldest(n int) {
	keys := make([]string, 0, len(rl.limiters))
	for key := range rl.limiters {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return rl.limiters[keys[i]].lastSeen.Before(rl.limiters[keys[j]].lastSeen)
	})
	if n > len(keys) {
		n = len(keys)
	}
	for _, key := range keys[:n] {
		delete(rl.limiters, key)
	}
}

// Middleware rejects clients over their budget with 429
func (rl *RateLimiter) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ip := c.RealIP()
		if !rl.allow(ip) {
			logger.FromContext(c).Warn("Rate limit exceeded",
				zap.String("ip", ip),
				zap.String("path", c.Request().URL.Path))
			prometheus.RecordAuthError("rate_limited")
			c.Response().Header().Set("Retry-After", "1")
			return response.Error(c, http.StatusTooManyRequests, "Too many requests, please try again later", nil)
		}
		return next(c)
	}
}
