package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"resume-bullets/internal/shared/server/respond"
	"resume-bullets/internal/shared/telemetry"
)

const (
	defaultRateLimitGroup = "DEFAULT"
	// pruneEvery is how many Allow calls pass between sweeps of idle buckets.
	pruneEvery = 1024
)

// RateLimitRule is a token bucket: Rate tokens per second up to Burst.
type RateLimitRule struct {
	Rate  float64
	Burst int
}

func (r RateLimitRule) unlimited() bool {
	return r.Rate <= 0 || r.Burst <= 0
}

// RateLimitConfig maps route groups to rules. Groups without a rule are not limited.
type RateLimitConfig struct {
	Rules        map[string]RateLimitRule
	DefaultGroup string
	GroupFor     func(*gin.Context) string
	Limiter      *RateLimiter
}

// RateLimiter holds one bucket per principal and group. Buckets that have
// refilled completely are dropped, since a full bucket behaves like a new one.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
	now     func() time.Time
	calls   int
}

type rateBucket struct {
	tokens float64
	last   time.Time
	fullAt time.Time
	burst  float64
	refill float64
}

func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		buckets: make(map[string]*rateBucket),
		now:     now,
	}
}

// RateLimit throttles requests per caller. Callers are keyed by user ID, or by
// client IP when no identity is attached.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(nil)
	}
	if cfg.DefaultGroup == "" {
		cfg.DefaultGroup = defaultRateLimitGroup
	}
	return func(c *gin.Context) {
		group := cfg.DefaultGroup
		if cfg.GroupFor != nil {
			if g := strings.TrimSpace(cfg.GroupFor(c)); g != "" {
				group = g
			}
		}
		rule, ok := cfg.Rules[group]
		if !ok {
			c.Next()
			return
		}

		principal := strings.TrimSpace(UserIDFromContext(c))
		if principal == "" {
			principal = c.ClientIP()
		}
		allowed, wait := cfg.Limiter.Allow(principal+"|"+group, rule)
		if allowed {
			c.Next()
			return
		}

		waitMs := wait.Milliseconds()
		if waitMs <= 0 {
			waitMs = 1000
		}
		telemetry.Warn("request.rate_limited", map[string]any{
			"request_id":     RequestIDFromContext(c),
			"user_id":        principal,
			"group":          group,
			"path":           c.FullPath(),
			"retry_after_ms": waitMs,
		})
		c.Header("Retry-After", strconv.FormatInt((waitMs+999)/1000, 10))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "Too many requests", gin.H{
			"group":        group,
			"retryAfterMs": waitMs,
		})
	}
}

// Allow takes one token from key's bucket. When the bucket is empty it reports
// how long until the next token.
func (l *RateLimiter) Allow(key string, rule RateLimitRule) (bool, time.Duration) {
	if l == nil || rule.unlimited() {
		return true, 0
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%pruneEvery == 0 {
		l.pruneLocked(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &rateBucket{tokens: float64(rule.Burst), last: now}
		l.buckets[key] = b
	}
	b.burst = float64(rule.Burst)
	b.refill = rule.Rate
	return b.take(now)
}

func (b *rateBucket) take(now time.Time) (bool, time.Duration) {
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(b.burst, b.tokens+elapsed*b.refill)
		b.last = now
	}
	allowed := b.tokens >= 1
	if allowed {
		b.tokens--
	}
	b.fullAt = now.Add(time.Duration((b.burst - b.tokens) / b.refill * float64(time.Second)))
	if allowed {
		return true, 0
	}
	wait := (1 - b.tokens) / b.refill
	return false, time.Duration(math.Ceil(wait*1000)) * time.Millisecond
}

func (l *RateLimiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if !now.Before(b.fullAt) {
			delete(l.buckets, key)
		}
	}
}

func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
