// HTTP 速率限制中间件：按客户端 IP 维度的令牌桶限流（golang.org/x/time/rate）。
//   - 响应头: X-RateLimit-Limit, X-RateLimit-Remaining
//   - 超限时返回 429 Too Many Requests + Retry-After 头
//   - 后台定期清理空闲客户端，防止内存泄漏
package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// RateLimiter defines the interface for rate limiting implementations.
type RateLimiter interface {
	// Allow reports whether a request with the given key may proceed.
	Allow(key string) (bool, RateLimitInfo)
}

// RateLimitInfo contains current rate limit state for a given key.
type RateLimitInfo struct {
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// KeyFunc extracts the rate limit key from a request. Defaults to the
	// client IP.
	KeyFunc         func(r *http.Request) string
	SkipPaths       []string
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns a sensible default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
		KeyFunc:           ClientIPKey,
		SkipPaths:         []string{"/healthz", "/readyz", "/metrics"},
		CleanupInterval:   5 * time.Minute,
	}
}

// ClientIPKey keys on the remote host. chi's RealIP middleware has already
// folded X-Forwarded-For / X-Real-IP into RemoteAddr.
func ClientIPKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one rate.Limiter per key.
type KeyedLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	clients map[string]*client
	idle    time.Duration
	stop    chan struct{}
	once    sync.Once
}

// NewKeyedLimiter creates a KeyedLimiter. A positive cleanupInterval starts
// a goroutine that drops keys idle for longer than the interval; call Stop to
// end it.
func NewKeyedLimiter(rps float64, burst int, cleanupInterval time.Duration) *KeyedLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	l := &KeyedLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*client),
		idle:    cleanupInterval,
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go l.cleanupLoop()
	}
	return l
}

// Allow implements RateLimiter.
func (l *KeyedLimiter) Allow(key string) (bool, RateLimitInfo) {
	now := time.Now()
	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	info := RateLimitInfo{Limit: l.burst}
	r := c.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		info.RetryAfter = delay
		return false, info
	}
	info.Remaining = int(c.limiter.TokensAt(now))
	return true, info
}

func (l *KeyedLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup(time.Now().Add(-l.idle))
		case <-l.stop:
			return
		}
	}
}

func (l *KeyedLimiter) cleanup(before time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.clients {
		if c.lastSeen.Before(before) {
			delete(l.clients, key)
		}
	}
}

// Stop ends the cleanup goroutine.
func (l *KeyedLimiter) Stop() { l.once.Do(func() { close(l.stop) }) }

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// RateLimitMiddleware enforces a RateLimiter on incoming requests.
type RateLimitMiddleware struct {
	limiter RateLimiter
	keyFunc func(*http.Request) string
	skip    map[string]bool
}

// NewRateLimitMiddleware creates the middleware. A nil limiter is built from
// config.
func NewRateLimitMiddleware(limiter RateLimiter, config RateLimitConfig) *RateLimitMiddleware {
	if limiter == nil {
		limiter = NewKeyedLimiter(config.RequestsPerSecond, config.BurstSize, config.CleanupInterval)
	}
	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientIPKey
	}
	skip := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = true
	}
	return &RateLimitMiddleware{limiter: limiter, keyFunc: keyFunc, skip: skip}
}

// Handler wraps next.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		allowed, info := m.limiter.Allow(m.keyFunc(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		if !allowed {
			retry := int(math.Ceil(info.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"code":    errors.ErrCodeTooManyRequests.String(),
				"message": errors.DefaultMessageForCode(errors.ErrCodeTooManyRequests),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

//Personal.AI order the ending
