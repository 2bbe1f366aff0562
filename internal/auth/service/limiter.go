package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters for authentication
// attempts.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of attempts allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// StrictLimit allows 5 attempts per minute per key, all available as a
// burst. It suits codes and refresh tokens, which are presented rarely.
var StrictLimit = RateLimitConfig{
	RequestsPerWindow: 5,
	Window:            time.Minute,
	Burst:             5,
}

// Enabled reports whether the config describes an actual limit.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerWindow > 0 && c.Window > 0
}

type throttleKeyCtx struct{}

// WithThrottleKey tags ctx with the identity of the party presenting a
// credential, such as the remote address or the authenticated client.
// Authentication attempts are throttled per kind and per throttle key;
// attempts without a key are never throttled.
func WithThrottleKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, throttleKeyCtx{}, key)
}

// ThrottleKeyFromContext returns the key set by WithThrottleKey.
func ThrottleKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(throttleKeyCtx{}).(string)
	return key, ok && key != ""
}

// cleanupInterval bounds how often idle limiters are swept.
const cleanupInterval = 5 * time.Minute

// rateLimiter manages one token bucket per key. Buckets are driven by the
// manager clock so tests can step time.
type rateLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

func newRateLimiter(cfg RateLimitConfig, now time.Time) *rateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerWindow
	}
	return &rateLimiter{
		rate:        rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		burst:       burst,
		lastCleanup: now,
	}
}

// allow consumes one token for key at now.
func (rl *rateLimiter) allow(key string, now time.Time) bool {
	return rl.getLimiter(key, now).AllowN(now, 1)
}

func (rl *rateLimiter) getLimiter(key string, now time.Time) *rate.Limiter {
	if limiter, ok := rl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	// Sweep before storing so the new bucket is not mistaken for an idle one.
	rl.maybeCleanup(now)

	limiter := rate.NewLimiter(rl.rate, rl.burst)
	actual, _ := rl.limiters.LoadOrStore(key, limiter)
	return actual.(*rate.Limiter)
}

// maybeCleanup drops limiters whose bucket has refilled completely, since
// those keys have been idle.
func (rl *rateLimiter) maybeCleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastCleanup) < cleanupInterval {
		return
	}
	rl.lastCleanup = now

	rl.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).TokensAt(now) >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

func (rl *rateLimiter) len() int {
	n := 0
	rl.limiters.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}
