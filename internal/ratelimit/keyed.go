// internal/ratelimit/keyed.go
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter is a per-key token bucket: maxAttempts attempts may be
// spent at once, and they refill evenly over window.
type KeyedLimiter struct {
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	limiters    map[string]*rate.Limiter
	now         func() time.Time
}

// NewKeyedLimiter creates a limiter allowing maxAttempts per window per key.
func NewKeyedLimiter(maxAttempts int, window time.Duration) *KeyedLimiter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &KeyedLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		limiters:    make(map[string]*rate.Limiter),
		now:         time.Now,
	}
}

func (kl *KeyedLimiter) limiter(key string) *rate.Limiter {
	l, ok := kl.limiters[key]
	if !ok {
		every := kl.window / time.Duration(kl.maxAttempts)
		l = rate.NewLimiter(rate.Every(every), kl.maxAttempts)
		kl.limiters[key] = l
	}
	return l
}

// Allow spends one attempt for key. When none is left it returns false
// and the whole seconds until the next attempt becomes available.
func (kl *KeyedLimiter) Allow(key string) (bool, int) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	now := kl.now()
	r := kl.limiter(key).ReserveN(now, 1)
	if !r.OK() {
		return false, int(kl.window.Seconds())
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, max(1, int(math.Ceil(delay.Seconds())))
}

// Info reports the limit state for key without spending an attempt.
func (kl *KeyedLimiter) Info(key string) RateLimitInfo {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	now := kl.now()
	tokens := kl.limiter(key).TokensAt(now)
	missing := float64(kl.maxAttempts) - tokens
	reset := now.Add(time.Duration(missing * float64(kl.window) / float64(kl.maxAttempts)))
	return RateLimitInfo{
		Limit:     kl.maxAttempts,
		Remaining: max(0, int(math.Floor(tokens))),
		Reset:     reset.Unix(),
	}
}

// Reset forgets key.
func (kl *KeyedLimiter) Reset(key string) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	delete(kl.limiters, key)
}
