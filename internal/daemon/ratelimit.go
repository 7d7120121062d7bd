package daemon

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	limiterCacheSize = 10000
	limiterIdleTTL   = 10 * time.Minute
)

// RateLimiter is a token bucket per user. Buckets of users that went quiet
// expire and start full again. A nil RateLimiter allows everything.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows perMinute messages per user with bursts of burst.
// It returns nil when perMinute is not positive.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](limiterCacheSize, nil, limiterIdleTTL),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
	}
}

// Allow reports whether userID may send a message now.
func (r *RateLimiter) Allow(userID string) bool {
	return r.AllowAt(userID, time.Now())
}

// AllowAt reports whether userID may send a message at now.
func (r *RateLimiter) AllowAt(userID string, now time.Time) bool {
	if r == nil {
		return true
	}
	return r.limiter(userID).AllowN(now, 1)
}

func (r *RateLimiter) limiter(userID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters.Get(userID); ok {
		return l
	}
	l := rate.NewLimiter(r.limit, r.burst)
	r.limiters.Add(userID, l)
	return l
}

// Len returns how many users currently have a bucket.
func (r *RateLimiter) Len() int {
	if r == nil {
		return 0
	}
	return r.limiters.Len()
}
