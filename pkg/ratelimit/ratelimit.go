// Package ratelimit provides per-tool admission control. The dispatcher
// consumes the Checker contract and never retries a denied call; this
// package also ships the default token-bucket implementation built on
// golang.org/x/time/rate.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	cleanupInterval = 5 * time.Minute
	staleThreshold  = 10 * time.Minute
)

// Decision is the admission result for a single tools/call request
type Decision struct {
	Allowed           bool
	RemainingRequests int
	// RetryAfter is the suggested wait in whole seconds before retrying;
	// zero means no hint is available.
	RetryAfter int
}

// Checker decides whether a call to a named tool may proceed. Implementations
// must be safe for concurrent use.
type Checker interface {
	Check(toolName string) Decision
}

// Unlimited is a Checker that admits everything, for deployments with rate
// limiting disabled.
type Unlimited struct{}

// Check always allows
func (Unlimited) Check(string) Decision {
	return Decision{Allowed: true, RemainingRequests: math.MaxInt32}
}

// bucket holds a limiter and last-seen time for a single tool name
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is the default Checker: one token bucket per tool name, refilled
// at maxRequests per window with a burst of maxRequests. Stale buckets are
// cleaned up inline during Check calls.
type Limiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	limit       rate.Limit
	burst       int
	lastCleanup time.Time
}

// NewLimiter creates a limiter admitting at most maxRequests per window for
// each tool name.
func NewLimiter(maxRequests int, window time.Duration) *Limiter {
	if maxRequests < 1 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	return &Limiter{
		buckets:     make(map[string]*bucket),
		limit:       rate.Limit(float64(maxRequests) / window.Seconds()),
		burst:       maxRequests,
		lastCleanup: time.Now(),
	}
}

// Check consumes one token for the tool if available
func (l *Limiter) Check(toolName string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastCleanup) > cleanupInterval {
		for name, b := range l.buckets {
			if now.Sub(b.lastSeen) > staleThreshold {
				delete(l.buckets, name)
			}
		}
		l.lastCleanup = now
	}

	b, ok := l.buckets[toolName]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[toolName] = b
	}
	b.lastSeen = now

	res := b.limiter.Reserve()
	delay := res.Delay()
	if delay > 0 {
		// Not admissible right now; hand the tokens back and report when a
		// retry would succeed.
		res.Cancel()
		return Decision{
			Allowed:    false,
			RetryAfter: int(math.Ceil(delay.Seconds())),
		}
	}

	return Decision{
		Allowed:           true,
		RemainingRequests: int(b.limiter.Tokens()),
	}
}
