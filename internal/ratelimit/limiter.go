// Package ratelimit provides token bucket rate limiting for gallery API calls.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rescale/rescale-gallery/internal/constants"
)

// RateLimiter implements a token bucket rate limiter.
// It allows bursts up to maxTokens, then refills at refillRate tokens/second.
type RateLimiter struct {
	tokens       float64   // Current number of tokens available
	maxTokens    float64   // Maximum bucket capacity
	refillRate   float64   // Tokens added per second
	lastRefill   time.Time // Last time tokens were refilled
	lastWarnTime time.Time // Last time we warned about rate limiting
	mu           sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
//
// Parameters:
//   - tokensPerSecond: Rate at which tokens are added
//   - burstSize: Maximum tokens that can accumulate
func NewRateLimiter(tokensPerSecond float64, burstSize float64) *RateLimiter {
	return &RateLimiter{
		tokens:     burstSize, // Start with full bucket
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	startTime := time.Now()

	if rl.tryAcquire() {
		return nil
	}

	waitTime := rl.timeUntilNextToken()
	if waitTime > 2*time.Second {
		rl.mu.Lock()
		// Only warn every 10 seconds to avoid spam
		if time.Since(rl.lastWarnTime) > 10*time.Second {
			log.Warn().Float64("wait_s", waitTime.Seconds()).Msg("Rate limited: waiting for API capacity")
			rl.lastWarnTime = time.Now()
		}
		rl.mu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if rl.tryAcquire() {
			if actualWait := time.Since(startTime); actualWait > 5*time.Second {
				log.Info().Float64("wait_s", actualWait.Seconds()).Msg("Rate limit wait completed")
			}
			return nil
		}

		timer := time.NewTimer(rl.timeUntilNextToken())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire attempts to take one token without blocking.
func (rl *RateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(time.Now())

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

func (rl *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// timeUntilNextToken returns how long until at least one token is available.
func (rl *RateLimiter) timeUntilNextToken() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	tokensNeeded := 1.0 - rl.tokens
	if tokensNeeded <= 0 || rl.refillRate <= 0 {
		return time.Millisecond
	}

	return time.Duration(tokensNeeded / rl.refillRate * float64(time.Second))
}

// GetCurrentTokens returns the current number of tokens (for testing/debugging).
func (rl *RateLimiter) GetCurrentTokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(time.Now())
	return rl.tokens
}

// Scope groups endpoints that share one token bucket.
type Scope string

const (
	// ScopeListing covers listing and record batch fetches.
	ScopeListing Scope = "listing"

	// ScopeImage covers tier image fetches, the highest volume.
	ScopeImage Scope = "image"

	// ScopeMutation covers star/delete/album/geotag/face actions.
	ScopeMutation Scope = "mutation"
)

// Limiters holds one RateLimiter per scope.
type Limiters struct {
	byScope map[Scope]*RateLimiter
}

// NewLimiters creates the default per-scope limiters. Image fetches get
// four times the listing rate since a page fires one per box.
func NewLimiters() *Limiters {
	return &Limiters{
		byScope: map[Scope]*RateLimiter{
			ScopeListing:  NewRateLimiter(constants.APIRatePerSec, constants.APIBurstCapacity),
			ScopeImage:    NewRateLimiter(constants.APIRatePerSec*4, constants.APIBurstCapacity*2),
			ScopeMutation: NewRateLimiter(constants.APIRatePerSec/2, constants.APIBurstCapacity/2),
		},
	}
}

// Get returns the limiter for scope, falling back to the listing scope.
func (l *Limiters) Get(scope Scope) *RateLimiter {
	if rl, ok := l.byScope[scope]; ok {
		return rl
	}
	return l.byScope[ScopeListing]
}

// Wait takes one token from scope's bucket.
func (l *Limiters) Wait(ctx context.Context, scope Scope) error {
	return l.Get(scope).Wait(ctx)
}

// ScopeFor maps an API request to its scope.
func ScopeFor(method, path string) Scope {
	switch {
	case strings.Contains(path, "/thumbnail/"):
		return ScopeImage
	case strings.HasSuffix(path, "/actions") && method == "POST":
		return ScopeMutation
	default:
		return ScopeListing
	}
}
