// Package ratelimit provides token bucket rate limiting for the abm MCP
// tools: a call budget per tool and a shared budget of simulated
// agent-iterations.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Limiter implements a per-key token bucket rate limiter.
// Each key gets its own bucket with the configured rate and burst.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64          // tokens per second
	burst   float64          // bucket capacity (also initial token count)
	nowFunc func() time.Time // injectable clock for testing
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewLimiter creates a rate limiter with the given rate (tokens/sec) and burst size.
// The burst size also serves as the initial number of tokens available.
func NewLimiter(rate, burst float64) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		nowFunc: time.Now,
	}
}

// Allow takes one token for key.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.AllowN(key, 1)
	return ok
}

// AllowN takes n tokens for key if they are available. Otherwise it takes
// nothing and reports how long until n tokens will have accumulated; the
// wait is negative when n exceeds the burst or the rate is zero, since the
// request can never succeed.
func (l *Limiter) AllowN(key string, n float64) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()

	b, ok := l.buckets[key]
	if !ok {
		// First request for this key: start with full burst
		b = &bucket{tokens: l.burst, lastCheck: now}
		l.buckets[key] = b
	}

	// Refill tokens based on elapsed time
	if elapsed := now.Sub(b.lastCheck).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.burst, b.tokens+l.rate*elapsed)
		b.lastCheck = now
	}

	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}
	if n > l.burst || l.rate <= 0 {
		return false, -1
	}
	return false, time.Duration((n - b.tokens) / l.rate * float64(time.Second))
}

// ErrRateLimited is returned when a tool's call or work budget is exhausted.
var ErrRateLimited = errors.New("rate limit exceeded")

// WorkPerMinute is how many multiples of the per-call work cap the shared
// work budget refills each minute.
const WorkPerMinute = 2

// ToolLimiters holds the call budget of every tool and the shared work
// budget of abm_simulate. A nil *ToolLimiters allows everything.
type ToolLimiters struct {
	calls map[string]*Limiter
	work  *Limiter
}

// NewToolLimiters creates the default per-tool limits. Simulations are CPU
// bound, so abm_simulate gets the tightest call budget and additionally
// draws its agent-iterations from a bucket holding maxWork.
func NewToolLimiters(maxWork int64) *ToolLimiters {
	return &ToolLimiters{
		calls: map[string]*Limiter{
			"abm_simulate": NewLimiter(6.0/60.0, 2),  // 6/minute, burst 2
			"abm_validate": NewLimiter(1.0, 10),      // 60/minute, burst 10
			"abm_presets":  NewLimiter(1.0, 10),      // 60/minute, burst 10
			"abm_runs":     NewLimiter(30.0/60.0, 5), // 30/minute, burst 5
		},
		work: NewLimiter(float64(maxWork)*WorkPerMinute/60.0, float64(maxWork)),
	}
}

// Tools returns the number of tools with a call budget.
func (t *ToolLimiters) Tools() int {
	if t == nil {
		return 0
	}
	return len(t.calls)
}

// CheckLimit takes one call from the tool's budget.
// Returns nil if allowed, or an error wrapping ErrRateLimited.
// Tools without a configured limiter are always allowed.
func (t *ToolLimiters) CheckLimit(toolName string) error {
	if t == nil {
		return nil
	}
	limiter, ok := t.calls[toolName]
	if !ok {
		return nil // No limiter configured = no limit
	}

	if !limiter.Allow(toolName) {
		return fmt.Errorf("%w for %s, please try again shortly", ErrRateLimited, toolName)
	}

	return nil
}

// CheckWork takes work agent-iterations from the shared work budget.
func (t *ToolLimiters) CheckWork(toolName string, work int64) error {
	if t == nil || t.work == nil {
		return nil
	}
	ok, wait := t.work.AllowN("work", float64(work))
	switch {
	case ok:
		return nil
	case wait < 0:
		return fmt.Errorf("%w for %s: %d agent-iterations exceeds the work budget", ErrRateLimited, toolName, work)
	default:
		return fmt.Errorf("%w for %s: work budget refills in %s", ErrRateLimited, toolName, wait.Round(time.Second))
	}
}
