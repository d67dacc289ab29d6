// Package resilience provides the failure-control machinery shared by the
// realtime transport: a circuit breaker that suppresses attempts against a
// failing backend, and a reconnection controller that paces resubscription
// with exponential backoff and a stale-feed watchdog.
//
// One Breaker/Reconnector pair is constructed per logical connection (one
// change-feed subscription), never shared process-wide ambient state.
package resilience

import (
	"sync"
	"time"
)

// Breaker states.
const (
	StateClosed = "closed"
	StateOpen   = "open"
)

// Breaker is a two-state circuit breaker. It opens after a run of
// consecutive failures and closes again once a cooldown window has elapsed
// since the last failure. There is no half-open probe: the reset is purely
// timer-based, so a single Allow after the cooldown always proceeds.
//
// Safe for concurrent use.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu          sync.Mutex
	consecutive int
	open        bool
	lastFailure time.Time
}

// NewBreaker returns a closed Breaker that opens after threshold consecutive
// failures and stays open for cooldown measured from the last failure.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether an attempt may proceed. While open it returns false
// without touching the underlying operation; once the cooldown has elapsed
// the breaker resets to closed and the attempt proceeds.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.now().Sub(b.lastFailure) >= b.cooldown {
		b.open = false
		b.consecutive = 0
		return true
	}
	return false
}

// Failure records a failed attempt. At threshold consecutive failures the
// breaker opens.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	b.lastFailure = b.now()
	if b.consecutive >= b.threshold {
		b.open = true
	}
}

// Success records a successful attempt and resets the failure run.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.open = false
}

// State returns StateClosed or StateOpen. A breaker whose cooldown has
// already elapsed reports closed even before the next Allow.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open && b.now().Sub(b.lastFailure) < b.cooldown {
		return StateOpen
	}
	return StateClosed
}
