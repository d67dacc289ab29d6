package resilience

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Connectivity states reported to the OnState callback. The UI maps
// these to its connection indicator.
const (
	ConnConnected    = "connected"
	ConnReconnecting = "reconnecting"
	ConnDown         = "down"
)

// Config tunes a Reconnector.
type Config struct {
	BreakerThreshold int           // consecutive failures before the breaker opens
	BreakerCooldown  time.Duration // open → closed timer
	BackoffBase      time.Duration // first retry delay
	BackoffFactor    float64       // delay growth per attempt
	BackoffMax       time.Duration // delay ceiling
	MaxRetries       int           // attempts before giving up (ConnDown)
	StaleAfter       time.Duration // silent-feed threshold forcing a reconnect
}

// Reconnector paces reconnection attempts for one change-feed subscription.
// It combines the circuit breaker with exponential backoff (jittered, so a
// fleet of clients does not stampede a recovering backend) and tracks feed
// liveness for the stale-connection health check.
//
// The transport drives the loop; the Reconnector only answers questions:
//
//	if !r.Allow() { wait }
//	err := dial()
//	if err != nil {
//	    delay, giveUp := r.Failure()
//	    ...
//	}
//	r.Success()
type Reconnector struct {
	breaker *Breaker
	onState func(string)

	mu        sync.Mutex
	bo        *backoff.ExponentialBackOff
	attempts  int
	max       int
	stale     time.Duration
	lastEvent time.Time
	state     string
	now       func() time.Time
}

// NewReconnector builds a Reconnector from cfg. onState may be nil; when set
// it is invoked (outside the internal lock) whenever the connectivity state
// changes.
func NewReconnector(cfg Config, onState func(string)) *Reconnector {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BackoffBase
	bo.Multiplier = cfg.BackoffFactor
	bo.MaxInterval = cfg.BackoffMax
	bo.RandomizationFactor = 0.3
	bo.MaxElapsedTime = 0 // retry budget is attempt-counted, not time-boxed
	bo.Reset()

	return &Reconnector{
		breaker: NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		onState: onState,
		bo:      bo,
		max:     cfg.MaxRetries,
		stale:   cfg.StaleAfter,
		// state starts blank: the first Success or Failure is a real
		// transition, so onState fires for the very first outage too.
		now: time.Now,
	}
}

// Breaker exposes the underlying circuit breaker (shared per connection).
func (r *Reconnector) Breaker() *Breaker { return r.breaker }

// Allow reports whether a connection attempt may proceed right now.
func (r *Reconnector) Allow() bool { return r.breaker.Allow() }

// Success records an established subscription: the attempt counter and the
// backoff schedule reset, and the state becomes connected.
func (r *Reconnector) Success() {
	r.breaker.Success()
	r.mu.Lock()
	r.attempts = 0
	r.bo.Reset()
	r.lastEvent = r.now()
	r.mu.Unlock()
	r.setState(ConnConnected)
}

// Failure records a failed attempt and returns the delay to wait before the
// next one. giveUp is true once the attempt budget is exhausted; the caller
// should stop retrying and surface the outage.
func (r *Reconnector) Failure() (delay time.Duration, giveUp bool) {
	r.breaker.Failure()
	r.mu.Lock()
	r.attempts++
	delay = r.bo.NextBackOff()
	giveUp = r.max > 0 && r.attempts >= r.max
	r.mu.Unlock()
	if giveUp {
		r.setState(ConnDown)
	} else {
		r.setState(ConnReconnecting)
	}
	return delay, giveUp
}

// Touch records feed activity; call it for every delivered event.
func (r *Reconnector) Touch() {
	r.mu.Lock()
	r.lastEvent = r.now()
	r.mu.Unlock()
}

// Stale reports whether the feed has been silent past the configured
// threshold while believed connected. The transport uses this to force a
// reconnect on a half-dead connection that never errored.
func (r *Reconnector) Stale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != ConnConnected || r.stale <= 0 {
		return false
	}
	return r.now().Sub(r.lastEvent) > r.stale
}

// State returns the current connectivity state.
func (r *Reconnector) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconnector) setState(s string) {
	r.mu.Lock()
	changed := r.state != s
	r.state = s
	cb := r.onState
	r.mu.Unlock()
	if changed && cb != nil {
		cb(s)
	}
}
