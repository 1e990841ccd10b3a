package polling

import (
	"sync"
	"time"
)

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	// ErrorThreshold is the consecutive-failure count that opens the breaker.
	ErrorThreshold int
	// CallTimeout bounds one status-fetch attempt; an attempt that exceeds
	// it counts as a failure.
	CallTimeout time.Duration
	// RecoveryTime is the cooldown after opening before one trial call is
	// allowed through.
	RecoveryTime time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ErrorThreshold: 5,
		CallTimeout:    10 * time.Second,
		RecoveryTime:   30 * time.Second,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = d.ErrorThreshold
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.RecoveryTime <= 0 {
		c.RecoveryTime = d.RecoveryTime
	}
	return c
}

// Breaker isolates a failing status endpoint: it opens after a run of
// consecutive failures, fails fast while open, and lets exactly one trial
// call through once the cooldown elapses.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	lastFailureAt       time.Time
	lastSuccessAt       time.Time
	trialStarted        bool
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg: cfg.withDefaults(),
		now: time.Now,
	}
}

// CanExecute reports whether a call may proceed right now. While open it
// returns false until the cooldown elapses, at which point the breaker
// half-opens and permits a single trial call; further calls are refused
// until that trial is recorded.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailureAt) < b.cfg.RecoveryTime {
			return false
		}
		b.state = StateHalfOpen
		b.trialStarted = true
		return true
	case StateHalfOpen:
		if b.trialStarted {
			return false
		}
		b.trialStarted = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.trialStarted = false
	b.lastSuccessAt = b.now()
}

// RecordFailure counts one failed call. In the closed state it opens the
// breaker once the threshold is reached; a failed half-open trial reopens
// with a fresh cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailureAt = b.now()
	b.trialStarted = false

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.ErrorThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// RemainingCooldown is how long until an open breaker will half-open.
// Zero for any other state.
func (b *Breaker) RemainingCooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	remaining := b.cfg.RecoveryTime - b.now().Sub(b.lastFailureAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
