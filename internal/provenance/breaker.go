package provenance

import (
	"sync"
	"time"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker short-circuits chain calls after consecutive failures so a degraded
// ledger costs at most one timeout per reset window. A zero threshold disables
// it.
type Breaker struct {
	mu           sync.Mutex
	threshold    int
	resetTimeout time.Duration
	failures     int
	openedAt     time.Time
	state        BreakerState
	now          func() time.Time
}

func NewBreaker(threshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
		now:          time.Now,
	}
}

// Allow reports whether a chain call may be attempted. An open breaker moves
// to half-open once the reset timeout has elapsed and lets one probe through.
func (b *Breaker) Allow() bool {
	if b == nil || b.threshold <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false
		}
		b.state = BreakerHalfOpen
		return true
	case BreakerHalfOpen:
		// probe in flight
		return false
	default:
		return true
	}
}

func (b *Breaker) Success() {
	if b == nil || b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = BreakerClosed
}

func (b *Breaker) Failure() {
	if b == nil || b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// Release hands back an attempt that ended without a verdict. A half-open
// breaker returns to open with its original timestamp, so the next Allow lets
// a call through again.
func (b *Breaker) Release() {
	if b == nil || b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
	}
}

func (b *Breaker) State() BreakerState {
	if b == nil || b.threshold <= 0 {
		return BreakerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
