package matching

import (
	"sync/atomic"
	"time"
)

// breaker marks a backend as down for a cooldown after a failure. While open, callers skip the
// backend instead of waiting out its timeout again.
type breaker struct {
	cooldown time.Duration
	until    atomic.Int64 // unix nanos; 0 = closed
}

func (b *breaker) open(now time.Time) bool {
	until := b.until.Load()
	return until != 0 && now.UnixNano() < until
}

// trip reports whether this call opened the breaker, so only one caller logs the outage.
func (b *breaker) trip(now time.Time) bool {
	if b.cooldown <= 0 {
		return false
	}
	prev := b.until.Load()
	if prev != 0 && now.UnixNano() < prev {
		return false
	}
	return b.until.CompareAndSwap(prev, now.Add(b.cooldown).UnixNano())
}
