package core

import (
	"sync"
	"time"
)

// Bucket holds the token bucket state of a single identifier.
// Refill uses whole periods only: a fraction of a period never yields a
// partial token, and the unconsumed fraction is carried into the next refill.
type Bucket struct {
	id         string
	capacity   int64
	period     time.Duration
	tokens     int64
	lastRefill time.Duration
	lastSeen   time.Duration
	mu         sync.Mutex // Protects tokens, lastRefill and lastSeen
}

// NewBucket creates a full bucket for id at time now.
// The policy is expected to be validated by the caller.
func NewBucket(id string, p Policy, now time.Duration) *Bucket {
	return &Bucket{
		id:         id,
		capacity:   p.Capacity,
		period:     p.RefillPeriod,
		tokens:     p.Capacity,
		lastRefill: now,
		lastSeen:   now,
	}
}

// ID returns the identifier the bucket belongs to.
func (b *Bucket) ID() string {
	return b.id
}

// Capacity returns the maximum number of tokens.
func (b *Bucket) Capacity() int64 {
	return b.capacity
}

// Take refills the bucket for now and tries to consume one token.
// Both steps run in a single critical section.
func (b *Bucket) Take(now time.Duration) Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)
	if now > b.lastSeen {
		b.lastSeen = now
	}

	if b.tryConsume() {
		return Result{
			Decision:  Allowed,
			Remaining: b.tokens,
			Limit:     b.capacity,
		}
	}

	return Result{
		Decision:   Denied,
		Remaining:  0,
		Limit:      b.capacity,
		RetryAfter: b.retryAfter(now),
	}
}

// Refill adds the tokens generated since the last refill.
func (b *Bucket) Refill(now time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
}

// TryConsume takes one token if available. A denial leaves the bucket untouched.
func (b *Bucket) TryConsume() Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tryConsume() {
		return Allowed
	}
	return Denied
}

// Tokens returns the current token count without refilling.
func (b *Bucket) Tokens() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Expired reports whether the bucket is idle since cutoff and would be full
// at now. Dropping an expired bucket is invisible to its identifier: the next
// check starts from the same full bucket it would have found.
func (b *Bucket) Expired(now, cutoff time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastSeen >= cutoff {
		return false
	}
	return b.fullAt(now)
}

// fullAt MUST be called with b.mu locked. It does not change the bucket.
func (b *Bucket) fullAt(now time.Duration) bool {
	missing := b.capacity - b.tokens
	if missing <= 0 {
		return true
	}
	elapsed := now - b.lastRefill
	if elapsed <= 0 {
		return false
	}
	return int64(elapsed/b.period) >= missing
}

// Snapshot returns a copy of the bucket state.
func (b *Bucket) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return State{
		ID:         b.id,
		Tokens:     b.tokens,
		Capacity:   b.capacity,
		LastRefill: b.lastRefill,
		LastSeen:   b.lastSeen,
	}
}

// refill MUST be called with b.mu locked.
func (b *Bucket) refill(now time.Duration) {
	elapsed := now - b.lastRefill
	if elapsed <= 0 {
		return
	}

	add := int64(elapsed / b.period)
	if add == 0 {
		return
	}

	if add >= b.capacity-b.tokens {
		b.tokens = b.capacity
	} else {
		b.tokens += add
	}

	// Advance by whole periods so partial progress toward the next token survives
	b.lastRefill += time.Duration(add) * b.period
}

// tryConsume MUST be called with b.mu locked.
func (b *Bucket) tryConsume() bool {
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// retryAfter MUST be called with b.mu locked and after refill(now).
func (b *Bucket) retryAfter(now time.Duration) time.Duration {
	wait := b.lastRefill + b.period - now
	if wait <= 0 {
		return b.period
	}
	return wait
}
