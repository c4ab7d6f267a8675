package core

import (
	"fmt"
	"time"
)

// Decision is the outcome of an admission check.
// The zero value is Denied.
type Decision uint8

const (
	Denied Decision = iota
	Allowed
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return fmt.Sprintf("decision(%d)", uint8(d))
	}
}

// Policy defines the token bucket parameters shared by every bucket of a controller
type Policy struct {
	Capacity     int64         // Maximum tokens, also granted on creation
	RefillPeriod time.Duration // Time to regenerate one token
}

// Validate reports ErrConfig for non-positive parameters.
func (p Policy) Validate() error {
	if p.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be > 0, got %d", ErrConfig, p.Capacity)
	}
	if p.RefillPeriod <= 0 {
		return fmt.Errorf("%w: refill period must be > 0, got %s", ErrConfig, p.RefillPeriod)
	}
	return nil
}

// Result contains the outcome of a single take on a bucket
type Result struct {
	Decision   Decision      // Allowed or Denied
	Remaining  int64         // Tokens left after this check
	Limit      int64         // Bucket capacity
	RetryAfter time.Duration // Time until the next token; 0 when allowed
}

// Allowed reports whether the check admitted the action.
func (r Result) Allowed() bool {
	return r.Decision == Allowed
}

// State is a point-in-time copy of a bucket's fields
type State struct {
	ID         string
	Tokens     int64
	Capacity   int64
	LastRefill time.Duration
	LastSeen   time.Duration
}
