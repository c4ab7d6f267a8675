package tokengate

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/tokengate/core"
)

// Option is a functional option for configuring a Controller.
type Option func(*Controller) error

// WithClock sets the time source. It must be monotonic.
// Default: core.NewMonotonicClock()
func WithClock(clock core.Clock) Option {
	return func(c *Controller) error {
		if clock == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrConfig)
		}
		c.clock = clock
		return nil
	}
}

// WithLogger sets the logger. Default: zerolog.Nop()
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) error {
		c.logger = logger
		return nil
	}
}

// WithObserver adds an observer notified of every decision.
// Observers that also implement RemovalObserver are told about removed buckets.
func WithObserver(obs Observer) Option {
	return func(c *Controller) error {
		if obs == nil {
			return fmt.Errorf("%w: observer cannot be nil", ErrConfig)
		}
		c.observers = append(c.observers, obs)
		if ro, ok := obs.(RemovalObserver); ok {
			c.removalObservers = append(c.removalObservers, ro)
		}
		return nil
	}
}

// WithIdleTTL overrides Config.IdleTTL.
func WithIdleTTL(ttl time.Duration) Option {
	return func(c *Controller) error {
		if ttl < 0 {
			return fmt.Errorf("%w: idle TTL cannot be negative", ErrConfig)
		}
		c.idleTTL = ttl
		return nil
	}
}

// WithSweepInterval overrides Config.SweepInterval.
func WithSweepInterval(interval time.Duration) Option {
	return func(c *Controller) error {
		if interval < 0 {
			return fmt.Errorf("%w: sweep interval cannot be negative", ErrConfig)
		}
		c.sweepInterval = interval
		return nil
	}
}
