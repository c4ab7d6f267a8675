package tokengate

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yourusername/tokengate/core"
	"github.com/yourusername/tokengate/store"
)

// Admitter is the host-facing side of a Controller.
type Admitter interface {
	// Admit decides whether the action for id may proceed.
	Admit(id string) core.Decision
}

// Observer is notified after every admission check.
// Implementations are called on the request path and must not block.
type Observer interface {
	ObserveDecision(id string, r core.Result, created bool)
}

// RemovalObserver is notified when buckets leave the index.
type RemovalObserver interface {
	ObserveRemoval(n int)
}

// Stats describes the controller state
type Stats struct {
	Instance     string // Controller instance id
	Buckets      int    // Buckets currently held
	Slots        int    // Index slots
	UsedSlots    int    // Slots holding at least one bucket
	LongestChain int    // Longest collision chain
	Closed       bool   // Whether Shutdown was called
}

// Controller decides per identifier whether an action is admitted.
// It owns its index and every bucket in it; all methods are safe for
// concurrent use.
type Controller struct {
	instance         string
	policy           core.Policy
	index            *store.Index
	clock            core.Clock
	logger           zerolog.Logger
	observers        []Observer
	removalObservers []RemovalObserver
	idleTTL          time.Duration
	sweepInterval    time.Duration

	lifecycle    sync.RWMutex // Held shared by Check, exclusively by Shutdown
	closed       atomic.Bool
	stop         chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

var _ Admitter = (*Controller)(nil)

// New validates config and creates a Controller.
// Invalid configuration returns ErrConfig and no controller is created.
//
// Example:
//
//	ctrl, err := tokengate.New(tokengate.NewConfig(),
//	    tokengate.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctrl.Shutdown()
//
//	if ctrl.Admit(callingStationID) == core.Denied {
//	    // reject the request
//	}
func New(config Config, opts ...Option) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		instance:      uuid.NewString(),
		policy:        config.Policy(),
		clock:         core.NewMonotonicClock(),
		logger:        zerolog.Nop(),
		idleTTL:       config.IdleTTL,
		sweepInterval: config.SweepInterval,
		stop:          make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	index, err := store.NewIndex(config.TableSize)
	if err != nil {
		return nil, err
	}
	c.index = index
	c.logger = c.logger.With().Str("instance", c.instance).Logger()

	c.logger.Info().
		Int64("capacity", c.policy.Capacity).
		Dur("refill_period", c.policy.RefillPeriod).
		Int("table_size", config.TableSize).
		Dur("idle_ttl", c.idleTTL).
		Msg("admission controller started")

	if c.idleTTL > 0 && c.sweepInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop()
	}

	return c, nil
}

// Instance returns the unique id of this controller.
func (c *Controller) Instance() string {
	return c.instance
}

// Admit finds or creates the bucket for id, refills it and consumes one token.
// It returns Denied when no token is available or the controller is shut down.
func (c *Controller) Admit(id string) core.Decision {
	res, err := c.Check(id)
	if err != nil {
		c.logger.Warn().Err(err).Str("id", id).Msg("admission check failed")
		return core.Denied
	}
	return res.Decision
}

// Check is Admit with the full result.
func (c *Controller) Check(id string) (core.Result, error) {
	// No bucket may be inserted once Shutdown has released the index
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	if c.closed.Load() {
		return core.Result{Decision: core.Denied, Limit: c.policy.Capacity}, ErrClosed
	}

	now := c.clock.Now()
	bucket, created := c.index.GetOrCreate(id, func() *core.Bucket {
		return core.NewBucket(id, c.policy, now)
	})
	res := bucket.Take(now)

	if created {
		c.logger.Debug().Str("id", id).Msg("bucket created")
	}
	if !res.Allowed() {
		c.logger.Debug().Str("id", id).Dur("retry_after", res.RetryAfter).Msg("rate limit exceeded")
	}

	for _, obs := range c.observers {
		obs.ObserveDecision(id, res, created)
	}
	return res, nil
}

// Tokens returns the current token count for id without refilling.
func (c *Controller) Tokens(id string) (int64, bool) {
	bucket, ok := c.index.Get(id)
	if !ok {
		return 0, false
	}
	return bucket.Tokens(), true
}

// Delete removes the bucket for id. The next Admit for id starts from a full bucket.
func (c *Controller) Delete(id string) bool {
	if !c.index.Delete(id) {
		return false
	}
	c.logger.Debug().Str("id", id).Msg("bucket deleted")
	c.notifyRemoval(1)
	return true
}

// Len returns the number of buckets held.
func (c *Controller) Len() int {
	return c.index.Len()
}

// Sweep removes buckets idle for longer than the idle TTL that have refilled
// to capacity. It returns the number of removed buckets and does nothing when
// no TTL is set.
func (c *Controller) Sweep() int {
	if c.idleTTL <= 0 {
		return 0
	}

	now := c.clock.Now()
	removed := c.index.Sweep(now, now-c.idleTTL)
	if len(removed) > 0 {
		c.logger.Debug().Int("removed", len(removed)).Msg("idle buckets evicted")
		c.notifyRemoval(len(removed))
	}
	return len(removed)
}

// Stats returns a snapshot of the controller state.
func (c *Controller) Stats() Stats {
	st := c.index.Stats()
	return Stats{
		Instance:     c.instance,
		Buckets:      st.Buckets,
		Slots:        st.Size,
		UsedSlots:    st.UsedSlots,
		LongestChain: st.LongestChain,
		Closed:       c.closed.Load(),
	}
}

// Shutdown stops the sweeper and releases every bucket.
// Later calls to Admit return Denied. Calling Shutdown more than once is safe.
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.lifecycle.Lock()
		c.closed.Store(true)
		c.lifecycle.Unlock()

		close(c.stop)
		c.wg.Wait()

		n := c.index.Len()
		c.index.Reset()
		c.notifyRemoval(n)

		c.logger.Info().Int("released", n).Msg("admission controller stopped")
	})
}

func (c *Controller) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *Controller) notifyRemoval(n int) {
	if n <= 0 {
		return
	}
	for _, obs := range c.removalObservers {
		obs.ObserveRemoval(n)
	}
}
