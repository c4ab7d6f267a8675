package tokengate

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/tokengate/core"
	"github.com/yourusername/tokengate/metrics"
)

func newTestController(t *testing.T, cfg Config, opts ...Option) (*Controller, *core.ManualClock) {
	t.Helper()

	clock := core.NewManualClock(0)
	ctrl, err := New(cfg, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(ctrl.Shutdown)
	return ctrl, clock
}

func exampleConfig() Config {
	return Config{Capacity: 3, RefillPeriodMS: 1000, TableSize: 20}
}

type recorder struct {
	mu       sync.Mutex
	allowed  int
	denied   int
	created  int
	removals int
}

func (r *recorder) ObserveDecision(_ string, res core.Result, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.Allowed() {
		r.allowed++
	} else {
		r.denied++
	}
	if created {
		r.created++
	}
}

func (r *recorder) ObserveRemoval(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removals += n
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		opts    []Option
		wantErr error
	}{
		{"defaults", NewConfig(), nil, nil},
		{"zero capacity", Config{Capacity: 0, RefillPeriodMS: 1000, TableSize: 20}, nil, ErrConfig},
		{"negative capacity", Config{Capacity: -1, RefillPeriodMS: 1000, TableSize: 20}, nil, ErrConfig},
		{"zero refill period", Config{Capacity: 3, RefillPeriodMS: 0, TableSize: 20}, nil, ErrConfig},
		{"zero table size", Config{Capacity: 3, RefillPeriodMS: 1000, TableSize: 0}, nil, ErrConfig},
		{"huge table size", Config{Capacity: 3, RefillPeriodMS: 1000, TableSize: 1 << 30}, nil, ErrAllocation},
		{"nil clock", NewConfig(), []Option{WithClock(nil)}, ErrConfig},
		{"nil observer", NewConfig(), []Option{WithObserver(nil)}, ErrConfig},
		{"negative idle ttl", NewConfig(), []Option{WithIdleTTL(-time.Second)}, ErrConfig},
		{"negative sweep interval", NewConfig(), []Option{WithSweepInterval(-time.Second)}, ErrConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, err := New(tt.config, tt.opts...)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "error = %v, want %v", err, tt.wantErr)
				assert.Nil(t, ctrl)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, ctrl)
			assert.NotEmpty(t, ctrl.Instance())
			ctrl.Shutdown()
		})
	}
}

func TestController_ExampleSequence(t *testing.T) {
	ctrl, clock := newTestController(t, exampleConfig())

	steps := []struct {
		at     time.Duration
		want   core.Decision
		tokens int64
	}{
		{0, core.Allowed, 2},
		{0, core.Allowed, 1},
		{0, core.Allowed, 0},
		{0, core.Denied, 0},
		{1000 * time.Millisecond, core.Allowed, 0},
	}

	for i, step := range steps {
		clock.Set(step.at)
		assert.Equal(t, step.want, ctrl.Admit("X"), "step %d", i)

		tokens, ok := ctrl.Tokens("X")
		require.True(t, ok)
		assert.Equal(t, step.tokens, tokens, "step %d", i)
	}
}

func TestController_DeniedBeforeFullPeriod(t *testing.T) {
	ctrl, clock := newTestController(t, exampleConfig())

	for i := 0; i < 3; i++ {
		require.Equal(t, core.Allowed, ctrl.Admit("X"))
	}

	clock.Set(999 * time.Millisecond)
	res, err := ctrl.Check("X")
	require.NoError(t, err)
	assert.Equal(t, core.Denied, res.Decision)
	assert.Equal(t, time.Millisecond, res.RetryAfter)

	tokens, _ := ctrl.Tokens("X")
	assert.Equal(t, int64(0), tokens)
}

func TestController_Isolation(t *testing.T) {
	ctrl, _ := newTestController(t, exampleConfig())

	ctrl.Admit("B")
	for i := 0; i < 10; i++ {
		ctrl.Admit("A")
	}

	tokensA, _ := ctrl.Tokens("A")
	tokensB, _ := ctrl.Tokens("B")
	assert.Equal(t, int64(0), tokensA)
	assert.Equal(t, int64(2), tokensB)
}

func TestController_CollisionSafety(t *testing.T) {
	cfg := exampleConfig()
	cfg.TableSize = 1
	ctrl, _ := newTestController(t, cfg)

	ctrl.Admit("00-11-22-33-44-55")
	ctrl.Admit("00-11-22-33-44-55")
	ctrl.Admit("66-77-88-99-AA-BB")

	first, _ := ctrl.Tokens("00-11-22-33-44-55")
	second, _ := ctrl.Tokens("66-77-88-99-AA-BB")
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
	assert.Equal(t, 2, ctrl.Len())

	st := ctrl.Stats()
	assert.Equal(t, 1, st.Slots)
	assert.Equal(t, 2, st.LongestChain)
}

func TestController_UnknownAndEmptyIdentifiers(t *testing.T) {
	ctrl, _ := newTestController(t, exampleConfig())

	_, ok := ctrl.Tokens("never-seen")
	assert.False(t, ok)

	res, err := ctrl.Check("")
	require.NoError(t, err)
	assert.True(t, res.Allowed(), "an unseen identifier always starts with a full bucket")
	assert.Equal(t, int64(2), res.Remaining)
}

func TestController_ConcurrentFirstAdmit(t *testing.T) {
	rec := &recorder{}
	cfg := Config{Capacity: 1000, RefillPeriodMS: 60000, TableSize: 20}
	ctrl, _ := newTestController(t, cfg, WithObserver(rec))

	before := ctrl.Len()

	const goroutines = 100
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ctrl.Admit("cold-identifier")
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, before+1, ctrl.Len())
	assert.Equal(t, 1, rec.created)

	tokens, _ := ctrl.Tokens("cold-identifier")
	assert.Equal(t, int64(1000-goroutines), tokens)
}

func TestController_NoDoubleSpend(t *testing.T) {
	cfg := Config{Capacity: 50, RefillPeriodMS: 60000, TableSize: 4}
	ctrl, _ := newTestController(t, cfg)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if ctrl.Admit("shared") == core.Allowed {
					allowed.Add(1)
				}
				tokens, _ := ctrl.Tokens("shared")
				assert.GreaterOrEqual(t, tokens, int64(0))
				assert.LessOrEqual(t, tokens, int64(50))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load())
}

func TestController_ConcurrentRefillAndConsume(t *testing.T) {
	cfg := Config{Capacity: 5, RefillPeriodMS: 10, TableSize: 8}
	ctrl, clock := newTestController(t, cfg)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			clock.Advance(3 * time.Millisecond)
		}
		close(stop)
	}()

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				id := fmt.Sprintf("id-%d", g%3)
				res, err := ctrl.Check(id)
				assert.NoError(t, err)
				assert.GreaterOrEqual(t, res.Remaining, int64(0))
				assert.LessOrEqual(t, res.Remaining, int64(5))
			}
		}(g)
	}
	wg.Wait()
}

func TestController_Delete(t *testing.T) {
	rec := &recorder{}
	ctrl, _ := newTestController(t, exampleConfig(), WithObserver(rec))

	for i := 0; i < 3; i++ {
		ctrl.Admit("X")
	}
	require.Equal(t, core.Denied, ctrl.Admit("X"))

	assert.True(t, ctrl.Delete("X"))
	assert.False(t, ctrl.Delete("X"))
	assert.Equal(t, 1, rec.removals)

	// Fresh, full bucket after delete
	assert.Equal(t, core.Allowed, ctrl.Admit("X"))
	tokens, _ := ctrl.Tokens("X")
	assert.Equal(t, int64(2), tokens)
}

func TestController_Sweep(t *testing.T) {
	rec := &recorder{}
	ctrl, clock := newTestController(t, exampleConfig(),
		WithIdleTTL(time.Minute),
		WithSweepInterval(0),
		WithObserver(rec),
	)

	ctrl.Admit("stale")
	clock.Advance(50 * time.Second)
	ctrl.Admit("fresh")
	clock.Advance(20 * time.Second)

	assert.Equal(t, 1, ctrl.Sweep())
	assert.Equal(t, 1, ctrl.Len())
	assert.Equal(t, 1, rec.removals)

	_, ok := ctrl.Tokens("stale")
	assert.False(t, ok)
	_, ok = ctrl.Tokens("fresh")
	assert.True(t, ok)
}

func TestController_SweepDoesNotRefundDrainedBucket(t *testing.T) {
	ctrl, clock := newTestController(t, exampleConfig(),
		WithIdleTTL(time.Second),
		WithSweepInterval(0),
	)

	for i := 0; i < 3; i++ {
		require.Equal(t, core.Allowed, ctrl.Admit("X"))
	}
	clock.Advance(1001 * time.Millisecond)

	// Idle past the TTL, but still owed two tokens
	assert.Equal(t, 0, ctrl.Sweep())
	assert.Equal(t, 1, ctrl.Len())

	assert.Equal(t, core.Allowed, ctrl.Admit("X"))
	assert.Equal(t, core.Denied, ctrl.Admit("X"))

	// Once refill alone would fill it, the bucket can go
	clock.Advance(5 * time.Second)
	assert.Equal(t, 1, ctrl.Sweep())
	assert.Equal(t, 0, ctrl.Len())
}

func TestController_SweepDisabledWithoutTTL(t *testing.T) {
	ctrl, clock := newTestController(t, exampleConfig())

	ctrl.Admit("X")
	clock.Advance(24 * time.Hour)
	assert.Equal(t, 0, ctrl.Sweep())
	assert.Equal(t, 1, ctrl.Len())
}

func TestController_BackgroundSweeper(t *testing.T) {
	clock := core.NewManualClock(0)
	ctrl, err := New(exampleConfig(),
		WithClock(clock),
		WithIdleTTL(time.Second),
		WithSweepInterval(5*time.Millisecond),
	)
	require.NoError(t, err)
	defer ctrl.Shutdown()

	ctrl.Admit("X")
	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool {
		return ctrl.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestController_Shutdown(t *testing.T) {
	rec := &recorder{}
	ctrl, err := New(exampleConfig(), WithClock(core.NewManualClock(0)), WithObserver(rec))
	require.NoError(t, err)

	ctrl.Admit("A")
	ctrl.Admit("B")

	ctrl.Shutdown()
	ctrl.Shutdown()

	assert.Equal(t, 0, ctrl.Len())
	assert.Equal(t, 2, rec.removals)
	assert.True(t, ctrl.Stats().Closed)

	assert.Equal(t, core.Denied, ctrl.Admit("A"))
	_, err = ctrl.Check("A")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestController_ShutdownDuringAdmits(t *testing.T) {
	for round := 0; round < 20; round++ {
		rec := &recorder{}
		ctrl, err := New(exampleConfig(), WithClock(core.NewManualClock(0)), WithObserver(rec))
		require.NoError(t, err)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for g := 0; g < 16; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				<-start
				for i := 0; i < 50; i++ {
					ctrl.Admit(fmt.Sprintf("g%d-%d", g, i))
				}
			}(g)
		}

		close(start)
		ctrl.Shutdown()
		wg.Wait()

		// Nothing is inserted after Shutdown, and every created bucket is reported removed
		assert.Equal(t, 0, ctrl.Len(), "round %d", round)
		rec.mu.Lock()
		assert.Equal(t, rec.created, rec.removals, "round %d", round)
		rec.mu.Unlock()
	}
}

func TestController_WithMetricsObserver(t *testing.T) {
	m := metrics.NewMetrics("test")
	ctrl, _ := newTestController(t, exampleConfig(), WithObserver(m))

	for i := 0; i < 4; i++ {
		ctrl.Admit("X")
	}
	ctrl.Admit("Y")
	ctrl.Delete("Y")

	snap := m.GetSnapshot()
	assert.Equal(t, int64(5), snap.TotalRequests)
	assert.Equal(t, int64(4), snap.AllowedRequests)
	assert.Equal(t, int64(1), snap.DeniedRequests)
	assert.Equal(t, int64(2), snap.BucketsCreated)
	assert.Equal(t, int64(1), snap.ActiveBuckets)
	assert.Equal(t, int64(ctrl.Len()), snap.ActiveBuckets)
}
