package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/yourusername/tokengate/core"
)

// DefaultChannel is the pub/sub channel denial events are published on
const DefaultChannel = "tokengate:denials"

// Event is the JSON payload published for every denied admission
type Event struct {
	Instance     string    `json:"instance,omitempty"`
	ID           string    `json:"id"`
	Decision     string    `json:"decision"`
	Limit        int64     `json:"limit"`
	RetryAfterMs int64     `json:"retry_after_ms"`
	At           time.Time `json:"at"`
}

// RedisConfig for creating a Redis publisher
type RedisConfig struct {
	Addr           string        // Redis address (e.g., "localhost:6379")
	Password       string        // Redis password (empty for no auth)
	DB             int           // Redis database number
	Channel        string        // Pub/sub channel (default: DefaultChannel)
	Instance       string        // Tag added to every event
	QueueSize      int           // Pending events kept before dropping (default: 1024)
	PublishTimeout time.Duration // Per-publish timeout (default: 1s)
}

// Stats counts what happened to observed denials
type Stats struct {
	Published int64
	Dropped   int64
	Failed    int64
}

// RedisPublisher publishes denial events to a Redis channel.
// Publishing happens on a background goroutine; observing a decision never
// blocks, and events are dropped when the queue is full.
type RedisPublisher struct {
	client   *redis.Client
	channel  string
	instance string
	timeout  time.Duration
	breaker  *gobreaker.CircuitBreaker
	logger   zerolog.Logger

	mu        sync.RWMutex // Orders enqueues before close(done)
	closed    bool
	queue     chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewRedisPublisher creates a publisher and starts its delivery goroutine.
func NewRedisPublisher(config RedisConfig, logger zerolog.Logger) *RedisPublisher {
	p := newRedisPublisher(config, logger)
	p.wg.Add(1)
	go p.run()
	return p
}

func newRedisPublisher(config RedisConfig, logger zerolog.Logger) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	channel := config.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	timeout := config.PublishTimeout
	if timeout <= 0 {
		timeout = 1 * time.Second
	}

	logger = logger.With().Str("component", "notify").Str("channel", channel).Logger()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis-publish",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("publisher circuit breaker state changed")
		},
	})

	return &RedisPublisher{
		client:   client,
		channel:  channel,
		instance: config.Instance,
		timeout:  timeout,
		breaker:  breaker,
		logger:   logger,
		queue:    make(chan Event, queueSize),
		done:     make(chan struct{}),
	}
}

// ObserveDecision queues an event when the result is a denial.
func (p *RedisPublisher) ObserveDecision(id string, r core.Result, _ bool) {
	if r.Allowed() {
		return
	}

	ev := Event{
		Instance:     p.instance,
		ID:           id,
		Decision:     r.Decision.String(),
		Limit:        r.Limit,
		RetryAfterMs: r.RetryAfter.Milliseconds(),
		At:           time.Now().UTC(),
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.dropped.Add(1)
	}
}

// Ping checks if Redis connection is alive
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Stats returns delivery counters.
func (p *RedisPublisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close flushes queued events and closes the Redis connection.
func (p *RedisPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.done)
	})
	p.wg.Wait()
	return p.client.Close()
}

func (p *RedisPublisher) run() {
	defer p.wg.Done()

	for {
		select {
		case ev := <-p.queue:
			p.publish(ev)
		case <-p.done:
			// Flush what is already queued
			for {
				select {
				case ev := <-p.queue:
					p.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *RedisPublisher) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.failed.Add(1)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.client.Publish(ctx, p.channel, data).Err()
	})
	if err != nil {
		p.failed.Add(1)
		if !errors.Is(err, gobreaker.ErrOpenState) {
			p.logger.Debug().Err(fmt.Errorf("publish %s: %w", ev.ID, err)).Msg("denial event not delivered")
		}
		return
	}
	p.published.Add(1)
}
