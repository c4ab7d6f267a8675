// Package tokengate provides per-identifier admission control for request-processing hosts.
//
// A Controller keeps one token bucket per identifier (for example a RADIUS
// Calling-Station-Id) and answers Admit in constant time. Buckets are created
// full on first sight of an identifier and regain one token per refill period.
//
// # Quick Start
//
//	ctrl, err := tokengate.New(tokengate.Config{
//	    Capacity:       10,   // burst size
//	    RefillPeriodMS: 5000, // one token every 5s
//	    TableSize:      20,   // index slots
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctrl.Shutdown()
//
//	if ctrl.Admit(id) == core.Denied {
//	    // reject the request
//	}
//
// # Refill Semantics
//
// Tokens are added in whole refill periods only. Time that does not complete a
// period is kept toward the next token instead of being discarded, so bursty
// traffic is not under-replenished. Elapsed time comes from a monotonic clock.
//
// # Configuration
//
// Configuration can be loaded from YAML:
//
//	capacity: 10
//	refill_period_ms: 5000
//	table_size: 20
//	idle_ttl: 1h
//	sweep_interval: 1m
//
// or from TOKENGATE_CAPACITY, TOKENGATE_REFILL_PERIOD_MS, TOKENGATE_TABLE_SIZE,
// TOKENGATE_IDLE_TTL and TOKENGATE_SWEEP_INTERVAL.
//
// # Memory
//
// Buckets live until Delete, Shutdown, or idle eviction. Idle eviction is off by
// default: without an idle TTL the index grows with every distinct identifier.
// A bucket is evicted only once it is idle past the TTL and refill alone would
// have filled it, so eviction never grants tokens early.
//
// # Observability
//
// Observers registered with WithObserver see every decision; the metrics
// package exports them to Prometheus and the notify package publishes denials
// to Redis.
package tokengate
