package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourusername/tokengate/core"
)

// Metrics tracks admission statistics and exposes them as Prometheus collectors
type Metrics struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	deniedRequests  atomic.Int64
	bucketsCreated  atomic.Int64
	bucketsRemoved  atomic.Int64
	startTime       time.Time

	decisions *prometheus.CounterVec
	created   prometheus.Counter
	removed   prometheus.Counter
	buckets   prometheus.Gauge
}

// NewMetrics creates a metrics tracker. namespace prefixes every metric name.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		startTime: time.Now(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admissions_total",
				Help:      "Admission decisions by outcome",
			},
			[]string{"decision"},
		),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buckets_created_total",
			Help:      "Buckets created on first sight of an identifier",
		}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buckets_removed_total",
			Help:      "Buckets removed by delete, idle eviction or shutdown",
		}),
		buckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buckets",
			Help:      "Buckets currently held in the index",
		}),
	}
}

// Register adds all collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.decisions, m.created, m.removed, m.buckets} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveDecision records an admission decision
func (m *Metrics) ObserveDecision(_ string, r core.Result, created bool) {
	m.totalRequests.Add(1)

	if r.Allowed() {
		m.allowedRequests.Add(1)
	} else {
		m.deniedRequests.Add(1)
	}
	m.decisions.WithLabelValues(r.Decision.String()).Inc()

	if created {
		m.bucketsCreated.Add(1)
		m.created.Inc()
		m.buckets.Inc()
	}
}

// ObserveRemoval records n removed buckets
func (m *Metrics) ObserveRemoval(n int) {
	if n <= 0 {
		return
	}
	m.bucketsRemoved.Add(int64(n))
	m.removed.Add(float64(n))
	m.buckets.Sub(float64(n))
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() *Snapshot {
	created := m.bucketsCreated.Load()
	removed := m.bucketsRemoved.Load()

	return &Snapshot{
		TotalRequests:   m.totalRequests.Load(),
		AllowedRequests: m.allowedRequests.Load(),
		DeniedRequests:  m.deniedRequests.Load(),
		BucketsCreated:  created,
		BucketsRemoved:  removed,
		ActiveBuckets:   created - removed,
		UptimeSeconds:   int64(time.Since(m.startTime).Seconds()),
		StartTime:       m.startTime,
	}
}

// Snapshot represents a point-in-time view of metrics
type Snapshot struct {
	TotalRequests   int64     `json:"total_requests"`
	AllowedRequests int64     `json:"allowed_requests"`
	DeniedRequests  int64     `json:"denied_requests"`
	BucketsCreated  int64     `json:"buckets_created"`
	BucketsRemoved  int64     `json:"buckets_removed"`
	ActiveBuckets   int64     `json:"active_buckets"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	StartTime       time.Time `json:"start_time"`
}
