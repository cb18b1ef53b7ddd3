// Package metrics tracks scrape cycle outcomes for the status endpoint and
// exposes Prometheus collectors for operational visibility.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// scrapeCyclesTotal counts completed scrape cycles, labeled by outcome.
	scrapeCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketd_scrape_cycles_total",
		Help: "Total number of scrape cycles, labeled by outcome.",
	}, []string{"outcome"})

	// marketsDiscoveredTotal counts markets stored for the first time.
	marketsDiscoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketd_markets_discovered_total",
		Help: "Total number of newly discovered markets.",
	})

	// scrapeCycleDurationSeconds records how long each cycle took.
	scrapeCycleDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketd_scrape_cycle_duration_seconds",
		Help:    "Histogram of scrape cycle durations.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	// lastCycleTimestamp holds the unix time of the most recent cycle.
	lastCycleTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketd_last_scrape_cycle_timestamp_seconds",
		Help: "Unix timestamp of the most recent scrape cycle.",
	})
)

// Snapshot is a point-in-time view of the cycle counters.
type Snapshot struct {
	TotalCycles      uint64
	SuccessfulCycles uint64
	FailedCycles     uint64
	LastCycleTime    *time.Time
}

// Collector is the injected metrics collaborator shared by the scrape loop
// and the API layer. All updates are safe for concurrent use.
type Collector struct {
	total      atomic.Uint64
	successful atomic.Uint64
	failed     atomic.Uint64

	mu        sync.Mutex
	lastCycle *time.Time
}

// NewCollector returns a zeroed Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordCycle records the outcome and timestamp of one scrape cycle.
func (c *Collector) RecordCycle(success bool) {
	c.total.Add(1)
	outcome := "failure"
	if success {
		c.successful.Add(1)
		outcome = "success"
	} else {
		c.failed.Add(1)
	}
	scrapeCyclesTotal.WithLabelValues(outcome).Inc()

	now := time.Now().UTC()
	lastCycleTimestamp.Set(float64(now.Unix()))
	c.mu.Lock()
	c.lastCycle = &now
	c.mu.Unlock()
}

// ObserveCycleDuration records how long a cycle took end to end.
func (c *Collector) ObserveCycleDuration(d time.Duration) {
	scrapeCycleDurationSeconds.Observe(d.Seconds())
}

// AddDiscovered increments the newly discovered market counter.
func (c *Collector) AddDiscovered(n int) {
	if n > 0 {
		marketsDiscoveredTotal.Add(float64(n))
	}
}

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	last := c.lastCycle
	c.mu.Unlock()
	return Snapshot{
		TotalCycles:      c.total.Load(),
		SuccessfulCycles: c.successful.Load(),
		FailedCycles:     c.failed.Load(),
		LastCycleTime:    last,
	}
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
