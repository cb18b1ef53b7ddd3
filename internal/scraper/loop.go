// Package scraper implements the ingestion pipeline: build token discovery,
// the fetch-retry controller, the tolerant payload parser, and the scrape
// loop that drives them.
package scraper

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/polywatch/marketd/internal/metrics"
)

// CycleRunner runs one scrape cycle and reports how many records were newly
// discovered.
type CycleRunner interface {
	RunCycle(ctx context.Context) (int, error)
}

// LoopConfig controls loop scheduling.
type LoopConfig struct {
	// Interval is the wall-clock tick spacing between cycles.
	Interval time.Duration
	// MinRequestInterval is the floor on time between upstream requests,
	// enforced independently of Interval.
	MinRequestInterval time.Duration
}

// Loop drives scrape cycles at a fixed interval until its context is
// canceled. Cycle failures are recorded and logged, never fatal.
type Loop struct {
	cfg     LoopConfig
	runner  CycleRunner
	limiter *rate.Limiter
	stats   *metrics.Collector
	logger  *zap.Logger
}

// NewLoop builds a Loop.
func NewLoop(cfg LoopConfig, runner CycleRunner, stats *metrics.Collector, logger *zap.Logger) *Loop {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinRequestInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinRequestInterval), 1)
	}
	return &Loop{
		cfg:     cfg,
		runner:  runner,
		limiter: limiter,
		stats:   stats,
		logger:  logger,
	}
}

// Run blocks until ctx is canceled. A tick that fires while a cycle is still
// running is dropped rather than queued, so cycles never run back-to-back.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.logger.Info("scrape loop started",
		zap.Duration("interval", l.cfg.Interval),
		zap.Duration("min_request_interval", l.cfg.MinRequestInterval),
	)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scrape loop stopped")
			return
		case <-ticker.C:
		}

		l.runOnce(ctx)

		// Drop any tick that accumulated during a long cycle.
		select {
		case <-ticker.C:
		default:
		}
	}
}

func (l *Loop) runOnce(ctx context.Context) {
	// Rate limit: enforce the minimum spacing since the previous request
	// even when the tick interval is shorter.
	if err := l.limiter.Wait(ctx); err != nil {
		return
	}

	start := time.Now()
	newCount, err := l.runner.RunCycle(ctx)
	l.stats.ObserveCycleDuration(time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.stats.RecordCycle(false)
		l.logger.Error("scrape cycle failed", zap.Error(err))
		return
	}

	l.stats.RecordCycle(true)
	l.stats.AddDiscovered(newCount)
	if newCount > 0 {
		l.logger.Info("scrape cycle completed", zap.Int("new_markets", newCount))
	} else {
		l.logger.Info("scrape cycle completed, no new markets")
	}
}
