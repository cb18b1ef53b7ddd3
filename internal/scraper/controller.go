package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/polywatch/marketd/internal/model"
	"github.com/polywatch/marketd/internal/publisher"
)

// Upserter is the slice of the market store the controller writes through.
type Upserter interface {
	Upsert(ctx context.Context, m model.Market) (isNew bool, err error)
}

// ControllerConfig controls one scrape cycle's fetch and retry behavior.
type ControllerConfig struct {
	// BaseURL is the data endpoint prefix; the full URL is
	// <BaseURL>/<token>/index.json.
	BaseURL string
	// BuildToken is the discovered (or default) build token.
	BuildToken string
	UserAgent  string
	// MaxAttempts bounds fetch attempts per cycle.
	MaxAttempts int
	// BackoffBase is the initial inter-attempt delay; attempt n waits
	// BackoffBase * 2^n.
	BackoffBase time.Duration
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// Topic names the publish destination for new-market events.
	Topic string
}

// Controller runs one scrape cycle: fetch the data endpoint with retries,
// parse the payload, and upsert the resulting records.
type Controller struct {
	cfg     ControllerConfig
	client  *http.Client
	markets Upserter
	events  publisher.Publisher
	logger  *zap.Logger

	// sleep waits between retry attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController builds a Controller. The events publisher may be nil, in
// which case new-market notifications are skipped.
func NewController(
	cfg ControllerConfig,
	markets Upserter,
	events publisher.Publisher,
	logger *zap.Logger,
) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Controller{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		markets: markets,
		events:  events,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// RunCycle fetches and stores one batch of markets, retrying transient
// failures with exponential backoff. It returns the number of newly
// discovered records, or the last fetch error once attempts are exhausted.
func (c *Controller) RunCycle(ctx context.Context) (int, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		doc, err := c.fetchOnce(ctx)
		if err == nil {
			return c.storeBatch(ctx, doc), nil
		}
		lastErr = err
		if attempt < c.cfg.MaxAttempts-1 {
			delay := c.cfg.BackoffBase << uint(attempt)
			c.logger.Warn("scrape attempt failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return 0, fmt.Errorf("scrape canceled: %w", err)
			}
		}
	}
	return 0, fmt.Errorf("scrape failed after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

// fetchOnce performs a single attempt against the data endpoint. Any
// non-success status, non-JSON content type, or undecodable body is a
// retryable failure.
func (c *Controller) fetchOnce(ctx context.Context) (any, error) {
	url := fmt.Sprintf("%s/%s/index.json", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.BuildToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch data endpoint: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("data endpoint returned status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return nil, fmt.Errorf("data endpoint returned non-JSON content type %q", contentType)
	}

	var doc any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode data endpoint body: %w", err)
	}
	return doc, nil
}

// storeBatch upserts parsed records in parser order. Per-record store
// failures are logged and skipped; they never fail the cycle.
func (c *Controller) storeBatch(ctx context.Context, doc any) int {
	markets := ParseBatch(doc)
	c.logger.Info("parsed markets from data endpoint", zap.Int("count", len(markets)))

	newCount := 0
	for _, m := range markets {
		isNew, err := c.markets.Upsert(ctx, m)
		if err != nil {
			c.logger.Warn("failed to upsert market",
				zap.String("id", m.ID),
				zap.Error(err),
			)
			continue
		}
		if isNew {
			newCount++
			c.logger.Info("new market discovered",
				zap.String("id", m.ID),
				zap.String("title", m.Title),
			)
			c.publishNewMarket(ctx, m)
		}
	}
	return newCount
}

func (c *Controller) publishNewMarket(ctx context.Context, m model.Market) {
	if c.events == nil {
		return
	}
	event := model.NewMarketEvent{
		ID:           m.ID,
		Title:        m.Title,
		DiscoveredAt: time.Now().UTC(),
	}
	if _, err := c.events.Publish(ctx, c.cfg.Topic, event); err != nil {
		c.logger.Warn("failed to publish new market event",
			zap.String("id", m.ID),
			zap.Error(err),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
