package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// HTMLFetcher retrieves a single HTML document. It exists so discovery can be
// tested against canned markup.
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, url string) (string, error)
}

// HomepageFetcherConfig controls collector behavior.
type HomepageFetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyHomepageFetcher fetches the target site's homepage using a Colly
// collector with a bounded request timeout.
type CollyHomepageFetcher struct {
	cfg           HomepageFetcherConfig
	baseCollector *colly.Collector
}

// NewCollyHomepageFetcher builds a CollyHomepageFetcher.
func NewCollyHomepageFetcher(cfg HomepageFetcherConfig) *CollyHomepageFetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &CollyHomepageFetcher{cfg: cfg, baseCollector: c}
}

// FetchHTML executes a single HTTP GET and returns the response body.
func (f *CollyHomepageFetcher) FetchHTML(ctx context.Context, url string) (string, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("homepage fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("homepage visit failed: %w", err)
		}
		if fetchErr != nil {
			return "", fmt.Errorf("homepage response failed: %w", fetchErr)
		}
	}
	return string(body), nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
