// Package main wires together the marketd service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/polywatch/marketd/internal/api"
	"github.com/polywatch/marketd/internal/clock/system"
	"github.com/polywatch/marketd/internal/config"
	"github.com/polywatch/marketd/internal/logging"
	"github.com/polywatch/marketd/internal/metrics"
	"github.com/polywatch/marketd/internal/publisher"
	memorypublisher "github.com/polywatch/marketd/internal/publisher/memory"
	pubsubpublisher "github.com/polywatch/marketd/internal/publisher/pubsub"
	"github.com/polywatch/marketd/internal/scraper"
	"github.com/polywatch/marketd/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage connectivity is a startup requirement; the service does not
	// begin serving without it.
	marketStore, err := store.New(ctx, store.Config{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	}, system.New())
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer marketStore.Close()

	if err := marketStore.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema init failed", zap.Error(err))
	}

	var events publisher.Publisher = memorypublisher.New()
	if cfg.PubSub.Enabled {
		pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		defer func() {
			if cerr := pub.Close(); cerr != nil {
				logger.Warn("pubsub close failed", zap.Error(cerr))
			}
		}()
		events = pub
	}

	// Discovery runs exactly once per process lifetime; the token is
	// assumed stable across cycles.
	homepage := scraper.NewCollyHomepageFetcher(scraper.HomepageFetcherConfig{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.RequestTimeout(),
	})
	token := scraper.DiscoverBuildToken(
		ctx,
		homepage,
		cfg.Scraper.HomepageURL,
		cfg.Scraper.DefaultBuildToken,
		logger.Named("discovery"),
	)

	stats := metrics.NewCollector()
	controller := scraper.NewController(scraper.ControllerConfig{
		BaseURL:     cfg.Scraper.BaseURL,
		BuildToken:  token,
		UserAgent:   cfg.Scraper.UserAgent,
		MaxAttempts: cfg.HTTP.MaxRetries,
		BackoffBase: cfg.BackoffInitial(),
		Timeout:     cfg.RequestTimeout(),
		Topic:       cfg.PubSub.TopicName,
	}, marketStore, events, logger.Named("scraper"))

	loop := scraper.NewLoop(scraper.LoopConfig{
		Interval:           cfg.ScrapeInterval(),
		MinRequestInterval: cfg.MinRequestInterval(),
	}, controller, stats, logger.Named("loop"))

	apiServer := api.NewServer(marketStore, stats, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		loop.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
