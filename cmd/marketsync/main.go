// marketsync keeps configured market topics synchronized from a streaming
// exchange feed and exposes their health and metrics over HTTP.
//
// Usage: go run ./cmd/marketsync --config configs/marketsync.example.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/marketsync/internal/api"
	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/database"
	"github.com/rickgao/marketsync/internal/feed"
	"github.com/rickgao/marketsync/internal/logging"
	"github.com/rickgao/marketsync/internal/market"
	"github.com/rickgao/marketsync/internal/metrics"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/marketsync.example.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("marketsync exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logger = logger.With("instance_id", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting marketsync",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	topics, err := cfg.ParsedTopics()
	if err != nil {
		return err
	}

	var rest *api.Client
	if cfg.Feed.RestURL != "" {
		rest = api.NewClient(cfg.Feed.RestURL, cfg.Feed.APIKey,
			api.WithLogger(logger.With("component", "api")),
			api.WithTimeout(cfg.Hydration.Timeout),
			api.WithRetries(cfg.Hydration.MaxRetries, time.Second),
		)
	}

	opts := []feed.Option{feed.WithLogger(logger)}
	src, closeSrc, err := hydrationSource(ctx, cfg, rest, logger)
	if err != nil {
		return err
	}
	defer closeSrc()
	if src != nil {
		opts = append(opts, feed.WithSource(src))
	}

	client, err := feed.New(feedConfig(cfg), opts...)
	if err != nil {
		return fmt.Errorf("create feed client: %w", err)
	}

	reg, err := metrics.NewRegistry(client, cfg.Instance.ID)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHandler(client, reg, cfg.Metrics.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting http server", "port", cfg.Metrics.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go logEvents(client.Events(), logger)

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("start feed client: %w", err)
	}

	subscribed := 0
	for _, topic := range topics {
		if _, err := client.Subscribe(topic, logUpdate(logger), logTopicError(topic, logger)); err != nil {
			logger.Error("subscribe failed", "topic", topic, "error", err)
			continue
		}
		subscribed++
	}

	if cfg.Instruments.Enabled {
		registry := market.NewRegistry(market.Config{
			ReconcileInterval: cfg.Instruments.ReconcileInterval,
			Venues:            cfg.Instruments.Venues,
		}, rest, logger.With("component", "instruments"))

		if err := registry.Start(ctx); err != nil {
			logger.Warn("instrument registry unavailable", "error", err)
		} else {
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				registry.Stop(stopCtx)
			}()
			for _, t := range registry.Unlisted(topics) {
				logger.Warn("configured topic is not listed as active", "topic", t)
			}
			go watchListings(ctx, registry, topics, logger)
		}
	}

	logger.Info("marketsync running",
		"topics", subscribed,
		"hydration", cfg.Hydration.Source,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	if err := client.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown feed client: %w", err)
	}

	logger.Info("marketsync stopped")
	return nil
}

// hydrationSource builds the configured snapshot source. The returned func
// releases it and is never nil.
func hydrationSource(ctx context.Context, cfg *config.Config, client *api.Client, logger *slog.Logger) (feed.Source, func(), error) {
	switch cfg.Hydration.Source {
	case config.SourceREST:
		statusCtx, cancel := context.WithTimeout(ctx, cfg.Hydration.Timeout)
		defer cancel()
		status, err := client.GetStatus(statusCtx)
		if err != nil {
			logger.Warn("snapshot api unavailable", "url", cfg.Feed.RestURL, "error", err)
		} else {
			logger.Info("snapshot api status",
				"stream_active", status.StreamActive,
				"venues", status.Venues,
			)
		}
		return client, func() {}, nil

	case config.SourcePostgres:
		db := cfg.Database.Postgres
		logger.Info("connecting to database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)
		pool, err := database.Connect(ctx, db, cfg.Instance.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("connect snapshot database: %w", err)
		}
		logger.Info("database connected")
		return database.NewSnapshotSource(pool, cfg.Database.Table, logger.With("component", "snapshots")), pool.Close, nil
	}

	return nil, func() {}, nil
}

// watchListings logs instrument changes, loudly for configured topics.
func watchListings(ctx context.Context, registry *market.Registry, topics []model.Topic, logger *slog.Logger) {
	watched := make(map[model.Topic]struct{}, len(topics))
	for _, t := range topics {
		watched[t] = struct{}{}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-registry.Changes():
			attrs := []any{"topic", c.Topic, "kind", c.Kind, "old_status", c.OldStatus, "new_status", c.NewStatus}
			if _, ok := watched[c.Topic]; ok {
				logger.Warn("configured instrument changed", attrs...)
			} else {
				logger.Debug("instrument changed", attrs...)
			}
		}
	}
}

func logUpdate(logger *slog.Logger) func(model.Update) {
	return func(u model.Update) {
		attrs := []any{"topic", u.Topic, "class", u.Class, "source", u.Source, "stale", u.Stale}
		if u.Book != nil {
			if bid, ok := u.Book.BestBid(); ok {
				attrs = append(attrs, "bid", bid.Price)
			}
			if ask, ok := u.Book.BestAsk(); ok {
				attrs = append(attrs, "ask", ask.Price)
			}
		}
		logger.Debug("update", attrs...)
	}
}

func logTopicError(topic model.Topic, logger *slog.Logger) func(error) {
	return func(err error) {
		logger.Warn("topic error", "topic", topic, "error", err)
	}
}

func logEvents(events <-chan feed.Event, logger *slog.Logger) {
	for ev := range events {
		attrs := []any{"kind", ev.Kind}
		if len(ev.Topics) > 0 {
			attrs = append(attrs, "topics", len(ev.Topics))
		}
		if ev.Err != nil {
			attrs = append(attrs, "error", ev.Err)
		}
		switch ev.Kind {
		case feed.EventFatal, feed.EventUpstreamError:
			logger.Error("feed event", attrs...)
		case feed.EventDisconnected:
			logger.Warn("feed event", attrs...)
		case feed.EventBreakerChange:
			logger.Warn("feed event", append(attrs, "breaker", ev.Breaker)...)
		default:
			logger.Info("feed event", attrs...)
		}
	}
}
