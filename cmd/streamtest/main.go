// streamtest subscribes to a few topics and prints every delivered update to
// the console.
// Usage: go run ./cmd/streamtest --config configs/marketsync.example.yaml --topics JUPITER:SOL/USDC
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/feed"
	"github.com/rickgao/marketsync/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/marketsync.example.yaml", "path to config file")
	topicList := flag.String("topics", "", "comma-separated topics, overrides feed.topics")
	wsURL := flag.String("url", "", "stream url, overrides feed.ws_url")
	depth := flag.Int("depth", 5, "book levels to print per side")
	verbose := flag.Bool("verbose", false, "print full update JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *topicList != "" {
		cfg.Feed.Topics = strings.Split(*topicList, ",")
	}
	if *wsURL != "" {
		cfg.Feed.WSURL = *wsURL
	}

	topics, err := cfg.ParsedTopics()
	if err != nil || len(topics) == 0 {
		logger.Error("no usable topics", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fc := feed.DefaultConfig()
	fc.Transport.Client = connection.ClientConfig{URL: cfg.Feed.WSURL, APIKey: cfg.Feed.APIKey}
	fc.AllowUnknownVenues = cfg.Feed.AllowUnknownVenues

	client, err := feed.New(fc, feed.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create feed client", "error", err)
		os.Exit(1)
	}

	go func() {
		for ev := range client.Events() {
			fmt.Printf("[EVENT] %s topics=%d err=%v\n", ev.Kind, len(ev.Topics), ev.Err)
		}
	}()

	if err := client.Start(ctx); err != nil {
		logger.Error("failed to start feed client", "error", err)
		os.Exit(1)
	}

	for _, topic := range topics {
		_, err := client.Subscribe(topic,
			func(u model.Update) { printUpdate(u, *depth, *verbose) },
			func(err error) { fmt.Printf("[ERROR] %s %v\n", topic, err) },
		)
		if err != nil {
			logger.Error("subscribe failed", "topic", topic, "error", err)
		}
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := client.Stats()
				logger.Info("stats",
					"state", s.Transport.State,
					"frames", s.Transport.FramesReceived,
					"invalid", s.Transport.FramesDropped,
					"deliveries", s.Deliveries,
					"coalesced", s.Batcher.Coalesced,
					"burst_flushes", s.Batcher.BurstFlushes,
					"breaker", s.Breaker.State,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "topics", len(topics))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down...")
	if err := client.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
	logger.Info("shutdown complete")
}

func printUpdate(u model.Update, depth int, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(u, "", "  ")
		fmt.Printf("[%s] %s\n", strings.ToUpper(string(u.Class)), data)
		return
	}

	if u.Book == nil {
		fmt.Printf("[%s] %s source=%s stale=%t %s\n",
			strings.ToUpper(string(u.Class)), u.Topic, u.Source, u.Stale, u.Payload)
		return
	}

	b := u.Book
	spread, _ := b.Spread()
	fmt.Printf("[BOOK] %s source=%s bids=%d asks=%d spread=%s\n",
		u.Topic, u.Source, len(b.Bids), len(b.Asks), spread)
	for i := 0; i < depth && (i < len(b.Bids) || i < len(b.Asks)); i++ {
		var bid, ask string
		if i < len(b.Bids) {
			bid = b.Bids[i].Size.String() + " @ " + b.Bids[i].Price.String()
		}
		if i < len(b.Asks) {
			ask = b.Asks[i].Price.String() + " x " + b.Asks[i].Size.String()
		}
		fmt.Printf("    %-28s | %s\n", bid, ask)
	}
}
