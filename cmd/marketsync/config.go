package main

import (
	"time"

	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/feed"
	"github.com/rickgao/marketsync/internal/model"
)

// feedConfig maps the file configuration onto the feed client's.
func feedConfig(cfg *config.Config) feed.Config {
	fc := feed.DefaultConfig()

	t := cfg.Transport
	fc.Transport.Client = connection.ClientConfig{
		URL:              cfg.Feed.WSURL,
		APIKey:           cfg.Feed.APIKey,
		HandshakeTimeout: t.HandshakeTimeout,
		WriteTimeout:     t.WriteTimeout,
		BufferSize:       t.BufferSize,
	}
	fc.Transport.ReconnectBaseWait = t.ReconnectBaseDelay
	fc.Transport.ReconnectMaxWait = t.ReconnectMaxDelay
	fc.Transport.BackoffFactor = t.BackoffFactor
	fc.Transport.Jitter = t.Jitter
	fc.Transport.MaxAttempts = t.MaxAttempts
	if t.MaxAttempts < 0 {
		fc.Transport.MaxAttempts = 0
	}
	fc.Transport.HeartbeatInterval = t.HeartbeatInterval
	fc.Transport.HeartbeatTimeout = t.HeartbeatTimeout
	fc.Transport.QueueSize = t.QueueSize

	fc.Breaker.Window = cfg.Breaker.Window
	fc.Breaker.ErrorThreshold = cfg.Breaker.ErrorThreshold
	fc.Breaker.VolumeThreshold = cfg.Breaker.VolumeThreshold
	fc.Breaker.ResetTimeout = cfg.Breaker.ResetTimeout

	fc.Mux.MaxTopicsPerCommand = cfg.Feed.MaxTopicsPerCommand

	fc.Batcher.Window = cfg.Batcher.Window
	fc.Batcher.BurstThreshold = cfg.Batcher.BurstThreshold

	fc.Cache.DefaultTTL = cfg.Cache.DefaultTTL
	fc.Cache.TTL = map[model.Class]time.Duration{
		model.ClassBook:      cfg.Cache.BookTTL,
		model.ClassTicker:    cfg.Cache.TickerTTL,
		model.ClassReference: cfg.Cache.ReferenceTTL,
	}
	fc.Cache.Retention = cfg.Cache.Retention
	fc.SweepInterval = cfg.Cache.SweepInterval

	fc.OrderBook.MaxDepth = cfg.OrderBook.MaxDepth

	fc.Refresh.Interval = cfg.Hydration.RefreshInterval
	fc.Refresh.Concurrency = cfg.Hydration.Concurrency
	fc.Refresh.Timeout = cfg.Hydration.Timeout
	fc.HydrationTimeout = cfg.Hydration.Timeout

	fc.AllowUnknownVenues = cfg.Feed.AllowUnknownVenues
	fc.EventBuffer = cfg.Feed.EventBuffer
	return fc
}
