package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rickgao/marketsync/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Feed.WSURL == "" {
		return errors.New("feed.ws_url is required")
	}
	if !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return fmt.Errorf("feed.ws_url must be a ws:// or wss:// url, got %q", c.Feed.WSURL)
	}
	if _, err := c.ParsedTopics(); err != nil {
		return err
	}
	if c.Feed.MaxTopicsPerCommand < 1 {
		return errors.New("feed.max_topics_per_command must be >= 1")
	}

	if c.Transport.BackoffFactor < 1 {
		return fmt.Errorf("transport.backoff_factor must be >= 1, got %g", c.Transport.BackoffFactor)
	}
	if c.Transport.Jitter < 0 || c.Transport.Jitter >= 1 {
		return fmt.Errorf("transport.jitter must be in [0, 1), got %g", c.Transport.Jitter)
	}
	if c.Transport.ReconnectMaxDelay < c.Transport.ReconnectBaseDelay {
		return errors.New("transport.reconnect_max_delay cannot be less than reconnect_base_delay")
	}
	if c.Transport.HeartbeatTimeout > 0 && c.Transport.HeartbeatTimeout <= c.Transport.HeartbeatInterval {
		return errors.New("transport.heartbeat_timeout must exceed heartbeat_interval")
	}
	if c.Transport.QueueSize < 1 {
		return errors.New("transport.queue_size must be >= 1")
	}

	if c.Breaker.ErrorThreshold <= 0 || c.Breaker.ErrorThreshold > 1 {
		return fmt.Errorf("breaker.error_threshold must be in (0, 1], got %g", c.Breaker.ErrorThreshold)
	}
	if c.Breaker.VolumeThreshold < 1 {
		return errors.New("breaker.volume_threshold must be >= 1")
	}

	if c.Batcher.BurstThreshold < 0 {
		return errors.New("batcher.burst_threshold must be >= 0")
	}
	if c.OrderBook.MaxDepth < 1 {
		return errors.New("orderbook.max_depth must be >= 1")
	}

	switch c.Hydration.Source {
	case SourceNone:
	case SourceREST:
		if c.Feed.RestURL == "" {
			return errors.New("feed.rest_url is required when hydration.source is rest")
		}
	case SourcePostgres:
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("hydration.source must be one of rest, postgres, none; got %q", c.Hydration.Source)
	}
	if c.Hydration.Concurrency < 1 {
		return errors.New("hydration.concurrency must be >= 1")
	}

	if c.Instruments.Enabled && c.Feed.RestURL == "" {
		return errors.New("feed.rest_url is required when instruments.enabled is set")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

// ParsedTopics parses feed.topics. Unknown venues are rejected unless
// feed.allow_unknown_venues is set.
func (c *Config) ParsedTopics() ([]model.Topic, error) {
	topics := make([]model.Topic, 0, len(c.Feed.Topics))
	for i, s := range c.Feed.Topics {
		t, err := model.ParseTopic(s)
		if err == nil && !c.Feed.AllowUnknownVenues {
			err = t.Validate()
		}
		if err != nil {
			return nil, fmt.Errorf("feed.topics[%d]: %w", i, err)
		}
		topics = append(topics, t)
	}
	return topics, nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
