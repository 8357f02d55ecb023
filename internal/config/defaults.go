package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID          = "marketsync"
	DefaultMaxTopicsPerCommand = 100
	DefaultEventBuffer         = 64

	DefaultReconnectBaseDelay = 500 * time.Millisecond
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultBackoffFactor      = 2.0
	DefaultJitter             = 0.2
	DefaultMaxAttempts        = 10
	DefaultHeartbeatInterval  = 15 * time.Second
	DefaultHeartbeatTimeout   = 45 * time.Second
	DefaultQueueSize          = 256
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultBufferSize         = 4096

	DefaultBreakerWindow          = 10 * time.Second
	DefaultBreakerErrorThreshold  = 0.5
	DefaultBreakerVolumeThreshold = 10
	DefaultBreakerResetTimeout    = 5 * time.Second

	DefaultBatchWindow    = 50 * time.Millisecond
	DefaultBurstThreshold = 50

	DefaultCacheTTL      = 30 * time.Second
	DefaultBookTTL       = 5 * time.Second
	DefaultTickerTTL     = 10 * time.Second
	DefaultReferenceTTL  = 10 * time.Minute
	DefaultRetention     = 15 * time.Minute
	DefaultSweepInterval = time.Minute

	DefaultMaxDepth = 50

	DefaultHydrationSource     = SourceNone
	DefaultHydrationTimeout    = 10 * time.Second
	DefaultRefreshInterval     = 30 * time.Second
	DefaultRefreshConcurrency  = 8
	DefaultHydrationMaxRetries = 2
	DefaultInstrumentSync      = 5 * time.Minute
	DefaultSnapshotTable       = "market_snapshots"
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 4
	DefaultMinConns            = 1

	DefaultLogLevel   = "info"
	DefaultLogFormat  = "json"
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 14

	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Feed defaults
	if c.Feed.MaxTopicsPerCommand == 0 {
		c.Feed.MaxTopicsPerCommand = DefaultMaxTopicsPerCommand
	}
	if c.Feed.EventBuffer == 0 {
		c.Feed.EventBuffer = DefaultEventBuffer
	}

	// Transport defaults
	t := &c.Transport
	if t.ReconnectBaseDelay == 0 {
		t.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if t.ReconnectMaxDelay == 0 {
		t.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if t.BackoffFactor == 0 {
		t.BackoffFactor = DefaultBackoffFactor
	}
	if t.Jitter == 0 {
		t.Jitter = DefaultJitter
	}
	if t.MaxAttempts == 0 {
		t.MaxAttempts = DefaultMaxAttempts
	}
	if t.HeartbeatInterval == 0 {
		t.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if t.HeartbeatTimeout == 0 {
		t.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if t.QueueSize == 0 {
		t.QueueSize = DefaultQueueSize
	}
	if t.HandshakeTimeout == 0 {
		t.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if t.WriteTimeout == 0 {
		t.WriteTimeout = DefaultWriteTimeout
	}
	if t.BufferSize == 0 {
		t.BufferSize = DefaultBufferSize
	}

	// Breaker defaults
	if c.Breaker.Window == 0 {
		c.Breaker.Window = DefaultBreakerWindow
	}
	if c.Breaker.ErrorThreshold == 0 {
		c.Breaker.ErrorThreshold = DefaultBreakerErrorThreshold
	}
	if c.Breaker.VolumeThreshold == 0 {
		c.Breaker.VolumeThreshold = DefaultBreakerVolumeThreshold
	}
	if c.Breaker.ResetTimeout == 0 {
		c.Breaker.ResetTimeout = DefaultBreakerResetTimeout
	}

	// Batcher defaults
	if c.Batcher.Window == 0 {
		c.Batcher.Window = DefaultBatchWindow
	}
	if c.Batcher.BurstThreshold == 0 {
		c.Batcher.BurstThreshold = DefaultBurstThreshold
	}

	// Cache defaults
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = DefaultCacheTTL
	}
	if c.Cache.BookTTL == 0 {
		c.Cache.BookTTL = DefaultBookTTL
	}
	if c.Cache.TickerTTL == 0 {
		c.Cache.TickerTTL = DefaultTickerTTL
	}
	if c.Cache.ReferenceTTL == 0 {
		c.Cache.ReferenceTTL = DefaultReferenceTTL
	}
	if c.Cache.Retention == 0 {
		c.Cache.Retention = DefaultRetention
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = DefaultSweepInterval
	}

	if c.OrderBook.MaxDepth == 0 {
		c.OrderBook.MaxDepth = DefaultMaxDepth
	}

	// Hydration defaults
	if c.Hydration.Source == "" {
		c.Hydration.Source = DefaultHydrationSource
	}
	if c.Hydration.Timeout == 0 {
		c.Hydration.Timeout = DefaultHydrationTimeout
	}
	if c.Hydration.RefreshInterval == 0 {
		c.Hydration.RefreshInterval = DefaultRefreshInterval
	}
	if c.Hydration.Concurrency == 0 {
		c.Hydration.Concurrency = DefaultRefreshConcurrency
	}
	if c.Hydration.MaxRetries == 0 {
		c.Hydration.MaxRetries = DefaultHydrationMaxRetries
	}

	if c.Instruments.ReconcileInterval == 0 {
		c.Instruments.ReconcileInterval = DefaultInstrumentSync
	}

	// Database defaults
	if c.Database.Table == "" {
		c.Database.Table = DefaultSnapshotTable
	}
	applyDBDefaults(&c.Database.Postgres)

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = DefaultMaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = DefaultMaxAgeDays
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
