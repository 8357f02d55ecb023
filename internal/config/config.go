package config

import "time"

// Config is the root configuration for a marketsync instance.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Feed        FeedConfig        `yaml:"feed"`
	Transport   TransportConfig   `yaml:"transport"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Batcher     BatcherConfig     `yaml:"batcher"`
	Cache       CacheConfig       `yaml:"cache"`
	OrderBook   OrderBookConfig   `yaml:"orderbook"`
	Hydration   HydrationConfig   `yaml:"hydration"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// InstanceConfig identifies this instance in logs.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// FeedConfig holds exchange endpoints and the topics to watch.
type FeedConfig struct {
	WSURL               string   `yaml:"ws_url"`
	RestURL             string   `yaml:"rest_url"`
	APIKey              string   `yaml:"api_key"` // Optional bearer token
	Topics              []string `yaml:"topics"`  // VENUE:BASE/QUOTE
	AllowUnknownVenues  bool     `yaml:"allow_unknown_venues"`
	MaxTopicsPerCommand int      `yaml:"max_topics_per_command"`
	EventBuffer         int      `yaml:"event_buffer"`
}

// TransportConfig holds streaming connection settings.
type TransportConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	BackoffFactor      float64       `yaml:"backoff_factor"`
	Jitter             float64       `yaml:"jitter"`       // Fraction in [0, 1)
	MaxAttempts        int           `yaml:"max_attempts"` // Negative = unlimited
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout   time.Duration `yaml:"heartbeat_timeout"`
	QueueSize          int           `yaml:"queue_size"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Window          time.Duration `yaml:"window"`
	ErrorThreshold  float64       `yaml:"error_threshold"`
	VolumeThreshold int           `yaml:"volume_threshold"`
	ResetTimeout    time.Duration `yaml:"reset_timeout"`
}

// BatcherConfig holds delivery batching settings.
type BatcherConfig struct {
	Window         time.Duration `yaml:"window"`
	BurstThreshold int           `yaml:"burst_threshold"`
}

// CacheConfig holds snapshot cache settings.
type CacheConfig struct {
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	BookTTL       time.Duration `yaml:"book_ttl"`
	TickerTTL     time.Duration `yaml:"ticker_ttl"`
	ReferenceTTL  time.Duration `yaml:"reference_ttl"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// OrderBookConfig holds order book settings.
type OrderBookConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// Hydration sources.
const (
	SourceREST     = "rest"
	SourcePostgres = "postgres"
	SourceNone     = "none"
)

// HydrationConfig selects where snapshots for new and stale topics come from.
type HydrationConfig struct {
	Source          string        `yaml:"source"` // rest, postgres or none
	Timeout         time.Duration `yaml:"timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Concurrency     int           `yaml:"concurrency"`
	MaxRetries      int           `yaml:"max_retries"`
}

// InstrumentsConfig enables periodic checks of the venues' instrument
// listings over the REST API.
type InstrumentsConfig struct {
	Enabled           bool          `yaml:"enabled"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	Venues            []string      `yaml:"venues"` // Empty = all venues
}

// DatabaseConfig holds the read-only snapshot store.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
	Table    string   `yaml:"table"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LoggingConfig holds log output settings. When File is set, logs go to
// stdout and to a size-rotated file.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json or text
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
