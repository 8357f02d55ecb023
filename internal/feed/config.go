package feed

import (
	"time"

	"github.com/rickgao/marketsync/internal/batcher"
	"github.com/rickgao/marketsync/internal/breaker"
	"github.com/rickgao/marketsync/internal/cache"
	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/mux"
	"github.com/rickgao/marketsync/internal/orderbook"
	"github.com/rickgao/marketsync/internal/poller"
)

// Config configures a Client. Every component's thresholds are exposed.
type Config struct {
	Transport connection.TransportConfig
	Breaker   breaker.Config
	Mux       mux.Config
	Batcher   batcher.Config
	Cache     cache.Config
	OrderBook orderbook.Config
	Refresh   poller.Config

	// AllowUnknownVenues accepts topics whose venue is not in the known list.
	AllowUnknownVenues bool

	// HydrationTimeout bounds one snapshot fetch for a new topic.
	HydrationTimeout time.Duration

	// SweepInterval is how often unwatched cache entries past retention are
	// evicted. 0 disables sweeping.
	SweepInterval time.Duration

	// EventBuffer is the capacity of the Events channel. Events are dropped,
	// not blocked on, when it is full.
	EventBuffer int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Transport:        connection.DefaultTransportConfig(),
		Breaker:          breaker.DefaultConfig(),
		Mux:              mux.DefaultConfig(),
		Batcher:          batcher.DefaultConfig(),
		Cache:            cache.DefaultConfig(),
		OrderBook:        orderbook.DefaultConfig(),
		Refresh:          poller.DefaultConfig(),
		HydrationTimeout: 10 * time.Second,
		SweepInterval:    time.Minute,
		EventBuffer:      64,
	}
}
