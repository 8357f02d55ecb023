package market

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/marketsync/internal/api"
	"github.com/rickgao/marketsync/internal/model"
)

// Lister pages through a venue's instruments. An empty venue lists all.
type Lister interface {
	GetAllInstruments(ctx context.Context, venue string) ([]api.Listing, error)
}

// Config holds registry configuration.
type Config struct {
	ReconcileInterval  time.Duration
	InitialLoadTimeout time.Duration
	Venues             []string // Empty lists every venue in one pass
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval:  5 * time.Minute,
		InitialLoadTimeout: 30 * time.Second,
	}
}

// ChangeKind says what happened to an instrument between two listings.
type ChangeKind string

const (
	ChangeListed   ChangeKind = "listed"
	ChangeDelisted ChangeKind = "delisted"
	ChangeStatus   ChangeKind = "status_change"
)

// Change is one difference found by a reconcile.
type Change struct {
	Topic     model.Topic
	Kind      ChangeKind
	OldStatus string
	NewStatus string
}

const changeBuffer = 256

// Registry holds the latest instrument listing.
type Registry struct {
	cfg    Config
	lister Lister
	logger *slog.Logger

	mu          sync.RWMutex
	instruments map[model.Topic]string // topic → status
	lastSyncAt  time.Time

	changes chan Change

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a registry. Zero config fields take defaults.
func NewRegistry(cfg Config, lister Lister, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = def.ReconcileInterval
	}
	if cfg.InitialLoadTimeout <= 0 {
		cfg.InitialLoadTimeout = def.InitialLoadTimeout
	}

	return &Registry{
		cfg:         cfg,
		lister:      lister,
		logger:      logger,
		instruments: make(map[model.Topic]string),
		changes:     make(chan Change, changeBuffer),
	}
}

// Start loads the listing (blocking) and begins background reconciliation.
func (r *Registry) Start(ctx context.Context) error {
	loadCtx, cancel := context.WithTimeout(ctx, r.cfg.InitialLoadTimeout)
	defer cancel()

	start := time.Now()
	listings, err := r.list(loadCtx)
	if err != nil {
		return fmt.Errorf("initial instrument load: %w", err)
	}
	r.apply(listings, false)

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.reconciliationLoop()
	}()

	r.logger.Info("instrument registry started",
		"instruments", len(listings),
		"duration", time.Since(start),
	)
	return nil
}

// Stop gracefully shuts down.
func (r *Registry) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("instrument registry stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns an instrument's listed status.
func (r *Registry) Status(topic model.Topic) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.instruments[topic]
	return s, ok
}

// Active reports whether topic is listed and tradable.
func (r *Registry) Active(topic model.Topic) bool {
	s, ok := r.Status(topic)
	return ok && isActive(s)
}

// Unlisted returns the topics from the input that are not active.
func (r *Registry) Unlisted(topics []model.Topic) []model.Topic {
	var out []model.Topic
	for _, t := range topics {
		if !r.Active(t) {
			out = append(out, t)
		}
	}
	return out
}

// Instruments returns every listed topic, sorted.
func (r *Registry) Instruments() []model.Topic {
	r.mu.RLock()
	topics := make([]model.Topic, 0, len(r.instruments))
	for t := range r.instruments {
		topics = append(topics, t)
	}
	r.mu.RUnlock()

	sort.Slice(topics, func(i, j int) bool {
		return topics[i].String() < topics[j].String()
	})
	return topics
}

// Changes returns a channel of listing changes found by reconciliation.
// Changes are dropped when the channel is full.
func (r *Registry) Changes() <-chan Change {
	return r.changes
}

// LastSync returns when the listing was last refreshed successfully.
func (r *Registry) LastSync() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSyncAt
}

func isActive(status string) bool {
	switch status {
	case "active", "open", "trading":
		return true
	}
	return false
}
