package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/wire"
)

// TopicSource provides the topics to refresh on each cycle.
type TopicSource interface {
	StaleTopics() []model.Topic
}

// TopicSourceFunc is a function adapter for TopicSource.
type TopicSourceFunc func() []model.Topic

func (f TopicSourceFunc) StaleTopics() []model.Topic {
	return f()
}

// Fetcher retrieves the latest snapshot for a topic.
type Fetcher interface {
	Fetch(ctx context.Context, topic model.Topic) (*wire.DataFrame, error)
}

// SnapshotHandler receives fetched snapshots.
type SnapshotHandler interface {
	HandleSnapshot(frame *wire.DataFrame) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(*wire.DataFrame) error

func (f SnapshotHandlerFunc) HandleSnapshot(frame *wire.DataFrame) error {
	return f(frame)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Refresh interval (default: 30s)
	Concurrency int           // Max concurrent fetches (default: 8)
	Timeout     time.Duration // Per-fetch timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Concurrency: 8,
		Timeout:     10 * time.Second,
	}
}

// Stats is a point-in-time view of the poller.
type Stats struct {
	Cycles    int64
	Refreshed int64
	Errors    int64
}

// Poller periodically refreshes stale topics from a snapshot source while
// the stream cannot deliver them.
type Poller struct {
	cfg     Config
	fetcher Fetcher
	topics  TopicSource
	handler SnapshotHandler
	logger  *slog.Logger

	trigger chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles, refreshed, errors atomic.Int64
}

// New creates a new Poller.
func New(cfg Config, fetcher Fetcher, topics TopicSource, handler SnapshotHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		topics:  topics,
		handler: handler,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// Start begins the refresh loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("stale refresher started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("stale refresher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests a cycle as soon as possible. Requests made while one is
// already pending are merged.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Stats returns current statistics.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:    p.cycles.Load(),
		Refreshed: p.refreshed.Load(),
		Errors:    p.errors.Load(),
	}
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.refreshAll()
		case <-p.trigger:
			p.refreshAll()
		}
	}
}

// refreshAll fetches every stale topic with bounded concurrency. A failed
// topic does not abort the others.
func (p *Poller) refreshAll() {
	p.cycles.Add(1)

	topics := p.topics.StaleTopics()
	if len(topics) == 0 {
		return
	}

	start := time.Now()
	var fetched, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Concurrency)

	for _, topic := range topics {
		if p.ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := p.refresh(topic); err != nil {
				p.logger.Warn("failed to refresh topic",
					"topic", topic,
					"error", err,
				)
				failed.Add(1)
				return nil
			}
			fetched.Add(1)
			return nil
		})
	}
	g.Wait()

	p.refreshed.Add(fetched.Load())
	p.errors.Add(failed.Load())

	p.logger.Info("refresh cycle complete",
		"topics", len(topics),
		"fetched", fetched.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

func (p *Poller) refresh(topic model.Topic) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	frame, err := p.fetcher.Fetch(ctx, topic)
	if err != nil {
		return err
	}

	if p.handler != nil {
		return p.handler.HandleSnapshot(frame)
	}
	return nil
}
