package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/marketsync/internal/batcher"
	"github.com/rickgao/marketsync/internal/breaker"
	"github.com/rickgao/marketsync/internal/cache"
	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/mux"
	"github.com/rickgao/marketsync/internal/orderbook"
	"github.com/rickgao/marketsync/internal/poller"
	"github.com/rickgao/marketsync/internal/wire"
)

// Source provides the latest stored frame for a topic. It hydrates new
// topics before stream data lands and refreshes stale ones while the stream
// is unavailable.
type Source interface {
	Fetch(ctx context.Context, topic model.Topic) (*wire.DataFrame, error)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSource enables hydration and stale refresh from src.
func WithSource(src Source) Option {
	return func(c *Client) {
		c.source = src
	}
}

// WithClock replaces time.Now in the cache, order book and breaker.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithClientFactory replaces the WebSocket client constructor.
func WithClientFactory(f connection.ClientFactory) Option {
	return func(c *Client) {
		c.newClient = f
	}
}

// item is one data frame waiting in the batcher. Exactly one of level, book
// or scalar is set. Hydrated items come from the snapshot source; their
// scalar is not cached until the flush accepts it.
type item struct {
	level    *wire.LevelDelta
	book     *wire.BookPayload
	scalar   *model.Snapshot
	hydrated bool
}

// Client is one independent market data pipeline: a connection, its
// subscriptions, caches and delivery timers.
type Client struct {
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	source    Source
	newClient connection.ClientFactory

	transport *connection.Transport
	breaker   *breaker.Breaker
	mux       *mux.Mux
	batcher   *batcher.Batcher[item]
	cache     *cache.Cache
	books     *orderbook.Aggregator
	refresher *poller.Poller // nil without a Source
	fetches   singleflight.Group

	events chan Event

	mu           sync.Mutex
	started      bool
	closed       bool
	eventsClosed bool
	opened       bool // first OnOpen seen
	fatal        bool
	resubPending bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastFrame       atomic.Int64 // unix nanos
	deliveries      atomic.Int64
	callbackPanics  atomic.Int64
	unrouted        atomic.Int64
	invalidPayloads atomic.Int64
	upstreamErrors  atomic.Int64
	hydrations      atomic.Int64
	eventsDropped   atomic.Int64
}

// New creates a Client. It does not connect until Start.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Transport.Client.URL == "" {
		return nil, errors.New("transport url is required")
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}

	c := &Client{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		events: make(chan Event, cfg.EventBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	log := c.logger
	c.cache = cache.New(cfg.Cache, cache.WithClock(c.now))
	c.books = orderbook.New(cfg.OrderBook, orderbook.WithClock(c.now))
	c.breaker = breaker.New(cfg.Breaker,
		breaker.WithClock(c.now),
		breaker.WithLogger(log.With("component", "breaker")),
		breaker.WithStateChange(c.onBreakerChange),
	)
	c.mux = mux.New(cfg.Mux, upstream{c}, log.With("component", "mux"))
	c.batcher = batcher.New(cfg.Batcher, c.flush, log.With("component", "batcher"))

	topts := []connection.Option{connection.WithLogger(log.With("component", "transport"))}
	if c.newClient != nil {
		topts = append(topts, connection.WithClientFactory(c.newClient))
	}
	c.transport = connection.NewTransport(cfg.Transport, handler{c}, topts...)

	if c.source != nil {
		c.refresher = poller.New(cfg.Refresh,
			hydrator{c},
			poller.TopicSourceFunc(c.StaleTopics),
			poller.SnapshotHandlerFunc(c.applyHydrated),
			log.With("component", "refresher"),
		)
	}

	return c, nil
}

// Start connects in the background and starts the refresh and maintenance
// loops. Subscriptions made before Start are queued until the first connect.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.wg.Add(1)
	c.mu.Unlock()

	go c.maintain()

	if err := c.transport.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	if c.refresher != nil {
		if err := c.refresher.Start(c.ctx); err != nil {
			return fmt.Errorf("start refresher: %w", err)
		}
	}

	c.logger.Info("feed client started", "url", c.cfg.Transport.Client.URL, "hydration", c.source != nil)
	return nil
}

// Shutdown closes the connection, delivers pending batches, stops every
// timer and closes the Events channel. The client cannot be restarted.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.Info("shutting down feed client")

	var errs []error
	if err := c.transport.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop transport: %w", err))
	}

	c.batcher.FlushAll()
	c.batcher.Close()

	if c.refresher != nil {
		if err := c.refresher.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop refresher: %w", err))
		}
	}

	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	c.mu.Lock()
	c.eventsClosed = true
	close(c.events)
	c.mu.Unlock()

	c.logger.Info("feed client stopped")
	return errors.Join(errs...)
}

// Subscribe registers callbacks for a topic. onUpdate is required; onError
// may be nil. The first subscriber of a topic sends one upstream subscribe
// through the circuit breaker; a rejection is returned and nothing is
// registered. If the topic already has a cached value it is delivered to
// onUpdate before Subscribe returns, even when stale.
func (c *Client) Subscribe(topic model.Topic, onUpdate func(model.Update), onError func(error)) (mux.Handle, error) {
	if onUpdate == nil {
		return mux.Handle{}, ErrNilHandler
	}
	if err := c.checkTopic(topic); err != nil {
		return mux.Handle{}, err
	}
	if c.isClosed() {
		return mux.Handle{}, ErrClosed
	}

	sub := mux.Subscriber{OnUpdate: onUpdate, OnError: onError}
	h, err := c.mux.Subscribe(topic, sub)
	if err != nil {
		return mux.Handle{}, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	if snap, ok := c.cache.Read(topic); ok {
		c.call(mux.Registration{Handle: h, Subscriber: sub}, model.Update{Snapshot: snap, Source: model.SourceCache})
	} else if c.source != nil {
		c.hydrate(topic)
	}

	return h, nil
}

// Unsubscribe removes a registration. Unknown handles are a no-op. The last
// subscriber of a topic sends one upstream unsubscribe; its error is
// returned, but the local registration is gone either way. Cached state for
// the topic is kept until swept.
func (c *Client) Unsubscribe(h mux.Handle) error {
	if err := c.mux.Unsubscribe(h); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", h.Topic, err)
	}
	return nil
}

// Events returns the observability channel. It is closed by Shutdown.
func (c *Client) Events() <-chan Event {
	return c.events
}

// OrderBook returns the current aggregated book for a topic.
func (c *Client) OrderBook(topic model.Topic) (model.BookState, bool) {
	return c.books.State(topic)
}

// Snapshot returns the cached value for a topic, flagged stale if needed.
func (c *Client) Snapshot(topic model.Topic) (model.Snapshot, bool) {
	return c.cache.Read(topic)
}

// ReadFresh returns the cached value or a *cache.StaleDataError when it is
// older than maxAge or awaiting an update after a reconnect.
func (c *Client) ReadFresh(topic model.Topic, maxAge time.Duration) (model.Snapshot, error) {
	return c.cache.ReadFresh(topic, maxAge)
}

// Topics returns every topic with at least one subscriber.
func (c *Client) Topics() []model.Topic {
	return c.mux.Topics()
}

// StaleTopics returns subscribed topics whose cached value is stale, plus
// subscribed topics with no value at all while disconnected.
func (c *Client) StaleTopics() []model.Topic {
	connected := c.transport.State() == connection.StateConnected

	var stale []model.Topic
	for _, t := range c.mux.Topics() {
		snap, ok := c.cache.Read(t)
		if (ok && snap.Stale) || (!ok && !connected) {
			stale = append(stale, t)
		}
	}
	return stale
}

// Health returns a summary of the client's state.
func (c *Client) Health() Health {
	ts := c.transport.Stats()
	ms := c.mux.Stats()

	c.mu.Lock()
	fatal := c.fatal
	c.mu.Unlock()

	return Health{
		Connection:  ts.State,
		Breaker:     c.breaker.State(),
		Topics:      ms.Topics,
		Subscribers: ms.Subscribers,
		StaleTopics: c.StaleTopics(),
		Reconnects:  ts.Reconnects,
		Fatal:       fatal,
		LastFrame:   c.LastFrame(),
	}
}

// LastFrame returns when the last data frame arrived, zero if none has.
func (c *Client) LastFrame() time.Time {
	n := c.lastFrame.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Stats returns every component's counters.
func (c *Client) Stats() Stats {
	s := Stats{
		Transport:       c.transport.Stats(),
		Breaker:         c.breaker.Stats(),
		Mux:             c.mux.Stats(),
		Batcher:         c.batcher.Stats(),
		Cache:           c.cache.Stats(),
		Deliveries:      c.deliveries.Load(),
		CallbackPanics:  c.callbackPanics.Load(),
		UnroutedFrames:  c.unrouted.Load(),
		InvalidPayloads: c.invalidPayloads.Load(),
		UpstreamErrors:  c.upstreamErrors.Load(),
		Hydrations:      c.hydrations.Load(),
		EventsDropped:   c.eventsDropped.Load(),
	}
	if c.refresher != nil {
		s.Refresh = c.refresher.Stats()
	}
	return s
}

func (c *Client) checkTopic(topic model.Topic) error {
	if c.cfg.AllowUnknownVenues {
		_, err := model.ParseTopic(topic.String())
		return err
	}
	return topic.Validate()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// emit never blocks; a full channel drops the event.
func (c *Client) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.eventsDropped.Add(1)
	}
}

func (c *Client) onBreakerChange(from, to breaker.State) {
	c.logger.Warn("circuit breaker state change", "from", from, "to", to)
	c.emit(Event{Kind: EventBreakerChange, Breaker: to})
}

// maintain retries resubscribes the breaker rejected and sweeps the cache.
func (c *Client) maintain() {
	defer c.wg.Done()

	interval := c.cfg.Breaker.ResetTimeout
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastSweep := c.now()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.retryResubscribe()
			if c.cfg.SweepInterval > 0 && c.now().Sub(lastSweep) >= c.cfg.SweepInterval {
				c.sweep()
				lastSweep = c.now()
			}
		}
	}
}

// sweep evicts unwatched cache entries past retention and the books that
// belonged to them.
func (c *Client) sweep() {
	evicted := c.cache.Sweep(c.mux.Watched)

	dropped := 0
	for _, t := range c.books.Topics() {
		if c.mux.Watched(t) {
			continue
		}
		if _, ok := c.cache.Read(t); !ok {
			c.books.Drop(t)
			dropped++
		}
	}

	if evicted > 0 || dropped > 0 {
		c.logger.Debug("swept cache", "evicted", evicted, "books_dropped", dropped)
	}
}
