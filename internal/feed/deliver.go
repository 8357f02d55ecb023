package feed

import (
	"context"
	"errors"

	"github.com/rickgao/marketsync/internal/batcher"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/mux"
	"github.com/rickgao/marketsync/internal/wire"
)

// flush applies one topic's batch and delivers the result. Order-book items
// are applied in arrival order; the scalar item, if any, is already the
// latest one. A hydrated item is dropped once live data has won: the cache
// holds a fresh value or a live book update precedes it in this batch.
func (c *Client) flush(topic model.Topic, items []item) {
	var (
		state     model.BookState
		book      bool
		liveBook  bool
		bookSrc   model.Source
		scalar    *model.Snapshot
		scalarSrc model.Source
		applied   int
	)

	for _, it := range items {
		src := model.SourceLive
		if it.hydrated {
			if liveBook || c.holdsFresh(topic) {
				c.logger.Debug("hydrated snapshot superseded by live data", "topic", topic)
				continue
			}
			src = model.SourceHydration
		}

		var (
			next model.BookState
			err  error
		)
		switch {
		case it.level != nil:
			next, err = c.books.ApplyLevel(topic, it.level.Side, it.level.Price, it.level.Size)
		case it.book != nil:
			next, err = c.books.ApplySnapshot(topic, it.book.Bids, it.book.Asks)
		case it.hydrated:
			snap := c.cache.Write(topic, it.scalar.Class, it.scalar.Payload)
			scalar, scalarSrc = &snap, src
			c.hydrations.Add(1)
			continue
		default:
			scalar, scalarSrc = it.scalar, src
			continue
		}
		if err != nil {
			c.invalidPayloads.Add(1)
			c.logger.Warn("rejected book update", "topic", topic, "error", err)
			continue
		}
		state, book, bookSrc = next, true, src
		if it.hydrated {
			c.hydrations.Add(1)
		} else {
			liveBook = true
		}
		applied++
	}

	if book {
		snap := c.cache.WriteBook(topic, state)
		c.deliver(topic, model.Update{Snapshot: snap, Source: bookSrc})
	}
	if scalar != nil {
		c.deliver(topic, model.Update{Snapshot: *scalar, Source: scalarSrc})
	}

	c.logger.Debug("flushed batch", "topic", topic, "items", len(items), "book_updates", applied)
}

// holdsFresh reports whether the cache has an unexpired, unmarked value.
func (c *Client) holdsFresh(topic model.Topic) bool {
	snap, ok := c.cache.Read(topic)
	return ok && !snap.Stale
}

// deliver calls every current subscriber of topic once. The subscriber list
// is a copy, so callbacks may subscribe or unsubscribe. Updates share their
// book slices and must be treated as read-only.
func (c *Client) deliver(topic model.Topic, u model.Update) {
	for _, r := range c.mux.Subscribers(topic) {
		c.call(r, u)
	}
}

func (c *Client) call(r mux.Registration, u model.Update) {
	defer func() {
		if v := recover(); v != nil {
			c.callbackPanics.Add(1)
			c.logger.Error("subscriber callback panicked",
				"topic", r.Topic,
				"subscriber", r.ID,
				"panic", v,
			)
		}
	}()
	c.deliveries.Add(1)
	r.OnUpdate(u)
}

func (c *Client) callError(r mux.Registration, err error) {
	if r.OnError == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			c.callbackPanics.Add(1)
			c.logger.Error("subscriber error callback panicked",
				"topic", r.Topic,
				"subscriber", r.ID,
				"panic", v,
			)
		}
	}()
	r.OnError(err)
}

// hydrate fetches a snapshot for a newly subscribed topic in the background.
func (c *Client) hydrate(topic model.Topic) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()

		ctx := c.ctx
		if c.cfg.HydrationTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.HydrationTimeout)
			defer cancel()
		}

		frame, err := hydrator{c}.Fetch(ctx, topic)
		if err != nil {
			c.logger.Warn("hydration failed", "topic", topic, "error", err)
			return
		}
		if err := c.applyHydrated(frame); err != nil && !errors.Is(err, batcher.ErrClosed) {
			c.logger.Warn("hydration rejected", "topic", topic, "error", err)
		}
	}()
}

// applyHydrated queues a fetched snapshot behind any pending live frames
// for its topic, unless the topic is no longer subscribed or live data
// already holds a fresh value.
func (c *Client) applyHydrated(frame *wire.DataFrame) error {
	topic := frame.Topic
	if !c.mux.Watched(topic) || c.holdsFresh(topic) {
		return nil
	}

	p, err := wire.ParsePayload(frame.Payload)
	if err != nil {
		c.invalidPayloads.Add(1)
		return err
	}

	it := item{hydrated: true}
	switch {
	case p.Level != nil:
		it.level = p.Level
	case p.Book != nil:
		it.book = p.Book
	default:
		it.scalar = &model.Snapshot{Topic: topic, Class: p.Class, Payload: p.Raw}
	}
	return c.batcher.Enqueue(topic, it, false)
}

// hydrator deduplicates concurrent fetches of the same topic. It serves both
// subscribe-time hydration and the stale refresher.
type hydrator struct {
	c *Client
}

func (h hydrator) Fetch(ctx context.Context, topic model.Topic) (*wire.DataFrame, error) {
	v, err, _ := h.c.fetches.Do(topic.String(), func() (any, error) {
		return h.c.source.Fetch(ctx, topic)
	})
	if err != nil {
		return nil, err
	}
	return v.(*wire.DataFrame), nil
}
