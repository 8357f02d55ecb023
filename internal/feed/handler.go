package feed

import (
	"time"

	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/wire"
)

// handler receives transport callbacks on the transport's goroutine.
type handler struct {
	c *Client
}

func (h handler) OnOpen() {
	c := h.c

	c.mu.Lock()
	reconnect := c.opened
	c.opened = true
	c.resubPending = false
	c.mu.Unlock()

	if !reconnect {
		c.logger.Info("stream connected")
		c.emit(Event{Kind: EventConnected})
		return
	}

	// Books missed every delta during the outage; rebuild them from the
	// resubscribed stream.
	books := c.books.Topics()
	for _, t := range books {
		c.books.Reset(t)
	}

	topics := c.mux.Topics()
	marked := c.cache.MarkStale(topics...)
	c.logger.Info("stream reconnected", "topics", len(topics), "marked_stale", marked, "books_reset", len(books))
	c.emit(Event{Kind: EventReconnected})

	c.resubscribe()
}

func (h handler) OnFrame(frame wire.Frame, receivedAt time.Time) {
	c := h.c

	switch f := frame.(type) {
	case *wire.DataFrame:
		c.lastFrame.Store(receivedAt.UnixNano())
		c.route(f)
	case *wire.ErrorFrame:
		c.upstreamError(f)
	case *wire.AckFrame:
		c.logger.Debug("control ack", "op", f.Op, "topics", len(f.Topics))
	case *wire.HeartbeatFrame:
		// Consumed by the transport.
	}
}

func (h handler) OnClose(reason error) {
	c := h.c

	topics := c.mux.Topics()
	// Deliver what arrived before the drop, then flag it.
	for _, t := range topics {
		c.batcher.Flush(t)
	}
	c.cache.MarkStale(topics...)
	c.logger.Warn("stream disconnected", "error", reason, "topics", len(topics))
	c.emit(Event{Kind: EventDisconnected, Err: reason})

	if c.refresher != nil {
		c.refresher.Trigger()
	}
}

func (h handler) OnFatal(err *connection.TransportError) {
	c := h.c

	c.mu.Lock()
	c.fatal = true
	c.mu.Unlock()

	c.logger.Error("stream failed permanently", "error", err)
	for _, t := range c.mux.Topics() {
		for _, r := range c.mux.Subscribers(t) {
			c.callError(r, err)
		}
	}
	c.emit(Event{Kind: EventFatal, Err: err})
}

// route hands a data frame for a subscribed topic to the batcher. Scalar
// payloads are cached on arrival; order-book payloads are applied and cached
// when their batch flushes.
func (c *Client) route(f *wire.DataFrame) {
	if !c.mux.Watched(f.Topic) {
		c.unrouted.Add(1)
		return
	}

	p, err := wire.ParsePayload(f.Payload)
	if err != nil {
		c.invalidPayloads.Add(1)
		c.logger.Warn("dropping invalid payload", "topic", f.Topic, "error", err)
		return
	}

	var (
		it       item
		coalesce bool
	)
	switch {
	case p.Level != nil:
		it.level = p.Level
	case p.Book != nil:
		it.book = p.Book
	default:
		snap := c.cache.Write(f.Topic, p.Class, p.Raw)
		it.scalar = &snap
		coalesce = true
	}

	if err := c.batcher.Enqueue(f.Topic, it, coalesce); err != nil {
		c.logger.Debug("batcher closed, dropping frame", "topic", f.Topic)
	}
}

func (c *Client) upstreamError(f *wire.ErrorFrame) {
	c.upstreamErrors.Add(1)

	err := &UpstreamError{Topic: f.Topic, Code: f.Code, Message: f.Message}
	c.logger.Warn("upstream error", "code", f.Code, "message", f.Message, "topic", f.Topic)

	if f.HasTopic() {
		for _, r := range c.mux.Subscribers(f.Topic) {
			c.callError(r, err)
		}
	}
	c.emit(Event{Kind: EventUpstreamError, Err: err})
}

// resubscribe restores every subscribed topic after a reconnect. A breaker
// rejection leaves it pending for the maintenance loop.
func (c *Client) resubscribe() {
	topics, err := c.mux.Resubscribe()
	if err != nil {
		c.mu.Lock()
		c.resubPending = true
		c.mu.Unlock()
		c.logger.Warn("resubscribe failed, will retry", "error", err)
		return
	}
	if len(topics) > 0 {
		c.emit(Event{Kind: EventResubscribed, Topics: topics})
	}
}

func (c *Client) retryResubscribe() {
	c.mu.Lock()
	pending := c.resubPending
	c.resubPending = false
	c.mu.Unlock()

	if !pending {
		return
	}
	if c.transport.State() != connection.StateConnected {
		// The next OnOpen resubscribes anyway.
		return
	}
	c.resubscribe()
}

// upstream sends control commands through the breaker.
type upstream struct {
	c *Client
}

func (u upstream) Subscribe(topics []model.Topic) error {
	return u.send(wire.OpSubscribe, topics)
}

func (u upstream) Unsubscribe(topics []model.Topic) error {
	return u.send(wire.OpUnsubscribe, topics)
}

func (u upstream) send(op wire.Op, topics []model.Topic) error {
	data, err := wire.EncodeCommand(op, topics)
	if err != nil {
		return err
	}
	return u.c.breaker.Execute(func() error {
		return u.c.transport.Send(data)
	})
}
