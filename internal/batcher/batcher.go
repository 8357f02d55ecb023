package batcher

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/marketsync/internal/model"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("batcher closed")

// Config configures a Batcher.
type Config struct {
	Window         time.Duration // Coalescing window; 0 delivers every item at once
	BurstThreshold int           // Pending count above which a topic flushes early, 0 disables
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Window:         50 * time.Millisecond,
		BurstThreshold: 50,
	}
}

// FlushFunc receives one topic's coalesced items in arrival order. Calls
// for the same topic never overlap. It must not Enqueue to the same topic.
type FlushFunc[T any] func(topic model.Topic, items []T)

type pending[T any] struct {
	item     T
	coalesce bool
}

// topicQueue is one topic's pending window.
type topicQueue[T any] struct {
	flushMu sync.Mutex // held while draining and delivering

	items []pending[T]
	timer *time.Timer
	gen   uint64 // bumped on every drain so late timers can tell
}

// Batcher coalesces per-topic items into bounded-rate flushes.
type Batcher[T any] struct {
	cfg    Config
	flush  FlushFunc[T]
	logger *slog.Logger

	mu     sync.Mutex
	topics map[model.Topic]*topicQueue[T]
	closed bool

	stats Stats
}

// Stats counts batcher activity.
type Stats struct {
	Enqueued     int64
	Coalesced    int64 // Items replaced by a later latest-wins item
	Flushes      int64
	BurstFlushes int64
}

// New creates a Batcher.
func New[T any](cfg Config, flush FlushFunc[T], logger *slog.Logger) *Batcher[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher[T]{
		cfg:    cfg,
		flush:  flush,
		logger: logger,
		topics: make(map[model.Topic]*topicQueue[T]),
	}
}

// Enqueue adds an item to the topic's window. A coalescing item replaces any
// earlier coalescing item still pending (latest wins); other items are kept
// in arrival order. A topic whose pending count exceeds the burst threshold
// is flushed before Enqueue returns.
func (b *Batcher[T]) Enqueue(topic model.Topic, item T, coalesce bool) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	q, ok := b.topics[topic]
	if !ok {
		q = &topicQueue[T]{}
		b.topics[topic] = q
	}

	if coalesce {
		kept := q.items[:0]
		for _, p := range q.items {
			if p.coalesce {
				b.stats.Coalesced++
				continue
			}
			kept = append(kept, p)
		}
		q.items = kept
	}
	q.items = append(q.items, pending[T]{item: item, coalesce: coalesce})
	b.stats.Enqueued++

	immediate := b.cfg.Window <= 0
	burst := b.cfg.BurstThreshold > 0 && len(q.items) > b.cfg.BurstThreshold
	if !immediate && !burst && q.timer == nil {
		gen := q.gen
		q.timer = time.AfterFunc(b.cfg.Window, func() {
			b.flushTopic(topic, q, &gen, false)
		})
	}
	b.mu.Unlock()

	if immediate || burst {
		b.flushTopic(topic, q, nil, burst)
	}
	return nil
}

// Flush delivers a topic's pending items now, on the caller's goroutine.
func (b *Batcher[T]) Flush(topic model.Topic) {
	b.mu.Lock()
	q, ok := b.topics[topic]
	b.mu.Unlock()
	if ok {
		b.flushTopic(topic, q, nil, false)
	}
}

// FlushAll delivers every topic's pending items now.
func (b *Batcher[T]) FlushAll() {
	b.mu.Lock()
	queues := make(map[model.Topic]*topicQueue[T], len(b.topics))
	for t, q := range b.topics {
		queues[t] = q
	}
	b.mu.Unlock()

	for t, q := range queues {
		b.flushTopic(t, q, nil, false)
	}
}

// Close stops all timers. Pending items are dropped; call FlushAll first
// to deliver them.
func (b *Batcher[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, q := range b.topics {
		if q.timer != nil {
			q.timer.Stop()
			q.timer = nil
		}
		q.gen++
		q.items = nil
	}
}

// Pending returns the number of items waiting for a topic.
func (b *Batcher[T]) Pending(topic model.Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.topics[topic]; ok {
		return len(q.items)
	}
	return 0
}

// Stats returns current statistics.
func (b *Batcher[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// flushTopic drains and delivers one topic. gen is set for timer-driven
// flushes and makes a timer from an earlier window a no-op.
func (b *Batcher[T]) flushTopic(topic model.Topic, q *topicQueue[T], gen *uint64, burst bool) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	b.mu.Lock()
	if gen != nil && *gen != q.gen {
		b.mu.Unlock()
		return
	}
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.gen++
	drained := q.items
	q.items = nil
	if len(drained) > 0 {
		b.stats.Flushes++
		if burst {
			b.stats.BurstFlushes++
		}
	}
	b.mu.Unlock()

	if len(drained) == 0 {
		return
	}

	items := make([]T, len(drained))
	for i, p := range drained {
		items[i] = p.item
	}

	if burst {
		b.logger.Debug("burst flush", "topic", topic, "items", len(items))
	}
	b.flush(topic, items)
}
