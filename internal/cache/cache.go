package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rickgao/marketsync/internal/model"
)

// ErrNoSnapshot is returned by ReadFresh for a topic that was never written.
var ErrNoSnapshot = errors.New("no snapshot")

// StaleDataError reports that the cached value is older than a caller's
// freshness bound, or was marked stale after a reconnect.
type StaleDataError struct {
	Topic  model.Topic
	Age    time.Duration
	MaxAge time.Duration
	Marked bool
}

func (e *StaleDataError) Error() string {
	if e.Marked {
		return fmt.Sprintf("stale data for %s: awaiting update after reconnect", e.Topic)
	}
	return fmt.Sprintf("stale data for %s: age %s exceeds %s", e.Topic, e.Age.Round(time.Millisecond), e.MaxAge)
}

// Config configures a Cache.
type Config struct {
	DefaultTTL time.Duration
	TTL        map[model.Class]time.Duration // Per-class override of DefaultTTL
	Retention  time.Duration                 // Sweep evicts unwatched entries older than this
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 30 * time.Second,
		TTL: map[model.Class]time.Duration{
			model.ClassBook:      5 * time.Second,
			model.ClassTicker:    10 * time.Second,
			model.ClassReference: 10 * time.Minute,
		},
		Retention: 15 * time.Minute,
	}
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

type entry struct {
	snap   model.Snapshot
	marked bool
}

// Cache holds the last known value per topic.
type Cache struct {
	cfg Config
	now func() time.Time

	mu      sync.RWMutex
	entries map[model.Topic]*entry

	evicted int64
}

// New creates a Cache.
func New(cfg Config, opts ...Option) *Cache {
	c := &Cache{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[model.Topic]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the time-to-live for a class.
func (c *Cache) TTL(class model.Class) time.Duration {
	if ttl, ok := c.cfg.TTL[class]; ok {
		return ttl
	}
	return c.cfg.DefaultTTL
}

// Write stores a scalar payload and clears any stale mark.
func (c *Cache) Write(topic model.Topic, class model.Class, payload json.RawMessage) model.Snapshot {
	return c.put(model.Snapshot{
		Topic:   topic,
		Class:   class,
		Payload: append(json.RawMessage(nil), payload...),
	})
}

// WriteBook stores an order book state and clears any stale mark.
func (c *Cache) WriteBook(topic model.Topic, state model.BookState) model.Snapshot {
	return c.put(model.Snapshot{
		Topic: topic,
		Class: model.ClassBook,
		Book:  &state,
	})
}

func (c *Cache) put(snap model.Snapshot) model.Snapshot {
	snap.ReceivedAt = c.now()

	c.mu.Lock()
	c.entries[snap.Topic] = &entry{snap: snap}
	c.mu.Unlock()

	return snap
}

// Read returns the cached value. Stale is set when the entry was marked
// stale or is older than its class TTL. ok is false for unknown topics.
func (c *Cache) Read(topic model.Topic) (model.Snapshot, bool) {
	c.mu.RLock()
	e, ok := c.entries[topic]
	c.mu.RUnlock()
	if !ok {
		return model.Snapshot{Topic: topic}, false
	}
	return c.view(e), true
}

// ReadFresh returns the cached value only if it is unmarked and no older
// than maxAge.
func (c *Cache) ReadFresh(topic model.Topic, maxAge time.Duration) (model.Snapshot, error) {
	c.mu.RLock()
	e, ok := c.entries[topic]
	c.mu.RUnlock()
	if !ok {
		return model.Snapshot{Topic: topic}, fmt.Errorf("%s: %w", topic, ErrNoSnapshot)
	}

	snap := c.view(e)
	age := c.now().Sub(snap.ReceivedAt)
	if e.marked || age > maxAge {
		return snap, &StaleDataError{Topic: topic, Age: age, MaxAge: maxAge, Marked: e.marked}
	}
	return snap, nil
}

// view must be called without the write lock held.
func (c *Cache) view(e *entry) model.Snapshot {
	c.mu.RLock()
	snap, marked := e.snap, e.marked
	c.mu.RUnlock()

	snap.Stale = marked || c.now().Sub(snap.ReceivedAt) > c.TTL(snap.Class)
	if snap.Book != nil {
		book := *snap.Book
		snap.Book = &book
	}
	return snap
}

// MarkStale flags existing entries as stale until their next write.
// Unknown topics are ignored. It returns how many entries were marked.
func (c *Cache) MarkStale(topics ...model.Topic) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range topics {
		if e, ok := c.entries[t]; ok {
			e.marked = true
			n++
		}
	}
	return n
}

// Sweep evicts entries older than the retention period unless watched
// reports the topic still has subscribers. It returns the number evicted.
func (c *Cache) Sweep(watched func(model.Topic) bool) int {
	if c.cfg.Retention <= 0 {
		return 0
	}
	cutoff := c.now().Add(-c.cfg.Retention)

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for t, e := range c.entries {
		if e.snap.ReceivedAt.After(cutoff) {
			continue
		}
		if watched != nil && watched(t) {
			continue
		}
		delete(c.entries, t)
		n++
	}
	c.evicted += int64(n)
	return n
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Entries int
	Marked  int
	Evicted int64
}

// Stats returns current statistics.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Entries: len(c.entries), Evicted: c.evicted}
	for _, e := range c.entries {
		if e.marked {
			s.Marked++
		}
	}
	return s
}
