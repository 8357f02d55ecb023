package mux

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/marketsync/internal/model"
)

// Upstream issues subscribe/unsubscribe commands to the exchange.
type Upstream interface {
	Subscribe(topics []model.Topic) error
	Unsubscribe(topics []model.Topic) error
}

// Subscriber is a pair of callbacks. OnError may be nil.
type Subscriber struct {
	OnUpdate func(model.Update)
	OnError  func(error)
}

// Handle identifies one registration; pass it to Unsubscribe.
type Handle struct {
	ID    uuid.UUID
	Topic model.Topic
}

// Registration is one subscriber of a topic.
type Registration struct {
	Handle
	Subscriber
}

// Config configures a Mux.
type Config struct {
	MaxTopicsPerCommand int // Resubscribe batch size, 0 = one command
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxTopicsPerCommand: 100}
}

// entry is a topic's subscriber table. Its ref count is len(subs); an entry
// exists only while that is positive.
type entry struct {
	subs []Registration
}

// Stats is a point-in-time view of the multiplexer.
type Stats struct {
	Topics               int
	Subscribers          int
	UpstreamSubscribes   int64
	UpstreamUnsubscribes int64
	Rollbacks            int64
}

// Mux ref-counts local subscribers per topic so the upstream sees exactly
// one subscribe and one unsubscribe per topic lifetime.
type Mux struct {
	cfg      Config
	upstream Upstream
	logger   *slog.Logger

	// cmdMu serializes ref-count transitions with their upstream commands.
	cmdMu sync.Mutex

	mu      sync.RWMutex
	entries map[model.Topic]*entry
	stats   Stats
}

// New creates a Mux.
func New(cfg Config, upstream Upstream, logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mux{
		cfg:      cfg,
		upstream: upstream,
		logger:   logger,
		entries:  make(map[model.Topic]*entry),
	}
}

// Subscribe registers sub for topic. The first subscriber of a topic causes
// one upstream subscribe; if that fails the registration is rolled back and
// the error returned.
func (m *Mux) Subscribe(topic model.Topic, sub Subscriber) (Handle, error) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	h := Handle{ID: uuid.New(), Topic: topic}

	m.mu.Lock()
	e, ok := m.entries[topic]
	if !ok {
		e = &entry{}
		m.entries[topic] = e
	}
	e.subs = append(e.subs, Registration{Handle: h, Subscriber: sub})
	first := len(e.subs) == 1
	m.mu.Unlock()

	if !first {
		return h, nil
	}

	if err := m.upstream.Subscribe([]model.Topic{topic}); err != nil {
		m.mu.Lock()
		m.remove(h)
		m.stats.Rollbacks++
		m.mu.Unlock()

		m.logger.Warn("upstream subscribe failed", "topic", topic, "error", err)
		return Handle{}, err
	}

	m.mu.Lock()
	m.stats.UpstreamSubscribes++
	m.mu.Unlock()

	m.logger.Debug("subscribed upstream", "topic", topic)
	return h, nil
}

// Unsubscribe removes a registration. Unknown handles are a no-op. When the
// last subscriber leaves, the topic entry is dropped and one upstream
// unsubscribe is sent; its error is returned but the local removal stands.
func (m *Mux) Unsubscribe(h Handle) error {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	m.mu.Lock()
	found, last := m.remove(h)
	m.mu.Unlock()

	if !found || !last {
		return nil
	}

	err := m.upstream.Unsubscribe([]model.Topic{h.Topic})
	if err != nil {
		m.logger.Warn("upstream unsubscribe failed", "topic", h.Topic, "error", err)
		return err
	}

	m.mu.Lock()
	m.stats.UpstreamUnsubscribes++
	m.mu.Unlock()

	m.logger.Debug("unsubscribed upstream", "topic", h.Topic)
	return nil
}

// remove deletes a registration. Must be called with mu held.
func (m *Mux) remove(h Handle) (found, last bool) {
	e, ok := m.entries[h.Topic]
	if !ok {
		return false, false
	}
	for i, r := range e.subs {
		if r.ID != h.ID {
			continue
		}
		e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
		if len(e.subs) == 0 {
			delete(m.entries, h.Topic)
			return true, true
		}
		return true, false
	}
	return false, false
}

// Resubscribe re-issues upstream subscribes for every topic with at least
// one subscriber, batched by MaxTopicsPerCommand. It returns the topics it
// covered, sorted, and any command errors joined.
func (m *Mux) Resubscribe() ([]model.Topic, error) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	topics := m.Topics()
	if len(topics) == 0 {
		return nil, nil
	}

	size := m.cfg.MaxTopicsPerCommand
	if size <= 0 {
		size = len(topics)
	}

	var errs []error
	for start := 0; start < len(topics); start += size {
		end := min(start+size, len(topics))
		if err := m.upstream.Subscribe(topics[start:end]); err != nil {
			errs = append(errs, err)
			continue
		}
		m.mu.Lock()
		m.stats.UpstreamSubscribes += int64(end - start)
		m.mu.Unlock()
	}

	m.logger.Info("resubscribed topics", "count", len(topics), "failed_batches", len(errs))
	return topics, errors.Join(errs...)
}

// Subscribers returns a copy of a topic's registrations in subscribe order.
// Callers iterate the copy, so callbacks may subscribe or unsubscribe freely.
func (m *Mux) Subscribers(topic model.Topic) []Registration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[topic]
	if !ok {
		return nil
	}
	return append([]Registration(nil), e.subs...)
}

// Topics returns every topic with a positive ref count, sorted.
func (m *Mux) Topics() []model.Topic {
	m.mu.RLock()
	topics := make([]model.Topic, 0, len(m.entries))
	for t := range m.entries {
		topics = append(topics, t)
	}
	m.mu.RUnlock()

	sort.Slice(topics, func(i, j int) bool {
		return topics[i].String() < topics[j].String()
	})
	return topics
}

// RefCount returns the number of subscribers of a topic.
func (m *Mux) RefCount(topic model.Topic) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[topic]; ok {
		return len(e.subs)
	}
	return 0
}

// Watched reports whether a topic has any subscriber.
func (m *Mux) Watched(topic model.Topic) bool {
	return m.RefCount(topic) > 0
}

// Stats returns current statistics.
func (m *Mux) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.stats
	s.Topics = len(m.entries)
	for _, e := range m.entries {
		s.Subscribers += len(e.subs)
	}
	return s
}
