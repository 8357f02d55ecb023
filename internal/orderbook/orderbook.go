package orderbook

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/model"
)

// ErrInvalidLevel is returned for a non-positive price or a negative size.
var ErrInvalidLevel = errors.New("invalid order book level")

// DefaultMaxDepth is the default number of levels kept per side.
const DefaultMaxDepth = 50

// Config configures an Aggregator.
type Config struct {
	MaxDepth int // Levels kept per side; deeper levels are dropped
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxDepth: DefaultMaxDepth}
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces time.Now for LastUpdated stamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// ladder is one side of a book: a price-sorted map of price → size, best
// price first.
type ladder struct {
	t *treemap.Map
}

func newLadder(side model.Side) *ladder {
	cmp := func(a, b interface{}) int {
		return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
	}
	if side == model.SideBid {
		cmp = func(a, b interface{}) int {
			return b.(decimal.Decimal).Cmp(a.(decimal.Decimal))
		}
	}
	return &ladder{t: treemap.NewWith(cmp)}
}

// set upserts a level, or removes it when size is zero.
func (l *ladder) set(price, size decimal.Decimal) {
	if size.IsZero() {
		l.t.Remove(price)
		return
	}
	l.t.Put(price, size)
}

// trim drops the deepest levels until at most depth remain.
func (l *ladder) trim(depth int) {
	if depth <= 0 {
		return
	}
	for l.t.Size() > depth {
		deepest, _ := l.t.Max()
		l.t.Remove(deepest)
	}
}

// levels returns the ladder best-first along with its prefix sums.
func (l *ladder) levels() ([]model.Level, []decimal.Decimal) {
	levels := make([]model.Level, 0, l.t.Size())
	cumulative := make([]decimal.Decimal, 0, l.t.Size())
	total := decimal.Zero

	it := l.t.Iterator()
	for it.Next() {
		size := it.Value().(decimal.Decimal)
		total = total.Add(size)
		levels = append(levels, model.Level{Price: it.Key().(decimal.Decimal), Size: size})
		cumulative = append(cumulative, total)
	}
	return levels, cumulative
}

type book struct {
	bids  *ladder
	asks  *ladder
	state model.BookState
}

func newBook(topic model.Topic) *book {
	return &book{
		bids:  newLadder(model.SideBid),
		asks:  newLadder(model.SideAsk),
		state: model.BookState{Topic: topic},
	}
}

func (b *book) ladder(side model.Side) *ladder {
	if side == model.SideBid {
		return b.bids
	}
	return b.asks
}

// refresh rebuilds the cached state after a mutation.
func (b *book) refresh(at time.Time) {
	b.state.Bids, b.state.CumulativeBids = b.bids.levels()
	b.state.Asks, b.state.CumulativeAsks = b.asks.levels()
	b.state.LastUpdated = at
}

// Aggregator maintains sorted, depth-bounded books per topic.
type Aggregator struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	books map[model.Topic]*book
}

// New creates an Aggregator.
func New(cfg Config, opts ...Option) *Aggregator {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	a := &Aggregator{
		cfg:   cfg,
		now:   time.Now,
		books: make(map[model.Topic]*book),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ApplyLevel upserts one level (size zero removes it) and returns the
// resulting state.
func (a *Aggregator) ApplyLevel(topic model.Topic, side model.Side, price, size decimal.Decimal) (model.BookState, error) {
	if side != model.SideBid && side != model.SideAsk {
		return model.BookState{}, fmt.Errorf("%w: side %q", ErrInvalidLevel, side)
	}
	if err := checkLevel(price, size); err != nil {
		return model.BookState{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.book(topic)
	l := b.ladder(side)
	l.set(price, size)
	l.trim(a.cfg.MaxDepth)
	b.refresh(a.now())

	return copyState(b.state), nil
}

// ApplySnapshot replaces both sides of a book. Zero-size levels are skipped.
// Nothing changes if any level is invalid.
func (a *Aggregator) ApplySnapshot(topic model.Topic, bids, asks []model.Level) (model.BookState, error) {
	for _, lv := range bids {
		if err := checkLevel(lv.Price, lv.Size); err != nil {
			return model.BookState{}, fmt.Errorf("bids: %w", err)
		}
	}
	for _, lv := range asks {
		if err := checkLevel(lv.Price, lv.Size); err != nil {
			return model.BookState{}, fmt.Errorf("asks: %w", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	b := newBook(topic)
	for _, lv := range bids {
		b.bids.set(lv.Price, lv.Size)
	}
	for _, lv := range asks {
		b.asks.set(lv.Price, lv.Size)
	}
	b.bids.trim(a.cfg.MaxDepth)
	b.asks.trim(a.cfg.MaxDepth)
	b.refresh(a.now())
	a.books[topic] = b

	return copyState(b.state), nil
}

// State returns a copy of the topic's book. ok is false for unknown topics.
func (a *Aggregator) State(topic model.Topic) (state model.BookState, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.books[topic]
	if !ok {
		return model.BookState{Topic: topic}, false
	}
	return copyState(b.state), true
}

// Reset empties a book but keeps tracking the topic.
func (a *Aggregator) Reset(topic model.Topic) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.books[topic]; ok {
		b := newBook(topic)
		b.refresh(a.now())
		a.books[topic] = b
	}
}

// Drop forgets a topic entirely.
func (a *Aggregator) Drop(topic model.Topic) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.books, topic)
}

// Topics returns the topics with a book.
func (a *Aggregator) Topics() []model.Topic {
	a.mu.Lock()
	defer a.mu.Unlock()

	topics := make([]model.Topic, 0, len(a.books))
	for t := range a.books {
		topics = append(topics, t)
	}
	return topics
}

// book must be called with lock held.
func (a *Aggregator) book(topic model.Topic) *book {
	b, ok := a.books[topic]
	if !ok {
		b = newBook(topic)
		a.books[topic] = b
	}
	return b
}

func checkLevel(price, size decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: price %s", ErrInvalidLevel, price)
	}
	if size.IsNegative() {
		return fmt.Errorf("%w: size %s", ErrInvalidLevel, size)
	}
	return nil
}

// copyState detaches the slices so callers can keep the value.
func copyState(s model.BookState) model.BookState {
	s.Bids = append([]model.Level(nil), s.Bids...)
	s.Asks = append([]model.Level(nil), s.Asks...)
	s.CumulativeBids = append([]decimal.Decimal(nil), s.CumulativeBids...)
	s.CumulativeAsks = append([]decimal.Decimal(nil), s.CumulativeAsks...)
	return s
}
