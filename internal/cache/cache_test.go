package cache

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	solUSDC  = model.MustParseTopic("JUPITER:SOL/USDC")
	orcaUSDC = model.MustParseTopic("DRIFT:ORCA/USDC")
)

func newTestCache() (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
	cfg := Config{
		DefaultTTL: 30 * time.Second,
		TTL: map[model.Class]time.Duration{
			model.ClassBook:      5 * time.Second,
			model.ClassReference: time.Hour,
		},
		Retention: time.Minute,
	}
	return New(cfg, WithClock(clock.Now)), clock
}

func TestCache_WriteRead(t *testing.T) {
	c, _ := newTestCache()

	if _, ok := c.Read(solUSDC); ok {
		t.Fatal("Read on empty cache should miss")
	}

	c.Write(solUSDC, model.ClassTicker, json.RawMessage(`{"price":"22.55"}`))
	snap, ok := c.Read(solUSDC)
	if !ok {
		t.Fatal("Read missed after Write")
	}
	if string(snap.Payload) != `{"price":"22.55"}` {
		t.Errorf("Payload = %s", snap.Payload)
	}
	if snap.Stale {
		t.Error("fresh snapshot reported stale")
	}
	if snap.Class != model.ClassTicker {
		t.Errorf("Class = %s, want ticker", snap.Class)
	}
}

func TestCache_TTLPerClass(t *testing.T) {
	tests := []struct {
		class   model.Class
		age     time.Duration
		wantOld bool
	}{
		{model.ClassBook, 4 * time.Second, false},
		{model.ClassBook, 6 * time.Second, true},
		{model.ClassTicker, 20 * time.Second, false}, // default TTL
		{model.ClassTicker, 31 * time.Second, true},
		{model.ClassReference, 50 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class)+"/"+tt.age.String(), func(t *testing.T) {
			c, clock := newTestCache()
			c.Write(solUSDC, tt.class, json.RawMessage(`{}`))
			clock.Advance(tt.age)

			snap, _ := c.Read(solUSDC)
			if snap.Stale != tt.wantOld {
				t.Errorf("Stale = %v, want %v", snap.Stale, tt.wantOld)
			}
		})
	}
}

func TestCache_MarkStaleUntilNextWrite(t *testing.T) {
	c, _ := newTestCache()
	c.Write(solUSDC, model.ClassTicker, json.RawMessage(`{"v":1}`))
	c.Write(orcaUSDC, model.ClassTicker, json.RawMessage(`{"v":1}`))

	unknown := model.MustParseTopic("PUMP_FUN:BONK/SOL")
	if n := c.MarkStale(solUSDC, orcaUSDC, unknown); n != 2 {
		t.Errorf("MarkStale marked %d, want 2", n)
	}

	for _, topic := range []model.Topic{solUSDC, orcaUSDC} {
		snap, ok := c.Read(topic)
		if !ok || !snap.Stale {
			t.Errorf("%s: ok=%v stale=%v, want stale value still served", topic, ok, snap.Stale)
		}
	}
	if _, ok := c.Read(unknown); ok {
		t.Error("MarkStale must not create entries")
	}

	c.Write(solUSDC, model.ClassTicker, json.RawMessage(`{"v":2}`))
	if snap, _ := c.Read(solUSDC); snap.Stale {
		t.Error("write should clear the stale mark")
	}
	if snap, _ := c.Read(orcaUSDC); !snap.Stale {
		t.Error("other topic should stay stale")
	}
	if got := c.Stats().Marked; got != 1 {
		t.Errorf("Marked = %d, want 1", got)
	}
}

func TestCache_ReadFresh(t *testing.T) {
	c, clock := newTestCache()

	_, err := c.ReadFresh(solUSDC, time.Second)
	if !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("ReadFresh on empty = %v, want ErrNoSnapshot", err)
	}

	c.Write(solUSDC, model.ClassTicker, json.RawMessage(`{}`))
	clock.Advance(500 * time.Millisecond)
	if _, err := c.ReadFresh(solUSDC, time.Second); err != nil {
		t.Errorf("ReadFresh within bound failed: %v", err)
	}

	clock.Advance(time.Second)
	_, err = c.ReadFresh(solUSDC, time.Second)
	var staleErr *StaleDataError
	if !errors.As(err, &staleErr) {
		t.Fatalf("ReadFresh past bound = %v, want *StaleDataError", err)
	}
	if staleErr.Age != 1500*time.Millisecond || staleErr.MaxAge != time.Second {
		t.Errorf("StaleDataError = %+v", staleErr)
	}

	c.Write(solUSDC, model.ClassTicker, json.RawMessage(`{}`))
	c.MarkStale(solUSDC)
	_, err = c.ReadFresh(solUSDC, time.Hour)
	if !errors.As(err, &staleErr) || !staleErr.Marked {
		t.Errorf("ReadFresh on marked entry = %v, want marked StaleDataError", err)
	}
}

func TestCache_WriteBook(t *testing.T) {
	c, _ := newTestCache()
	state := model.BookState{
		Topic: solUSDC,
		Bids:  []model.Level{{Price: decimal.RequireFromString("22.50"), Size: decimal.RequireFromString("10")}},
	}
	c.WriteBook(solUSDC, state)

	snap, ok := c.Read(solUSDC)
	if !ok || snap.Book == nil || snap.Class != model.ClassBook {
		t.Fatalf("Read = %+v, %v", snap, ok)
	}
	if len(snap.Book.Bids) != 1 {
		t.Errorf("Book.Bids = %v", snap.Book.Bids)
	}
}

func TestCache_SweepKeepsWatchedTopics(t *testing.T) {
	c, clock := newTestCache()
	c.Write(solUSDC, model.ClassTicker, json.RawMessage(`{}`))
	c.Write(orcaUSDC, model.ClassTicker, json.RawMessage(`{}`))

	if n := c.Sweep(nil); n != 0 {
		t.Errorf("Sweep of recent entries evicted %d", n)
	}

	clock.Advance(2 * time.Minute)
	n := c.Sweep(func(t model.Topic) bool { return t == solUSDC })
	if n != 1 {
		t.Errorf("Sweep evicted %d, want 1", n)
	}
	if _, ok := c.Read(solUSDC); !ok {
		t.Error("watched topic was evicted")
	}
	if _, ok := c.Read(orcaUSDC); ok {
		t.Error("unwatched old topic survived")
	}
	if got := c.Stats().Evicted; got != 1 {
		t.Errorf("Evicted = %d, want 1", got)
	}
}
