package batcher

import (
	"sync"
	"testing"
	"time"

	"github.com/rickgao/marketsync/internal/model"
)

var (
	solUSDC  = model.MustParseTopic("JUPITER:SOL/USDC")
	orcaUSDC = model.MustParseTopic("DRIFT:ORCA/USDC")
)

// collector records flushes per topic.
type collector struct {
	mu      sync.Mutex
	batches map[model.Topic][][]int
}

func newCollector() *collector {
	return &collector{batches: make(map[model.Topic][][]int)}
}

func (c *collector) flush(topic model.Topic, items []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches[topic] = append(c.batches[topic], items)
}

func (c *collector) get(topic model.Topic) [][]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]int(nil), c.batches[topic]...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBatcher_BurstOf200(t *testing.T) {
	c := newCollector()
	b := New(Config{Window: 100 * time.Millisecond, BurstThreshold: 50}, c.flush, nil)
	defer b.Close()

	for i := 0; i < 200; i++ {
		if err := b.Enqueue(solUSDC, i, false); err != nil {
			t.Fatalf("Enqueue(%d) failed: %v", i, err)
		}
	}

	waitFor(t, func() bool { return b.Pending(solUSDC) == 0 })
	waitFor(t, func() bool {
		n := 0
		for _, batch := range c.get(solUSDC) {
			n += len(batch)
		}
		return n == 200
	})

	batches := c.get(solUSDC)
	if len(batches) < 4 {
		t.Errorf("got %d flushes, want at least 4", len(batches))
	}

	next := 0
	for _, batch := range batches {
		if len(batch) > 51 {
			t.Errorf("batch of %d exceeds burst threshold + 1", len(batch))
		}
		for _, v := range batch {
			if v != next {
				t.Fatalf("item %d delivered out of order (want %d)", v, next)
			}
			next++
		}
	}

	stats := b.Stats()
	if stats.BurstFlushes != 3 {
		t.Errorf("BurstFlushes = %d, want 3", stats.BurstFlushes)
	}
	if stats.Enqueued != 200 {
		t.Errorf("Enqueued = %d, want 200", stats.Enqueued)
	}
}

func TestBatcher_LatestWinsForScalars(t *testing.T) {
	c := newCollector()
	b := New(Config{Window: 30 * time.Millisecond, BurstThreshold: 50}, c.flush, nil)
	defer b.Close()

	for i := 1; i <= 10; i++ {
		b.Enqueue(solUSDC, i, true)
	}

	waitFor(t, func() bool { return len(c.get(solUSDC)) == 1 })
	got := c.get(solUSDC)[0]
	if len(got) != 1 || got[0] != 10 {
		t.Errorf("flushed %v, want [10]", got)
	}
	if b.Stats().Coalesced != 9 {
		t.Errorf("Coalesced = %d, want 9", b.Stats().Coalesced)
	}
}

func TestBatcher_MixedItemsKeepDeltaOrder(t *testing.T) {
	c := newCollector()
	b := New(Config{Window: time.Hour}, c.flush, nil)
	defer b.Close()

	b.Enqueue(solUSDC, 1, false)
	b.Enqueue(solUSDC, 100, true)
	b.Enqueue(solUSDC, 2, false)
	b.Enqueue(solUSDC, 200, true)
	b.Flush(solUSDC)

	got := c.get(solUSDC)
	want := []int{1, 2, 200}
	if len(got) != 1 || len(got[0]) != len(want) {
		t.Fatalf("flushed %v, want [%v]", got, want)
	}
	for i := range want {
		if got[0][i] != want[i] {
			t.Errorf("item %d = %d, want %d", i, got[0][i], want[i])
		}
	}
}

func TestBatcher_TopicsAreIndependent(t *testing.T) {
	c := newCollector()
	b := New(Config{Window: 20 * time.Millisecond, BurstThreshold: 2}, c.flush, nil)
	defer b.Close()

	b.Enqueue(solUSDC, 1, false)
	b.Enqueue(solUSDC, 2, false)
	b.Enqueue(solUSDC, 3, false) // exceeds 2: flushes now
	b.Enqueue(orcaUSDC, 9, false)

	if got := c.get(solUSDC); len(got) != 1 || len(got[0]) != 3 {
		t.Errorf("solUSDC batches = %v, want one burst of 3", got)
	}
	if len(c.get(orcaUSDC)) != 0 {
		t.Error("orcaUSDC flushed before its window")
	}

	waitFor(t, func() bool { return len(c.get(orcaUSDC)) == 1 })
}

func TestBatcher_ZeroWindowDeliversImmediately(t *testing.T) {
	c := newCollector()
	b := New(Config{}, c.flush, nil)
	defer b.Close()

	b.Enqueue(solUSDC, 7, true)
	if got := c.get(solUSDC); len(got) != 1 || got[0][0] != 7 {
		t.Errorf("batches = %v, want [[7]]", got)
	}
}

func TestBatcher_FlushAllAndClose(t *testing.T) {
	c := newCollector()
	b := New(Config{Window: time.Hour, BurstThreshold: 100}, c.flush, nil)

	b.Enqueue(solUSDC, 1, false)
	b.Enqueue(orcaUSDC, 2, false)
	b.FlushAll()

	if len(c.get(solUSDC)) != 1 || len(c.get(orcaUSDC)) != 1 {
		t.Error("FlushAll should deliver every topic")
	}

	b.Enqueue(solUSDC, 3, false)
	b.Close()
	if err := b.Enqueue(solUSDC, 4, false); err != ErrClosed {
		t.Errorf("Enqueue after Close = %v, want ErrClosed", err)
	}
	b.FlushAll()
	if len(c.get(solUSDC)) != 1 {
		t.Error("Close should drop pending items")
	}
}
