package orderbook

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/model"
)

var (
	solUSDC = model.MustParseTopic("JUPITER:SOL/USDC")
	d       = decimal.RequireFromString
)

func TestAggregator_SolUsdcScenario(t *testing.T) {
	a := New(DefaultConfig())

	if _, err := a.ApplyLevel(solUSDC, model.SideBid, d("22.50"), d("10")); err != nil {
		t.Fatalf("ApplyLevel bid failed: %v", err)
	}
	state, err := a.ApplyLevel(solUSDC, model.SideAsk, d("22.60"), d("8"))
	if err != nil {
		t.Fatalf("ApplyLevel ask failed: %v", err)
	}

	if len(state.Bids) != 1 || !state.Bids[0].Price.Equal(d("22.50")) || !state.Bids[0].Size.Equal(d("10")) {
		t.Errorf("Bids = %v, want [(22.50,10)]", state.Bids)
	}
	if len(state.CumulativeBids) != 1 || !state.CumulativeBids[0].Equal(d("10")) {
		t.Errorf("CumulativeBids = %v, want [10]", state.CumulativeBids)
	}
	if len(state.Asks) != 1 || !state.Asks[0].Price.Equal(d("22.60")) || !state.Asks[0].Size.Equal(d("8")) {
		t.Errorf("Asks = %v, want [(22.60,8)]", state.Asks)
	}
	if len(state.CumulativeAsks) != 1 || !state.CumulativeAsks[0].Equal(d("8")) {
		t.Errorf("CumulativeAsks = %v, want [8]", state.CumulativeAsks)
	}

	if _, err := a.ApplyLevel(solUSDC, model.SideBid, d("22.50"), d("0")); err != nil {
		t.Fatalf("ApplyLevel removal failed: %v", err)
	}
	state, ok := a.State(solUSDC)
	if !ok {
		t.Fatal("State: topic unknown")
	}
	if len(state.Bids) != 0 || len(state.CumulativeBids) != 0 {
		t.Errorf("after removal Bids = %v, Cumulative = %v; want empty", state.Bids, state.CumulativeBids)
	}
	if len(state.Asks) != 1 {
		t.Errorf("asks should be untouched, got %v", state.Asks)
	}
}

func TestAggregator_EquivalentPricesShareALevel(t *testing.T) {
	a := New(DefaultConfig())
	a.ApplyLevel(solUSDC, model.SideBid, d("22.5"), d("1"))
	state, _ := a.ApplyLevel(solUSDC, model.SideBid, d("22.50"), d("3"))

	if len(state.Bids) != 1 || !state.Bids[0].Size.Equal(d("3")) {
		t.Errorf("Bids = %v, want one level of size 3", state.Bids)
	}
}

// checkSorted asserts strict ordering and prefix sums on one side.
func checkSorted(t *testing.T, levels []model.Level, cumulative []decimal.Decimal, descending bool) {
	t.Helper()

	if len(levels) != len(cumulative) {
		t.Fatalf("len(levels) = %d, len(cumulative) = %d", len(levels), len(cumulative))
	}
	total := decimal.Zero
	for i, lv := range levels {
		if lv.Size.Sign() <= 0 {
			t.Fatalf("level %d has non-positive size %s", i, lv.Size)
		}
		if i > 0 {
			c := lv.Price.Cmp(levels[i-1].Price)
			if descending && c >= 0 || !descending && c <= 0 {
				t.Fatalf("levels out of order at %d: %s after %s", i, lv.Price, levels[i-1].Price)
			}
		}
		total = total.Add(lv.Size)
		if !cumulative[i].Equal(total) {
			t.Fatalf("cumulative[%d] = %s, want %s", i, cumulative[i], total)
		}
	}
}

func TestAggregator_RandomSequencesStaySorted(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7))
		a := New(Config{MaxDepth: 15})
		shadow := map[model.Side]map[string]bool{model.SideBid: {}, model.SideAsk: {}}

		for i := 0; i < 500; i++ {
			side := model.SideBid
			if rng.IntN(2) == 1 {
				side = model.SideAsk
			}
			price := decimal.New(int64(2000+rng.IntN(60)), -2)
			size := decimal.Zero
			if rng.IntN(4) != 0 {
				size = decimal.New(int64(1+rng.IntN(500)), -1)
			}

			state, err := a.ApplyLevel(solUSDC, side, price, size)
			if err != nil {
				t.Fatalf("seed %d step %d: %v", seed, i, err)
			}
			if size.IsZero() {
				delete(shadow[side], price.String())
			} else {
				shadow[side][price.String()] = true
			}

			checkSorted(t, state.Bids, state.CumulativeBids, true)
			checkSorted(t, state.Asks, state.CumulativeAsks, false)
			if len(state.Bids) > 15 || len(state.Asks) > 15 {
				t.Fatalf("depth exceeded: %d bids, %d asks", len(state.Bids), len(state.Asks))
			}
			for _, lv := range state.Bids {
				if !shadow[model.SideBid][lv.Price.String()] {
					t.Fatalf("bid %s present but was removed", lv.Price)
				}
			}
		}
	}
}

func TestAggregator_TrimsDeepestLevels(t *testing.T) {
	a := New(Config{MaxDepth: 3})

	for _, p := range []string{"10", "11", "12", "13", "9"} {
		a.ApplyLevel(solUSDC, model.SideBid, d(p), d("1"))
		a.ApplyLevel(solUSDC, model.SideAsk, d(p), d("1"))
	}

	state, _ := a.State(solUSDC)
	wantBids := []string{"13", "12", "11"}
	wantAsks := []string{"9", "10", "11"}
	for i := range wantBids {
		if !state.Bids[i].Price.Equal(d(wantBids[i])) {
			t.Errorf("Bids[%d] = %s, want %s", i, state.Bids[i].Price, wantBids[i])
		}
		if !state.Asks[i].Price.Equal(d(wantAsks[i])) {
			t.Errorf("Asks[%d] = %s, want %s", i, state.Asks[i].Price, wantAsks[i])
		}
	}
	if !state.CumulativeBids[2].Equal(d("3")) {
		t.Errorf("CumulativeBids = %v", state.CumulativeBids)
	}
}

func TestAggregator_RejectsInvalidLevels(t *testing.T) {
	a := New(DefaultConfig())

	tests := []struct {
		name  string
		side  model.Side
		price string
		size  string
	}{
		{"zero price", model.SideBid, "0", "1"},
		{"negative price", model.SideAsk, "-1", "1"},
		{"negative size", model.SideBid, "1", "-0.5"},
		{"bad side", model.Side("mid"), "1", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.ApplyLevel(solUSDC, tt.side, d(tt.price), d(tt.size))
			if !errors.Is(err, ErrInvalidLevel) {
				t.Errorf("err = %v, want ErrInvalidLevel", err)
			}
		})
	}

	if _, ok := a.State(solUSDC); ok {
		t.Error("rejected levels must not create a book")
	}
}

func TestAggregator_ApplySnapshot(t *testing.T) {
	a := New(Config{MaxDepth: 2})
	a.ApplyLevel(solUSDC, model.SideBid, d("1"), d("1"))

	state, err := a.ApplySnapshot(solUSDC,
		[]model.Level{{Price: d("22.40"), Size: d("3")}, {Price: d("22.50"), Size: d("10")}, {Price: d("22.30"), Size: d("1")}, {Price: d("22.20"), Size: d("0")}},
		[]model.Level{{Price: d("22.60"), Size: d("8")}},
	)
	if err != nil {
		t.Fatalf("ApplySnapshot failed: %v", err)
	}

	if len(state.Bids) != 2 || !state.Bids[0].Price.Equal(d("22.50")) || !state.Bids[1].Price.Equal(d("22.40")) {
		t.Errorf("Bids = %v", state.Bids)
	}
	if !state.CumulativeBids[1].Equal(d("13")) {
		t.Errorf("CumulativeBids = %v, want [10 13]", state.CumulativeBids)
	}

	_, err = a.ApplySnapshot(solUSDC, []model.Level{{Price: d("-1"), Size: d("1")}}, nil)
	if !errors.Is(err, ErrInvalidLevel) {
		t.Errorf("invalid snapshot err = %v, want ErrInvalidLevel", err)
	}
	if after, _ := a.State(solUSDC); len(after.Bids) != 2 {
		t.Error("invalid snapshot must leave the book unchanged")
	}
}

func TestAggregator_ResetAndDrop(t *testing.T) {
	a := New(DefaultConfig())
	a.ApplyLevel(solUSDC, model.SideBid, d("22.50"), d("10"))

	a.Reset(solUSDC)
	state, ok := a.State(solUSDC)
	if !ok || len(state.Bids) != 0 {
		t.Errorf("after Reset: ok=%v bids=%v", ok, state.Bids)
	}

	a.Drop(solUSDC)
	if _, ok := a.State(solUSDC); ok {
		t.Error("after Drop topic should be unknown")
	}
	if len(a.Topics()) != 0 {
		t.Errorf("Topics = %v, want none", a.Topics())
	}
}

func TestAggregator_StateIsACopy(t *testing.T) {
	a := New(DefaultConfig())
	state, _ := a.ApplyLevel(solUSDC, model.SideBid, d("22.50"), d("10"))
	state.Bids[0].Size = d("999")

	again, _ := a.State(solUSDC)
	if !again.Bids[0].Size.Equal(d("10")) {
		t.Error("mutating a returned state changed the book")
	}
}
