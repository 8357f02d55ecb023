package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
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

var errUpstream = errors.New("upstream failed")

func testConfig() Config {
	return Config{
		Window:          time.Minute,
		ErrorThreshold:  0.5,
		VolumeThreshold: 10,
		ResetTimeout:    5 * time.Second,
	}
}

func TestBreaker_OpensAtHalfFailuresOverTenCalls(t *testing.T) {
	clock := newFakeClock()
	b := New(testConfig(), WithClock(clock.Now))

	transport := 0
	call := func(fail bool) error {
		return b.Execute(func() error {
			transport++
			if fail {
				return errUpstream
			}
			return nil
		})
	}

	// Five failures among the first ten calls, last call a success.
	pattern := []bool{true, false, true, false, true, false, true, false, true, false}
	for i, fail := range pattern {
		err := call(fail)
		if fail && !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: err = %v, want upstream error", i+1, err)
		}
		if i < 9 && b.State() != StateClosed {
			t.Fatalf("call %d: state = %v, want closed before volume threshold", i+1, b.State())
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("state after 10 calls = %v, want open", b.State())
	}

	err := call(false)
	var openErr *OpenError
	if !errors.As(err, &openErr) || !errors.Is(err, ErrOpen) {
		t.Fatalf("11th call err = %v, want *OpenError", err)
	}
	if transport != 10 {
		t.Errorf("transport reached %d times, want 10", transport)
	}
	if openErr.RetryAfter != 5*time.Second {
		t.Errorf("RetryAfter = %v, want 5s", openErr.RetryAfter)
	}
}

func TestBreaker_StaysClosedBelowThresholds(t *testing.T) {
	tests := []struct {
		name    string
		pattern []bool
	}{
		{"below volume", []bool{true, true, true, true, true, true, true, true, true}},
		{"below error rate", []bool{true, true, true, true, false, false, false, false, false, false}},
		{"all success", []bool{false, false, false, false, false, false, false, false, false, false, false, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(testConfig(), WithClock(newFakeClock().Now))
			for _, fail := range tt.pattern {
				b.Execute(func() error {
					if fail {
						return errUpstream
					}
					return nil
				})
			}
			if b.State() != StateClosed {
				t.Errorf("state = %v, want closed", b.State())
			}
		})
	}
}

func TestBreaker_WindowForgetsOldOutcomes(t *testing.T) {
	clock := newFakeClock()
	b := New(testConfig(), WithClock(clock.Now))

	for i := 0; i < 9; i++ {
		b.Execute(func() error { return errUpstream })
	}
	clock.Advance(2 * time.Minute)

	b.Execute(func() error { return errUpstream })
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed once old failures leave the window", b.State())
	}
	if got := b.Stats().Calls; got != 1 {
		t.Errorf("Calls in window = %d, want 1", got)
	}
}

func tripped(t *testing.T, clock *fakeClock, opts ...Option) *Breaker {
	t.Helper()
	b := New(testConfig(), append([]Option{WithClock(clock.Now)}, opts...)...)
	for i := 0; i < 10; i++ {
		b.Execute(func() error { return errUpstream })
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	return b
}

func TestBreaker_HalfOpenTrialSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := tripped(t, clock)

	clock.Advance(4 * time.Second)
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("before reset timeout err = %v, want ErrOpen", err)
	}

	clock.Advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state after successful trial = %v, want closed", b.State())
	}
	if got := b.Stats().Calls; got != 0 {
		t.Errorf("window after close has %d calls, want 0", got)
	}
}

func TestBreaker_HalfOpenTrialFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := tripped(t, clock)

	clock.Advance(5 * time.Second)
	if err := b.Execute(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
		t.Fatalf("trial err = %v, want upstream error", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state after failed trial = %v, want open", b.State())
	}

	// The reset timeout restarts from the failed trial.
	clock.Advance(4 * time.Second)
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if got := b.Stats().Trips; got != 2 {
		t.Errorf("Trips = %d, want 2", got)
	}
}

func TestBreaker_HalfOpenAdmitsOneTrial(t *testing.T) {
	clock := newFakeClock()
	b := tripped(t, clock)
	clock.Advance(5 * time.Second)

	inTrial := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Execute(func() error {
			close(inTrial)
			<-release
			return nil
		})
	}()
	<-inTrial

	err := b.Execute(func() error {
		t.Error("second call reached the upstream during the trial")
		return nil
	})
	var openErr *OpenError
	if !errors.As(err, &openErr) || openErr.State != StateHalfOpen {
		t.Errorf("concurrent call err = %v, want half-open *OpenError", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("trial err = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_ReportsTransitions(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var seen []string
	b := tripped(t, clock, WithStateChange(func(from, to State) {
		mu.Lock()
		seen = append(seen, from.String()+"->"+to.String())
		mu.Unlock()
	}))

	clock.Advance(5 * time.Second)
	b.Execute(func() error { return nil })

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestBreaker_PanicCountsAsFailure(t *testing.T) {
	cfg := testConfig()
	cfg.VolumeThreshold = 1
	b := New(cfg, WithClock(newFakeClock().Now))

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic was swallowed")
			}
		}()
		b.Execute(func() error { panic("boom") })
	}()

	if b.State() != StateOpen {
		t.Errorf("state = %v, want open", b.State())
	}
}
