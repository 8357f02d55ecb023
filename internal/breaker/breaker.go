package breaker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen matches every *OpenError via errors.Is.
var ErrOpen = errors.New("circuit open")

// State is the breaker state.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// OpenError is returned when a call is rejected without running.
type OpenError struct {
	State      State
	RetryAfter time.Duration // Time left until a trial is allowed, 0 while a trial runs
}

func (e *OpenError) Error() string {
	if e.State == StateHalfOpen {
		return "circuit open: trial call in progress"
	}
	return fmt.Sprintf("circuit open: retry in %s", e.RetryAfter.Round(time.Millisecond))
}

// Is makes errors.Is(err, ErrOpen) true.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Config configures a Breaker.
type Config struct {
	Window          time.Duration // Rolling window for outcomes in the closed state
	ErrorThreshold  float64       // Failure ratio in [0, 1] that trips the breaker
	VolumeThreshold int           // Minimum calls in the window before tripping
	ResetTimeout    time.Duration // Open duration before a trial is allowed
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Window:          10 * time.Second,
		ErrorThreshold:  0.5,
		VolumeThreshold: 10,
		ResetTimeout:    5 * time.Second,
	}
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// WithStateChange registers an observer for transitions. It is called
// without the breaker lock held.
func WithStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

type outcome struct {
	at     time.Time
	failed bool
}

type transition struct {
	from, to State
}

// Breaker guards calls to a failing dependency.
type Breaker struct {
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
	onChange func(from, to State)

	mu       sync.Mutex
	state    State
	outcomes []outcome
	openedAt time.Time
	trial    bool

	rejected int64
	trips    int64
}

// New creates a closed Breaker.
func New(cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Execute runs fn unless the breaker is open. fn's error is returned as is
// and counted as a failure; a rejection returns *OpenError without running fn.
func (b *Breaker) Execute(fn func() error) error {
	trial, err := b.allow()
	if err != nil {
		return err
	}

	var callErr error
	defer func() {
		// A panic counts as a failure and keeps propagating.
		if r := recover(); r != nil {
			b.record(trial, true)
			panic(r)
		}
		b.record(trial, callErr != nil)
	}()

	callErr = fn()
	return callErr
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	var changes []transition
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.cfg.ResetTimeout)) {
		changes = append(changes, b.setState(StateHalfOpen))
	}
	s := b.state
	b.mu.Unlock()

	b.notify(changes)
	return s
}

// Stats is a point-in-time view of the breaker.
type Stats struct {
	State    State
	Calls    int   // Outcomes in the current window
	Failures int   // Failed outcomes in the current window
	Rejected int64 // Calls refused since creation
	Trips    int64 // Closed/half-open → open transitions since creation
}

// Stats returns current statistics.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune(b.now())
	calls, failures := b.counts()
	return Stats{
		State:    b.state,
		Calls:    calls,
		Failures: failures,
		Rejected: b.rejected,
		Trips:    b.trips,
	}
}

// allow decides whether a call may run. trial is true for the single
// half-open probe.
func (b *Breaker) allow() (trial bool, err error) {
	b.mu.Lock()
	var changes []transition
	defer func() {
		b.mu.Unlock()
		b.notify(changes)
	}()

	now := b.now()
	switch b.state {
	case StateClosed:
		return false, nil

	case StateOpen:
		deadline := b.openedAt.Add(b.cfg.ResetTimeout)
		if now.Before(deadline) {
			b.rejected++
			return false, &OpenError{State: StateOpen, RetryAfter: deadline.Sub(now)}
		}
		changes = append(changes, b.setState(StateHalfOpen))
		b.trial = true
		return true, nil

	default: // StateHalfOpen
		if b.trial {
			b.rejected++
			return false, &OpenError{State: StateHalfOpen}
		}
		b.trial = true
		return true, nil
	}
}

func (b *Breaker) record(trial, failed bool) {
	b.mu.Lock()
	var changes []transition
	defer func() {
		b.mu.Unlock()
		b.notify(changes)
	}()

	now := b.now()

	if trial {
		b.trial = false
		if failed {
			changes = append(changes, b.trip(now))
		} else {
			changes = append(changes, b.setState(StateClosed))
			b.outcomes = b.outcomes[:0]
		}
		return
	}

	// Outcomes of calls that started before a trip are ignored.
	if b.state != StateClosed {
		return
	}

	b.outcomes = append(b.outcomes, outcome{at: now, failed: failed})
	b.prune(now)

	calls, failures := b.counts()
	if calls >= b.cfg.VolumeThreshold && calls > 0 &&
		float64(failures)/float64(calls) >= b.cfg.ErrorThreshold {
		b.logger.Warn("circuit breaker tripped",
			"calls", calls,
			"failures", failures,
			"threshold", b.cfg.ErrorThreshold,
		)
		changes = append(changes, b.trip(now))
	}
}

// trip opens the breaker. Must be called with lock held.
func (b *Breaker) trip(now time.Time) transition {
	b.openedAt = now
	b.outcomes = b.outcomes[:0]
	b.trips++
	return b.setState(StateOpen)
}

// setState must be called with lock held.
func (b *Breaker) setState(to State) transition {
	from := b.state
	b.state = to
	return transition{from: from, to: to}
}

// prune drops outcomes older than the window. Must be called with lock held.
func (b *Breaker) prune(now time.Time) {
	if b.cfg.Window <= 0 {
		return
	}
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.outcomes) && b.outcomes[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.outcomes = append(b.outcomes[:0], b.outcomes[i:]...)
	}
}

func (b *Breaker) counts() (calls, failures int) {
	for _, o := range b.outcomes {
		if o.failed {
			failures++
		}
	}
	return len(b.outcomes), failures
}

func (b *Breaker) notify(changes []transition) {
	for _, c := range changes {
		if c.from == c.to {
			continue
		}
		b.logger.Info("circuit breaker state change", "from", c.from, "to", c.to)
		if b.onChange != nil {
			b.onChange(c.from, c.to)
		}
	}
}
