package connection

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: base * factor^(attempt-1), capped at
// max, then spread by ±jitter.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64

	// rand returns a value in [0, 1). Tests replace it.
	rand func() float64
}

// NewBackoff builds a Backoff from transport settings.
func NewBackoff(cfg TransportConfig) *Backoff {
	return &Backoff{
		Base:   cfg.ReconnectBaseWait,
		Max:    cfg.ReconnectMaxWait,
		Factor: cfg.BackoffFactor,
		Jitter: cfg.Jitter,
		rand:   rand.Float64,
	}
}

// Delay returns the wait before the given attempt (1-based).
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	d := float64(b.Base) * math.Pow(factor, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}

	if b.Jitter > 0 && b.rand != nil {
		// Uniform in [1-jitter, 1+jitter)
		d *= 1 - b.Jitter + 2*b.Jitter*b.rand()
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
