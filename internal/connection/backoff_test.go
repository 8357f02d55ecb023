package connection

import (
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	b := &Backoff{Base: 100 * time.Millisecond, Max: time.Second, Factor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{50, time.Second},
	}

	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_Jitter(t *testing.T) {
	b := &Backoff{Base: time.Second, Max: time.Minute, Factor: 2, Jitter: 0.5}

	b.rand = func() float64 { return 0 }
	if got := b.Delay(1); got != 500*time.Millisecond {
		t.Errorf("low jitter Delay = %v, want 500ms", got)
	}

	b.rand = func() float64 { return 0.5 }
	if got := b.Delay(1); got != time.Second {
		t.Errorf("mid jitter Delay = %v, want 1s", got)
	}

	b.rand = func() float64 { return 0.999 }
	if got := b.Delay(1); got < 1400*time.Millisecond || got >= 1500*time.Millisecond {
		t.Errorf("high jitter Delay = %v, want in [1.4s, 1.5s)", got)
	}
}

func TestNewBackoff(t *testing.T) {
	cfg := DefaultTransportConfig()
	b := NewBackoff(cfg)
	if b.Base != cfg.ReconnectBaseWait || b.Max != cfg.ReconnectMaxWait {
		t.Errorf("NewBackoff = %+v", b)
	}
	// Jittered delays stay within ±Jitter of the nominal value.
	for i := 0; i < 100; i++ {
		d := b.Delay(1)
		lo := time.Duration(float64(cfg.ReconnectBaseWait) * (1 - cfg.Jitter))
		hi := time.Duration(float64(cfg.ReconnectBaseWait) * (1 + cfg.Jitter))
		if d < lo || d > hi {
			t.Fatalf("Delay(1) = %v, want in [%v, %v]", d, lo, hi)
		}
	}
}
