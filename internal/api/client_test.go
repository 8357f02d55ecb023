package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/marketsync/internal/version"
)

const solFrame = `{"type":"data","topic":"JUPITER:SOL/USDC","payload":{"kind":"ticker","last":"22.51"}}`

// flakyServer answers with the given statuses in order, then serves body.
func flakyServer(t *testing.T, body string, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestNewClient(t *testing.T) {
	c := NewClient("https://snapshots.example.com/", "key")
	if c.baseURL != "https://snapshots.example.com" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.httpClient.Timeout != DefaultTimeout || c.maxRetries != DefaultMaxRetries || c.retryBackoff != DefaultRetryBackoff {
		t.Errorf("defaults = %v/%d/%v", c.httpClient.Timeout, c.maxRetries, c.retryBackoff)
	}

	c = NewClient("http://x", "", WithTimeout(0), WithRetries(0, time.Millisecond), WithLogger(nil))
	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("zero timeout should keep the default, got %v", c.httpClient.Timeout)
	}
	if c.maxRetries != 0 || c.logger == nil {
		t.Errorf("maxRetries = %d, logger = %v", c.maxRetries, c.logger)
	}
}

func TestRequestHeaders(t *testing.T) {
	tests := []struct {
		name     string
		apiKey   string
		wantAuth string
	}{
		{name: "bearer key", apiKey: "secret", wantAuth: "Bearer secret"},
		{name: "no key", apiKey: "", wantAuth: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Authorization"); got != tt.wantAuth {
					t.Errorf("Authorization = %q, want %q", got, tt.wantAuth)
				}
				if got := r.Header.Get("User-Agent"); got != version.UserAgent() {
					t.Errorf("User-Agent = %q", got)
				}
				if got := r.Header.Get("Accept"); got != "application/json" {
					t.Errorf("Accept = %q", got)
				}
				w.Write([]byte(solFrame))
			}))
			defer server.Close()

			if _, err := NewClient(server.URL, tt.apiKey).GetSnapshot(context.Background(), solUSDC); err != nil {
				t.Fatalf("GetSnapshot failed: %v", err)
			}
		})
	}
}

func TestHydrationRetries(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		retries   int
		wantCalls int32
		check     func(t *testing.T, err error)
	}{
		{
			name:      "unavailable then ok",
			statuses:  []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable},
			retries:   3,
			wantCalls: 3,
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Fatalf("err = %v, want success after retries", err)
				}
			},
		},
		{
			name:      "rate limited then ok",
			statuses:  []int{http.StatusTooManyRequests},
			retries:   1,
			wantCalls: 2,
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Fatalf("err = %v", err)
				}
			},
		},
		{
			name:      "not found is final",
			statuses:  []int{http.StatusNotFound},
			retries:   3,
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrSnapshotNotFound) {
					t.Errorf("err = %v, want ErrSnapshotNotFound", err)
				}
			},
		},
		{
			name:      "unavailable then not found",
			statuses:  []int{http.StatusBadGateway, http.StatusNotFound},
			retries:   3,
			wantCalls: 2,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrSnapshotNotFound) {
					t.Errorf("err = %v, want ErrSnapshotNotFound", err)
				}
			},
		},
		{
			name:      "gives up",
			statuses:  []int{503, 503, 503, 503},
			retries:   2,
			wantCalls: 3,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
					t.Fatalf("err = %v, want wrapped 503 APIError", err)
				}
				if !strings.Contains(err.Error(), "gave up after 3 attempts") {
					t.Errorf("err = %v", err)
				}
			},
		},
		{
			name:      "unauthorized is final",
			statuses:  []int{http.StatusUnauthorized},
			retries:   3,
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Retryable() {
					t.Errorf("err = %v, want non-retryable APIError", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, calls := flakyServer(t, solFrame, tt.statuses...)
			c := NewClient(server.URL, "", WithRetries(tt.retries, time.Millisecond))

			_, err := c.Fetch(context.Background(), solUSDC)
			tt.check(t, err)
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestAPIErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":"rate_limited","message":"slow down"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithRetries(0, time.Millisecond))
	_, err := c.GetStatus(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != "rate_limited" || apiErr.Message != "slow down" {
		t.Errorf("Code/Message = %q/%q", apiErr.Code, apiErr.Message)
	}
	if apiErr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", apiErr.RetryAfter)
	}
	if want := "api error 429 (rate_limited): slow down"; apiErr.Error() != want {
		t.Errorf("Error() = %q, want %q", apiErr.Error(), want)
	}
}

func TestRetryHonoursRetryAfter(t *testing.T) {
	c := NewClient("http://x", "")
	delay, ok := c.retryDelay(&APIError{StatusCode: 503, RetryAfter: 2 * time.Second}, time.Millisecond)
	if !ok || delay != 2*time.Second {
		t.Errorf("delay = %v, %v; want 2s, true", delay, ok)
	}

	delay, ok = c.retryDelay(&APIError{StatusCode: 503, RetryAfter: time.Hour}, time.Millisecond)
	if !ok || delay != maxRetryWait {
		t.Errorf("delay = %v, want capped at %v", delay, maxRetryWait)
	}

	if _, ok := c.retryDelay(errors.New("decode failed"), time.Millisecond); ok {
		t.Error("plain errors should not be retried")
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	server, calls := flakyServer(t, solFrame, 503, 503, 503)
	c := NewClient(server.URL, "", WithRetries(3, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Fetch(ctx, solUSDC)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("retry wait ignored cancellation")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestRetriesRefusedConnection(t *testing.T) {
	server := httptest.NewServer(nil)
	url := server.URL
	server.Close()

	c := NewClient(url, "", WithRetries(2, time.Millisecond))
	_, err := c.Fetch(context.Background(), solUSDC)
	if err == nil || !strings.Contains(err.Error(), "gave up after 3 attempts") {
		t.Errorf("err = %v, want retries exhausted", err)
	}
}
