package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rickgao/marketsync/internal/version"
)

// APIError is a non-2xx response. Code and Message come from the exchange's
// error body when it sends one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration // From the Retry-After header, 0 if absent
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if repeated: rate
// limiting and server-side failures.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// errorBody is the exchange's JSON error shape, shared with stream error
// frames.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	e := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		Body:       body,
	}
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Message != "" {
		e.Code, e.Message = eb.Code, eb.Message
	}
	return e
}

// parseRetryAfter accepts delay-seconds; HTTP dates are ignored.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// send performs one GET and returns the body of a 2xx response.
func (c *Client) send(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, newAPIError(resp, body)
	}
	return body, nil
}

// fetch calls send until it succeeds, fails permanently or runs out of
// retries. Waits double from retryBackoff with jitter; a longer Retry-After
// from the server wins.
func (c *Client) fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	wait := c.retryBackoff

	for attempt := 0; ; attempt++ {
		body, err := c.send(ctx, path, query)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		delay, ok := c.retryDelay(err, wait)
		if !ok {
			return nil, err
		}
		if attempt >= c.maxRetries {
			return nil, fmt.Errorf("%s: gave up after %d attempts: %w", path, attempt+1, err)
		}

		c.logger.Debug("retrying request", "path", path, "attempt", attempt+1, "wait", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, maxRetryWait)
	}
}

// retryDelay decides whether err is worth another attempt and how long to
// wait first.
func (c *Client) retryDelay(err error, wait time.Duration) (time.Duration, bool) {
	jittered := wait
	if wait > 0 {
		jittered = wait/2 + time.Duration(rand.Int64N(int64(wait)))
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if !apiErr.Retryable() {
			return 0, false
		}
		return min(max(jittered, apiErr.RetryAfter), maxRetryWait), true
	}

	// Connection refused, reset or timed out.
	var (
		opErr  *net.OpError
		netErr net.Error
	)
	if errors.As(err, &opErr) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return jittered, true
	}
	return 0, false
}

// getJSON fetches path and decodes the JSON body into result.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.fetch(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
