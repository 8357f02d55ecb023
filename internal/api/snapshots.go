package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/wire"
)

// Errors
var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrTopicMismatch    = errors.New("snapshot topic mismatch")
)

// GetStatus calls GET /status.
func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.getJSON(ctx, "/status", nil, &resp); err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	return &resp, nil
}

// GetSnapshot fetches the latest data frame for a topic. A 404 is reported
// as ErrSnapshotNotFound.
func (c *Client) GetSnapshot(ctx context.Context, topic model.Topic) (*wire.DataFrame, error) {
	if _, err := model.ParseTopic(topic.String()); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/snapshots/%s/%s/%s",
		url.PathEscape(topic.Venue),
		url.PathEscape(topic.Base()),
		url.PathEscape(topic.Quote()),
	)

	body, err := c.fetch(ctx, path, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", topic, ErrSnapshotNotFound)
		}
		return nil, fmt.Errorf("get snapshot %s: %w", topic, err)
	}

	f, err := wire.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", topic, err)
	}
	data, ok := f.(*wire.DataFrame)
	if !ok {
		return nil, fmt.Errorf("decode snapshot %s: unexpected %s frame", topic, f.Type())
	}
	if data.Topic != topic {
		return nil, fmt.Errorf("%w: asked for %s, got %s", ErrTopicMismatch, topic, data.Topic)
	}
	return data, nil
}

// Fetch implements the feed's hydration source.
func (c *Client) Fetch(ctx context.Context, topic model.Topic) (*wire.DataFrame, error) {
	return c.GetSnapshot(ctx, topic)
}

// GetInstruments calls GET /instruments once.
func (c *Client) GetInstruments(ctx context.Context, venue, cursor string) (*InstrumentsResponse, error) {
	query := url.Values{}
	if venue != "" {
		query.Set("venue", venue)
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var resp InstrumentsResponse
	if err := c.getJSON(ctx, "/instruments", query, &resp); err != nil {
		return nil, fmt.Errorf("get instruments: %w", err)
	}
	return &resp, nil
}

// GetAllInstruments follows the cursor until the listing is exhausted.
// Entries that do not form a valid topic are skipped.
func (c *Client) GetAllInstruments(ctx context.Context, venue string) ([]Listing, error) {
	var (
		listings []Listing
		cursor   string
		pages    int
	)

	for {
		resp, err := c.GetInstruments(ctx, venue, cursor)
		if err != nil {
			return listings, err
		}
		pages++

		for _, in := range resp.Instruments {
			t, err := model.ParseTopic(in.Venue + ":" + in.Symbol)
			if err != nil {
				c.logger.Debug("skipping instrument", "venue", in.Venue, "symbol", in.Symbol, "error", err)
				continue
			}
			listings = append(listings, Listing{Topic: t, Status: in.Status})
		}

		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	c.logger.Debug("listed instruments", "venue", venue, "count", len(listings), "pages", pages)
	return listings, nil
}
