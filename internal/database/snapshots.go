package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/wire"
)

// Errors
var (
	ErrNoSnapshot     = errors.New("no stored snapshot")
	ErrInvalidPayload = errors.New("stored payload is not a json object")
)

// Querier is the subset of *pgxpool.Pool used by SnapshotSource.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SnapshotSource serves the latest stored snapshot per topic.
type SnapshotSource struct {
	db     Querier
	query  string
	logger *slog.Logger
}

// NewSnapshotSource creates a source over table, which may be schema
// qualified ("public.market_snapshots").
func NewSnapshotSource(db Querier, table string, logger *slog.Logger) *SnapshotSource {
	if logger == nil {
		logger = slog.Default()
	}
	ident := pgx.Identifier(strings.Split(table, "."))
	return &SnapshotSource{
		db: db,
		query: `SELECT payload, exchange_ts FROM ` + ident.Sanitize() + `
			WHERE venue = $1 AND instrument = $2
			ORDER BY received_at DESC
			LIMIT 1`,
		logger: logger,
	}
}

// Fetch returns the most recent stored frame for topic. A topic with no rows
// is reported as ErrNoSnapshot.
func (s *SnapshotSource) Fetch(ctx context.Context, topic model.Topic) (*wire.DataFrame, error) {
	var (
		payload []byte
		ts      *int64
	)
	err := s.db.QueryRow(ctx, s.query, topic.Venue, topic.Instrument).Scan(&payload, &ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", topic, ErrNoSnapshot)
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot %s: %w", topic, err)
	}

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return nil, fmt.Errorf("%s: %w", topic, ErrInvalidPayload)
	}

	f := &wire.DataFrame{Topic: topic, Payload: payload}
	if ts != nil {
		f.Timestamp = *ts
	}
	s.logger.Debug("loaded stored snapshot", "topic", topic, "bytes", len(payload))
	return f, nil
}
