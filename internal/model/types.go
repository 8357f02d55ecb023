package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrInvalidTopic = errors.New("invalid topic")
	ErrUnknownVenue = errors.New("unknown venue")
	ErrInvalidSide  = errors.New("invalid side")
)

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

// Known venues.
const (
	VenueJupiter = "JUPITER"
	VenueDrift   = "DRIFT"
	VenuePumpFun = "PUMP_FUN"
)

var knownVenues = map[string]struct{}{
	VenueJupiter: {},
	VenueDrift:   {},
	VenuePumpFun: {},
}

// KnownVenue reports whether venue is one of the supported venues.
func KnownVenue(venue string) bool {
	_, ok := knownVenues[strings.ToUpper(venue)]
	return ok
}

// Topic identifies one venue+instrument stream (e.g. JUPITER:SOL/USDC).
// It is a comparable value and is used directly as a map key.
type Topic struct {
	Venue      string // Upper-case venue name, e.g. "JUPITER"
	Instrument string // BASE/QUOTE, e.g. "SOL/USDC"
}

// NewTopic builds a topic, normalizing case.
func NewTopic(venue, instrument string) Topic {
	return Topic{
		Venue:      strings.ToUpper(strings.TrimSpace(venue)),
		Instrument: strings.ToUpper(strings.TrimSpace(instrument)),
	}
}

// ParseTopic parses "VENUE:BASE/QUOTE". The venue is not checked against the
// known venue list; use Validate for that.
func ParseTopic(s string) (Topic, error) {
	venue, instrument, ok := strings.Cut(s, ":")
	if !ok {
		return Topic{}, fmt.Errorf("%w: %q missing venue separator", ErrInvalidTopic, s)
	}
	t := NewTopic(venue, instrument)
	if err := t.checkShape(); err != nil {
		return Topic{}, err
	}
	return t, nil
}

// MustParseTopic is ParseTopic for constants and tests.
func MustParseTopic(s string) Topic {
	t, err := ParseTopic(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the canonical wire form.
func (t Topic) String() string {
	return t.Venue + ":" + t.Instrument
}

// Base returns the base asset of the instrument.
func (t Topic) Base() string {
	base, _, _ := strings.Cut(t.Instrument, "/")
	return base
}

// Quote returns the quote asset of the instrument.
func (t Topic) Quote() string {
	_, quote, _ := strings.Cut(t.Instrument, "/")
	return quote
}

// Validate checks the topic shape and that the venue is supported.
func (t Topic) Validate() error {
	if err := t.checkShape(); err != nil {
		return err
	}
	if !KnownVenue(t.Venue) {
		return fmt.Errorf("%w: %s", ErrUnknownVenue, t.Venue)
	}
	return nil
}

func (t Topic) checkShape() error {
	if t.Venue == "" {
		return fmt.Errorf("%w: empty venue", ErrInvalidTopic)
	}
	base, quote, ok := strings.Cut(t.Instrument, "/")
	if !ok || base == "" || quote == "" || strings.Contains(quote, "/") {
		return fmt.Errorf("%w: instrument %q must be BASE/QUOTE", ErrInvalidTopic, t.Instrument)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler so topics encode as strings.
func (t Topic) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Topic) UnmarshalText(b []byte) error {
	parsed, err := ParseTopic(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// -----------------------------------------------------------------------------
// Classes
// -----------------------------------------------------------------------------

// Class groups topics by payload shape; cache TTLs are configured per class.
type Class string

const (
	ClassTicker    Class = "ticker"
	ClassBook      Class = "book"
	ClassReference Class = "reference"
)

// -----------------------------------------------------------------------------
// Order Book Types
// -----------------------------------------------------------------------------

// Side is one side of an order book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// ParseSide accepts "bid"/"buy" and "ask"/"sell".
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "bid", "buy", "bids":
		return SideBid, nil
	case "ask", "sell", "asks":
		return SideAsk, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// Level is one price level. A zero size means "remove this level" and is
// never stored.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookState is a sorted, depth-bounded view of one topic's order book.
type BookState struct {
	Topic          Topic
	Bids           []Level           // Price descending
	Asks           []Level           // Price ascending
	CumulativeBids []decimal.Decimal // Prefix sums of Bids sizes
	CumulativeAsks []decimal.Decimal // Prefix sums of Asks sizes
	LastUpdated    time.Time
}

// BestBid returns the highest bid, if any.
func (b BookState) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (b BookState) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// Spread returns best ask minus best bid. ok is false when either side is empty.
func (b BookState) Spread() (spread decimal.Decimal, ok bool) {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	if !hasBid || !hasAsk {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// Mid returns the midpoint of the best bid and ask.
func (b BookState) Mid() (decimal.Decimal, bool) {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	if !hasBid || !hasAsk {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// -----------------------------------------------------------------------------
// Snapshots & Updates
// -----------------------------------------------------------------------------

// Snapshot is the last known value for a topic.
type Snapshot struct {
	Topic      Topic
	Class      Class
	Payload    json.RawMessage // Scalar classes (ticker, reference)
	Book       *BookState      // ClassBook only
	ReceivedAt time.Time
	Stale      bool
}

// Source says where a delivered update came from.
type Source string

const (
	SourceLive      Source = "live"
	SourceCache     Source = "cache"
	SourceHydration Source = "hydration"
)

// Update is one coalesced delivery to a subscriber.
type Update struct {
	Snapshot
	Source Source
}
