package wire

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/model"
)

// Payload kinds carried in the "kind" field of a data payload.
const (
	KindLevel     = "level"
	KindBook      = "book"
	KindTicker    = "ticker"
	KindReference = "reference"
)

// LevelDelta is one order-book level update.
type LevelDelta struct {
	Side  model.Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookPayload replaces both sides of a book.
type BookPayload struct {
	Bids []model.Level
	Asks []model.Level
}

// Payload is a classified data payload. Exactly one of Level and Book is set
// for ClassBook; both are nil for scalar classes, whose value is Raw.
type Payload struct {
	Class model.Class
	Level *LevelDelta
	Book  *BookPayload
	Raw   json.RawMessage
}

// ParsePayload classifies a data payload.
func ParsePayload(raw json.RawMessage) (Payload, error) {
	var wire payloadWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Payload{}, &ValidationError{Reason: "malformed payload", Raw: raw, Err: err}
	}

	switch wire.Kind {
	case KindLevel:
		delta, err := parseLevel(wire)
		if err != nil {
			return Payload{}, &ValidationError{Reason: "level payload", Raw: raw, Err: err}
		}
		return Payload{Class: model.ClassBook, Level: delta, Raw: raw}, nil

	case KindBook:
		book, err := parseBook(wire)
		if err != nil {
			return Payload{}, &ValidationError{Reason: "book payload", Raw: raw, Err: err}
		}
		return Payload{Class: model.ClassBook, Book: book, Raw: raw}, nil

	case KindReference:
		return Payload{Class: model.ClassReference, Raw: raw}, nil

	default:
		return Payload{Class: model.ClassTicker, Raw: raw}, nil
	}
}

func parseLevel(w payloadWire) (*LevelDelta, error) {
	side, err := model.ParseSide(w.Side)
	if err != nil {
		return nil, err
	}
	if w.Price == nil || w.Size == nil {
		return nil, fmt.Errorf("price and size are required")
	}
	if err := checkLevel(*w.Price, *w.Size); err != nil {
		return nil, err
	}
	return &LevelDelta{Side: side, Price: *w.Price, Size: *w.Size}, nil
}

func parseBook(w payloadWire) (*BookPayload, error) {
	bids, err := toLevels(w.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := toLevels(w.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}
	return &BookPayload{Bids: bids, Asks: asks}, nil
}

func toLevels(pairs [][2]decimal.Decimal) ([]model.Level, error) {
	levels := make([]model.Level, 0, len(pairs))
	for _, p := range pairs {
		if err := checkLevel(p[0], p[1]); err != nil {
			return nil, err
		}
		levels = append(levels, model.Level{Price: p[0], Size: p[1]})
	}
	return levels, nil
}

func checkLevel(price, size decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s", price)
	}
	if size.IsNegative() {
		return fmt.Errorf("size must not be negative, got %s", size)
	}
	return nil
}

// LevelPayload builds a level payload; used by test servers and tooling.
func LevelPayload(side model.Side, price, size string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{
		"kind":  KindLevel,
		"side":  string(side),
		"price": price,
		"size":  size,
	})
	return data
}
