package wire

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Frame type discriminators.
const (
	typeData         = "data"
	typeHeartbeat    = "heartbeat"
	typeError        = "error"
	typeSubscribed   = "subscribed"
	typeUnsubscribed = "unsubscribed"
)

// ValidationError reports a malformed or unparseable frame. The frame is
// dropped; the connection stays up.
type ValidationError struct {
	Reason string
	Raw    []byte
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid frame: %s: %v", e.Reason, e.Err)
	}
	return "invalid frame: " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Wire types for JSON parsing

// envelope is used for fast type extraction.
type envelope struct {
	Type string `json:"type"`
}

// dataWire is the wire format for data frames.
type dataWire struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// errorWire is the wire format for error frames.
type errorWire struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Topic   string `json:"topic,omitempty"`
}

// ackWire is the wire format for subscribed/unsubscribed frames.
type ackWire struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

// commandWire is the wire format for outbound control frames.
type commandWire struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

// payloadWire covers every structured payload shape.
type payloadWire struct {
	Kind  string               `json:"kind"`
	Side  string               `json:"side"`
	Price *decimal.Decimal     `json:"price"`
	Size  *decimal.Decimal     `json:"size"`
	Bids  [][2]decimal.Decimal `json:"bids"`
	Asks  [][2]decimal.Decimal `json:"asks"`
}
