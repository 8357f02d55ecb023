package feed

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/marketsync/internal/batcher"
	"github.com/rickgao/marketsync/internal/breaker"
	"github.com/rickgao/marketsync/internal/cache"
	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/mux"
	"github.com/rickgao/marketsync/internal/poller"
)

// Errors
var (
	ErrClosed     = errors.New("feed client closed")
	ErrNilHandler = errors.New("onUpdate callback is required")
)

// UpstreamError is an error frame the exchange sent for a topic. It is
// delivered to that topic's error callbacks.
type UpstreamError struct {
	Topic   model.Topic
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Topic == (model.Topic{}) {
		return fmt.Sprintf("upstream error: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("upstream error for %s: %s: %s", e.Topic, e.Code, e.Message)
}

// EventKind classifies an Event.
type EventKind string

const (
	EventConnected     EventKind = "connected"
	EventReconnected   EventKind = "reconnected"
	EventDisconnected  EventKind = "disconnected"
	EventFatal         EventKind = "fatal"
	EventBreakerChange EventKind = "breaker"
	EventUpstreamError EventKind = "upstream_error"
	EventResubscribed  EventKind = "resubscribed"
)

// Event is an observability notice. Consumers read them from Client.Events.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Topics  []model.Topic // EventResubscribed
	Breaker breaker.State // EventBreakerChange
	Err     error
}

// Health is a point-in-time summary of a Client.
type Health struct {
	Connection  connection.State
	Breaker     breaker.State
	Topics      int
	Subscribers int
	StaleTopics []model.Topic
	Reconnects  int64
	Fatal       bool
	LastFrame   time.Time
}

// Healthy reports whether the client is connected and the breaker is
// letting commands through.
func (h Health) Healthy() bool {
	return !h.Fatal && h.Connection == connection.StateConnected && h.Breaker == breaker.StateClosed
}

// Stats aggregates every component's counters.
type Stats struct {
	Transport connection.Stats
	Breaker   breaker.Stats
	Mux       mux.Stats
	Batcher   batcher.Stats
	Cache     cache.Stats
	Refresh   poller.Stats

	Deliveries      int64 // Subscriber callback invocations
	CallbackPanics  int64
	UnroutedFrames  int64 // Data frames for topics nobody subscribes to
	InvalidPayloads int64
	UpstreamErrors  int64
	Hydrations      int64
	EventsDropped   int64
}
