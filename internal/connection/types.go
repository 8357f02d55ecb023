package connection

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no heartbeat)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrQueueFull       = errors.New("outbound queue full")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// TransportError is a connection-level failure. It is retryable unless the
// reconnect attempt cap was reached, in which case Fatal is set and the
// transport has stopped.
type TransportError struct {
	Op       string // "dial", "read", "heartbeat"
	Attempts int    // Consecutive failed attempts when the error was raised
	Fatal    bool
	Err      error
}

func (e *TransportError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("transport %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the transport will keep trying.
func (e *TransportError) Retryable() bool {
	return !e.Fatal
}

// State is the transport connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Stats provides statistics about the transport.
type Stats struct {
	State          State
	Reconnects     int64 // Successful connects after the first
	Attempts       int   // Current run of consecutive failed attempts
	FramesReceived int64
	FramesDropped  int64 // Frames that failed validation
	Sent           int64
	Queued         int // Commands waiting for a connection
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://stream.example.com/v1/ws)
	APIKey           string        // Sent as a bearer token when set
	HandshakeTimeout time.Duration // Dial handshake timeout
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       4096,
	}
}

// TransportConfig configures the Transport.
type TransportConfig struct {
	Client ClientConfig

	ReconnectBaseWait time.Duration // Delay before the first reconnect attempt
	ReconnectMaxWait  time.Duration // Backoff cap
	BackoffFactor     float64       // Growth per failed attempt
	Jitter            float64       // ±fraction applied to each delay, 0 disables
	MaxAttempts       int           // Consecutive failures before giving up, 0 = unlimited

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	QueueSize int // Outbound commands held while disconnected
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Client:            DefaultClientConfig(),
		ReconnectBaseWait: 500 * time.Millisecond,
		ReconnectMaxWait:  30 * time.Second,
		BackoffFactor:     2,
		Jitter:            0.2,
		MaxAttempts:       10,
		HeartbeatInterval: 15 * time.Second,
		HeartbeatTimeout:  45 * time.Second,
		QueueSize:         256,
	}
}
