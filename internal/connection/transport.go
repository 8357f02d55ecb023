package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/marketsync/internal/wire"
)

// Handler receives transport events. Callbacks run on the transport's
// goroutine, one at a time, in order; they must not block for long.
type Handler interface {
	// OnOpen is called after every successful connect, once queued commands
	// have been flushed.
	OnOpen()

	// OnFrame is called for every decoded non-heartbeat frame.
	OnFrame(frame wire.Frame, receivedAt time.Time)

	// OnClose is called when the connection drops unintentionally. A
	// reconnect follows unless the attempt cap is hit.
	OnClose(reason error)

	// OnFatal is called once when the transport gives up.
	OnFatal(err *TransportError)
}

// ClientFactory creates the Client used for one connection attempt.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithClientFactory replaces the WebSocket client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(t *Transport) {
		t.newClient = f
	}
}

// Transport owns one logical streaming connection and keeps it alive.
type Transport struct {
	cfg       TransportConfig
	handler   Handler
	logger    *slog.Logger
	newClient ClientFactory
	backoff   *Backoff
	queue     *Queue[[]byte]

	// sendMu orders direct sends after the reconnect flush.
	sendMu sync.Mutex

	mu       sync.Mutex
	state    State
	client   Client
	failures int
	started  bool
	stopped  bool
	fatalErr *TransportError
	lastSeen time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connects       atomic.Int64
	framesReceived atomic.Int64
	framesDropped  atomic.Int64
	sent           atomic.Int64
}

// NewTransport creates a Transport. It does not connect until Start.
func NewTransport(cfg TransportConfig, handler Handler, opts ...Option) *Transport {
	t := &Transport{
		cfg:       cfg,
		handler:   handler,
		newClient: NewClient,
		backoff:   NewBackoff(cfg),
		queue:     NewQueue[[]byte](cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Start begins connecting in the background. Commands sent before the first
// connection succeeds are queued.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return ErrAlreadyClosed
	}
	if t.started {
		return nil
	}
	t.started = true
	t.ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(1)
	go t.run()

	t.logger.Info("transport started", "url", t.cfg.Client.URL)
	return nil
}

// Stop closes the connection and stops reconnecting.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	wasStarted := t.started
	if t.state == StateConnected {
		t.state = StateClosing
	}
	t.mu.Unlock()

	if !wasStarted {
		return nil
	}

	t.logger.Info("stopping transport")
	t.cancel()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.logger.Warn("shutdown timeout, forcing close")
		return ctx.Err()
	}

	t.setState(StateDisconnected)
	t.logger.Info("transport stopped")
	return nil
}

// Close is Stop without a deadline.
func (t *Transport) Close() error {
	return t.Stop(context.Background())
}

// Send writes a command, or queues it while not connected. It returns
// ErrQueueFull when the queue is at its limit, ErrAlreadyClosed after Stop,
// and the fatal TransportError once the transport has given up.
func (t *Transport) Send(data []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.mu.Lock()
	state, c, stopped, fatal := t.state, t.client, t.stopped, t.fatalErr
	t.mu.Unlock()

	switch {
	case stopped:
		return ErrAlreadyClosed
	case fatal != nil:
		return fatal
	case state != StateConnected || c == nil || t.queue.Len() > 0:
		return t.queue.Push(data)
	}

	if err := c.Send(data); err != nil {
		// The read loop will notice the broken connection; keep the command
		// for the next one.
		t.logger.Debug("send failed, queueing", "error", err)
		return t.queue.Push(data)
	}
	t.sent.Add(1)
	return nil
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stats returns current statistics.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	state, failures := t.state, t.failures
	t.mu.Unlock()

	reconnects := t.connects.Load() - 1
	if reconnects < 0 {
		reconnects = 0
	}
	return Stats{
		State:          state,
		Reconnects:     reconnects,
		Attempts:       failures,
		FramesReceived: t.framesReceived.Load(),
		FramesDropped:  t.framesDropped.Load(),
		Sent:           t.sent.Load(),
		Queued:         t.queue.Len(),
	}
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// run is the connect → serve → backoff loop.
func (t *Transport) run() {
	defer t.wg.Done()

	for {
		if t.ctx.Err() != nil {
			return
		}

		t.setState(StateConnecting)
		c := t.newClient(t.cfg.Client, t.logger)

		if err := c.Connect(t.ctx); err != nil {
			c.Close()
			if t.ctx.Err() != nil {
				return
			}
			t.logger.Warn("connect failed", "url", t.cfg.Client.URL, "error", err)
			t.setState(StateDisconnected)
			if !t.retry("dial", err) {
				return
			}
			continue
		}

		t.opened(c)
		t.handler.OnOpen()

		healthy, reason := t.serve(c)
		c.Close()

		t.mu.Lock()
		t.client = nil
		if t.state != StateClosing {
			t.state = StateDisconnected
		}
		t.mu.Unlock()

		if t.ctx.Err() != nil {
			return
		}

		t.logger.Warn("connection lost", "error", reason)
		t.handler.OnClose(reason)
		// A session that never delivered a frame counts as a failed attempt,
		// so a server that accepts and drops at once still backs off.
		op := "read"
		if !healthy {
			op = "session"
		}
		if !t.retry(op, reason) {
			return
		}
	}
}

// opened installs a fresh connection and flushes queued commands before any
// new Send is let through.
func (t *Transport) opened(c Client) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.mu.Lock()
	t.client = c
	t.state = StateConnected
	t.lastSeen = time.Now()
	t.mu.Unlock()

	if n := t.connects.Add(1); n > 1 {
		t.logger.Info("reconnected", "reconnects", n-1)
	} else {
		t.logger.Info("connected", "url", t.cfg.Client.URL)
	}

	flushed := 0
	for {
		data, ok := t.queue.Pop()
		if !ok {
			break
		}
		if err := c.Send(data); err != nil {
			t.queue.PushFront(data)
			t.logger.Warn("queue flush interrupted", "remaining", t.queue.Len(), "error", err)
			break
		}
		t.sent.Add(1)
		flushed++
	}
	if flushed > 0 {
		t.logger.Debug("flushed queued commands", "count", flushed)
	}
}

// serve pumps frames and heartbeats until the connection ends. healthy
// reports whether any frame arrived; the first one clears the failure count.
func (t *Transport) serve(c Client) (healthy bool, reason error) {
	var tick <-chan time.Time
	if t.cfg.HeartbeatInterval > 0 {
		ticker := time.NewTicker(t.cfg.HeartbeatInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-t.ctx.Done():
			return healthy, t.ctx.Err()

		case err := <-c.Errors():
			// Frames read before the failure are still queued.
			for drained := false; !drained; {
				select {
				case msg := <-c.Messages():
					healthy = t.receive(msg, healthy)
				default:
					drained = true
				}
			}
			return healthy, err

		case msg := <-c.Messages():
			healthy = t.receive(msg, healthy)

		case now := <-tick:
			if t.cfg.HeartbeatTimeout > 0 && now.Sub(t.seen()) > t.cfg.HeartbeatTimeout {
				t.logger.Warn("no heartbeat reply, forcing reconnect",
					"last_seen", t.seen(),
					"timeout", t.cfg.HeartbeatTimeout,
				)
				return healthy, ErrStaleConnection
			}
			if err := c.Send(wire.EncodeHeartbeat()); err != nil {
				return healthy, err
			}
		}
	}
}

// receive handles one inbound frame. The first frame of a session resets
// the failure count.
func (t *Transport) receive(msg TimestampedMessage, healthy bool) bool {
	t.mu.Lock()
	t.lastSeen = time.Now()
	if !healthy {
		t.failures = 0
	}
	t.mu.Unlock()

	t.dispatch(msg)
	return true
}

func (t *Transport) dispatch(msg TimestampedMessage) {
	t.framesReceived.Add(1)

	frame, err := wire.Decode(msg.Data)
	if err != nil {
		t.framesDropped.Add(1)
		t.logger.Warn("dropping invalid frame", "error", err)
		return
	}

	// Heartbeats only refresh liveness.
	if _, ok := frame.(*wire.HeartbeatFrame); ok {
		return
	}
	t.handler.OnFrame(frame, msg.ReceivedAt)
}

func (t *Transport) seen() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeen
}

// retry records a failure and waits out the backoff. It returns false when
// the transport should stop, either because it was stopped or because the
// attempt cap was reached.
func (t *Transport) retry(op string, cause error) bool {
	t.mu.Lock()
	if op != "read" {
		t.failures++
	}
	failures := t.failures
	t.mu.Unlock()

	if t.cfg.MaxAttempts > 0 && failures >= t.cfg.MaxAttempts {
		fatal := &TransportError{Op: op, Attempts: failures, Fatal: true, Err: cause}
		t.mu.Lock()
		t.fatalErr = fatal
		t.state = StateDisconnected
		t.mu.Unlock()

		t.logger.Error("giving up on connection", "attempts", failures, "error", cause)
		t.handler.OnFatal(fatal)
		return false
	}

	wait := t.backoff.Delay(max(failures, 1))
	t.logger.Info("reconnecting", "attempt", failures+1, "wait", wait)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-t.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// IsFatal reports whether err is a transport error that ended the transport.
func IsFatal(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Fatal
}
