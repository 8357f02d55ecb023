package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/wire"
)

// command is one control frame the mock exchange received.
type command struct {
	conn   int
	op     wire.Op
	topics []model.Topic
}

type exchangeConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *exchangeConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// exchange is a mock streaming endpoint. It acks every command, answers
// heartbeats, and lets tests push frames and drop connections.
type exchange struct {
	t        *testing.T
	server   *httptest.Server
	commands chan command
	accepted chan int

	mu    sync.Mutex
	conns []*exchangeConn
}

func newExchange(t *testing.T) *exchange {
	t.Helper()

	ex := &exchange{
		t:        t,
		commands: make(chan command, 64),
		accepted: make(chan int, 8),
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	ex.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer ws.Close()

		conn := &exchangeConn{ws: ws}
		ex.mu.Lock()
		idx := len(ex.conns)
		ex.conns = append(ex.conns, conn)
		ex.mu.Unlock()
		ex.accepted <- idx

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if f, err := wire.Decode(data); err == nil {
				if _, ok := f.(*wire.HeartbeatFrame); ok {
					conn.write(wire.EncodeHeartbeat())
				}
				continue
			}
			op, topics, err := wire.DecodeCommand(data)
			if err != nil {
				t.Logf("exchange: bad command %s: %v", data, err)
				continue
			}
			ex.commands <- command{conn: idx, op: op, topics: topics}
			if ack, err := wire.EncodeAck(op, topics); err == nil {
				conn.write(ack)
			}
		}
	}))
	t.Cleanup(ex.server.Close)

	return ex
}

func (ex *exchange) url() string {
	return "ws" + strings.TrimPrefix(ex.server.URL, "http")
}

func (ex *exchange) waitConn() int {
	ex.t.Helper()
	select {
	case idx := <-ex.accepted:
		return idx
	case <-time.After(3 * time.Second):
		ex.t.Fatal("timeout waiting for a connection")
	}
	return -1
}

func (ex *exchange) nextCommand() command {
	ex.t.Helper()
	select {
	case cmd := <-ex.commands:
		return cmd
	case <-time.After(3 * time.Second):
		ex.t.Fatal("timeout waiting for a command")
	}
	return command{}
}

func (ex *exchange) noCommand(d time.Duration) {
	ex.t.Helper()
	select {
	case cmd := <-ex.commands:
		ex.t.Fatalf("unexpected command %s %v on conn %d", cmd.op, cmd.topics, cmd.conn)
	case <-time.After(d):
	}
}

func (ex *exchange) send(idx int, frame string) {
	ex.t.Helper()
	ex.mu.Lock()
	conn := ex.conns[idx]
	ex.mu.Unlock()
	if err := conn.write([]byte(frame)); err != nil {
		ex.t.Fatalf("exchange send: %v", err)
	}
}

// dropAll closes every connection without a close handshake.
func (ex *exchange) dropAll() {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	for _, c := range ex.conns {
		c.ws.Close()
	}
}

func dataFrame(topic model.Topic, payload string) string {
	return fmt.Sprintf(`{"type":"data","topic":%q,"payload":%s}`, topic.String(), payload)
}

func levelFrame(topic model.Topic, side model.Side, price, size string) string {
	return dataFrame(topic, string(wire.LevelPayload(side, price, size)))
}

// recorder collects one subscriber's callbacks.
type recorder struct {
	mu      sync.Mutex
	updates []model.Update
	errs    []error
}

func (r *recorder) onUpdate(u model.Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *recorder) last() (model.Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return model.Update{}, false
	}
	return r.updates[len(r.updates)-1], true
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.Transport.Client.URL = url
	cfg.Transport.ReconnectBaseWait = 10 * time.Millisecond
	cfg.Transport.ReconnectMaxWait = 50 * time.Millisecond
	cfg.Transport.Jitter = 0
	cfg.Transport.HeartbeatInterval = 0
	cfg.Batcher.Window = 5 * time.Millisecond
	cfg.SweepInterval = 0
	return cfg
}

func startClient(t *testing.T, cfg Config, opts ...Option) *Client {
	t.Helper()

	c, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})
	return c
}
