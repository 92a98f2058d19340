package lavalink

import (
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// frame is one inbound read result queued on a fakeConn.
type frame struct {
	data []byte
	err  error
}

type writtenFrame struct {
	messageType int
	data        []byte
}

// fakeConn is an in-memory Conn. Tests push inbound frames (or read errors)
// and inspect what the node wrote.
type fakeConn struct {
	frames    chan frame
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []writtenFrame
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan frame, 32),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.frames:
		if f.err != nil {
			return 0, nil, f.err
		}
		return websocket.TextMessage, f.data, nil
	case <-c.done:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "use of closed connection"}
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, writtenFrame{messageType, append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// push queues an inbound text frame.
func (c *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	c.frames <- frame{data: data}
}

func (c *fakeConn) pushRaw(data []byte) {
	c.frames <- frame{data: data}
}

func (c *fakeConn) pushError(err error) {
	c.frames <- frame{err: err}
}

// ops decodes every written text frame into a generic map.
func (c *fakeConn) ops(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, w := range c.written {
		if w.messageType != websocket.TextMessage {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(w.data, &m))
		out = append(out, m)
	}
	return out
}

// opsNamed filters written frames by op.
func (c *fakeConn) opsNamed(t *testing.T, op string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range c.ops(t) {
		if m["op"] == op {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) closeFrames() []writtenFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []writtenFrame
	for _, w := range c.written {
		if w.messageType == websocket.CloseMessage {
			out = append(out, w)
		}
	}
	return out
}

type dialAttempt struct {
	url    string
	header http.Header
	conn   *fakeConn
}

// fakeDialer hands out a fresh fakeConn per dial and records the attempts.
type fakeDialer struct {
	mu       sync.Mutex
	attempts []dialAttempt
	err      error
}

func (d *fakeDialer) Dial(url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.attempts = append(d.attempts, dialAttempt{url: url, header: header.Clone(), conn: conn})
	return conn, nil
}

func (d *fakeDialer) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.attempts)
}

func (d *fakeDialer) attempt(i int) dialAttempt {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[i]
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[len(d.attempts)-1].conn
}

// fakeGateway records the voice packets the manager sends to the platform.
type fakeGateway struct {
	mu      sync.Mutex
	packets []*GatewayPacket
	err     error
}

func (g *fakeGateway) SendWS(packet *GatewayPacket) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.packets = append(g.packets, packet)
	return nil
}

func (g *fakeGateway) sent() []*GatewayPacket {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*GatewayPacket(nil), g.packets...)
}

// testEnv bundles a manager wired to fakes.
type testEnv struct {
	manager *PlayerManager
	gateway *fakeGateway
	dialer  *fakeDialer
	clock   *clock.Mock

	mu          sync.Mutex
	nodeErrors  []error
	guildErrors map[string]error
	messages    []Message
	reconnects  int
	disconnects []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		gateway:     &fakeGateway{},
		dialer:      &fakeDialer{},
		clock:       clock.NewMock(),
		guildErrors: make(map[string]error),
	}
	manager, err := NewPlayerManager(ManagerOptions{
		UserID:  "bot-user",
		Shards:  1,
		Gateway: env.gateway,
		Clock:   env.clock,
		Handlers: ManagerHandlers{
			NodeError: func(_ *Node, err error) {
				env.mu.Lock()
				env.nodeErrors = append(env.nodeErrors, err)
				env.mu.Unlock()
			},
			NodeReconnecting: func(*Node) {
				env.mu.Lock()
				env.reconnects++
				env.mu.Unlock()
			},
			NodeDisconnect: func(_ *Node, reason string) {
				env.mu.Lock()
				env.disconnects = append(env.disconnects, reason)
				env.mu.Unlock()
			},
			NodeMessage: func(_ *Node, msg Message) {
				env.mu.Lock()
				env.messages = append(env.messages, msg)
				env.mu.Unlock()
			},
			GuildError: func(guildID string, err error) {
				env.mu.Lock()
				env.guildErrors[guildID] = err
				env.mu.Unlock()
			},
		},
	})
	require.NoError(t, err)
	env.manager = manager
	return env
}

func (e *testEnv) createNode(t *testing.T, opts NodeOptions) *Node {
	t.Helper()
	opts.Dialer = e.dialer
	opts.Clock = e.clock
	node, err := e.manager.CreateNode(opts)
	require.NoError(t, err)
	return node
}

func (e *testEnv) nodeErrorCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.nodeErrors)
}

func (e *testEnv) guildError(guildID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.guildErrors[guildID]
}

func (e *testEnv) messageCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.messages)
}

func (e *testEnv) reconnectCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconnects
}

func (e *testEnv) disconnectReasons() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.disconnects...)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
