package lavalink

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// closeReasonDestroy is the sentinel close reason for an intentional
// destroy. A close with code 1000 and this reason is terminal; every other
// close schedules a reconnect.
const closeReasonDestroy = "destroy"

// Node is one outbound websocket connection to a remote playback engine. It
// owns connecting, authentication, resumable-session configuration,
// reconnection after unclean closes, and demultiplexing of inbound frames.
//
// A Node is created through PlayerManager.CreateNode and starts connecting
// immediately.
type Node struct {
	manager *PlayerManager
	opts    NodeOptions
	log     zerolog.Logger

	mu        sync.Mutex
	conn      Conn
	gen       uint64
	resumeKey string
	stats     NodeStats
	hasStats  bool
	reconnect *clock.Timer
	destroyed bool
}

func newNode(manager *PlayerManager, opts NodeOptions) (*Node, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	n := &Node{
		manager: manager,
		opts:    opts,
		log:     opts.Logger.With().Str("node", opts.Tag).Logger(),
	}
	return n, nil
}

// Tag returns the key the node is registered under.
func (n *Node) Tag() string { return n.opts.Tag }

// Region returns the node's advisory region routing key.
func (n *Node) Region() string { return n.opts.Region }

// Connected reports whether the node currently holds a live connection.
// It is derived from the connection object, never cached separately.
func (n *Node) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn != nil
}

// Stats returns the last stats snapshot pushed by the node and whether one
// has been received since the current process started.
func (n *Node) Stats() (NodeStats, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats, n.hasStats
}

// Load is the node-selection metric: CPU system load over core count as a
// percentage. Nodes that have not reported stats yet score zero and are
// therefore preferred.
func (n *Node) Load() float64 {
	stats, ok := n.Stats()
	if !ok || stats.CPU.Cores == 0 {
		return 0
	}
	return stats.CPU.SystemLoad / float64(stats.CPU.Cores) * 100
}

// Connect dials the node. A previous live connection is discarded first so a
// manual reconnect can never leak sockets or double-deliver messages. On
// success the node immediately configures session resumption before any
// other traffic.
func (n *Node) Connect() error {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return ErrNodeDestroyed
	}
	n.stopReconnectLocked()
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
	n.gen++
	gen := n.gen
	header := http.Header{}
	header.Set("Authorization", n.opts.Password)
	header.Set("User-Id", n.manager.opts.UserID)
	header.Set("Num-Shards", strconv.Itoa(n.manager.opts.Shards))
	if n.resumeKey != "" {
		header.Set("Resume-Key", n.resumeKey)
	}
	address := n.opts.Address
	n.mu.Unlock()

	conn, err := n.opts.Dialer.Dial(address, header)
	if err != nil {
		n.log.Warn().Err(err).Str("address", address).Msg("connect failed")
		n.manager.nodeError(n, err)
		n.scheduleReconnect()
		return fmt.Errorf("connect to %s: %w", address, err)
	}

	n.mu.Lock()
	if n.destroyed || gen != n.gen {
		n.mu.Unlock()
		conn.Close()
		return ErrNodeDestroyed
	}
	n.conn = conn
	n.stopReconnectLocked()
	key := uuid.NewString()
	n.resumeKey = key
	n.mu.Unlock()

	n.log.Info().Str("address", address).Msg("node connected")
	n.manager.nodeReady(n)

	// Must be the first frame after open so the session is always resumable.
	if err := n.Send(configureResumingPayload{
		Op:      opConfigureResuming,
		Key:     key,
		Timeout: int(n.opts.ResumeTimeout.Seconds()),
	}); err != nil {
		n.manager.nodeError(n, err)
	}

	go n.readLoop(conn, gen)
	return nil
}

// Send serializes v to JSON and writes it to the socket. It returns
// ErrNotConnected when no connection is live and surfaces serialization and
// write failures to the caller instead of swallowing them.
func (n *Node) Send(v any) error {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// Destroy performs a clean terminal close: the intentional-destroy close
// frame is sent, the connection is dropped, and any pending reconnect is
// cancelled so a destroyed node cannot come back to life. It reports whether
// a live connection existed.
func (n *Node) Destroy() bool {
	n.mu.Lock()
	n.destroyed = true
	n.stopReconnectLocked()
	n.gen++
	conn := n.conn
	n.conn = nil
	n.mu.Unlock()

	if conn == nil {
		return false
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReasonDestroy)
	conn.WriteMessage(websocket.CloseMessage, msg)
	conn.Close()
	n.log.Info().Msg("node destroyed")
	return true
}

// readLoop consumes frames until the connection dies. gen ties the loop to
// the connection that spawned it; a stale loop must not mutate node state.
func (n *Node) readLoop(conn Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			n.handleClose(gen, err)
			return
		}
		n.handleMessage(gen, data)
	}
}

func (n *Node) handleMessage(gen uint64, data []byte) {
	n.mu.Lock()
	stale := gen != n.gen || n.destroyed
	n.mu.Unlock()
	if stale {
		return
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		// Malformed JSON never kills the connection; report and drop.
		n.log.Error().Err(err).Msg("dropping malformed frame")
		n.manager.nodeError(n, fmt.Errorf("parse frame: %w", err))
		return
	}
	msg.Raw = append(json.RawMessage(nil), data...)

	if msg.Op == opStats {
		var stats NodeStats
		if err := json.Unmarshal(data, &stats); err != nil {
			n.manager.nodeError(n, fmt.Errorf("parse stats: %w", err))
		} else {
			n.mu.Lock()
			n.stats = stats
			n.hasStats = true
			n.mu.Unlock()
		}
	} else if msg.GuildID != "" {
		if player, ok := n.manager.Player(msg.GuildID); ok && player.Node() == n {
			player.handleMessage(msg)
		}
	}

	n.manager.nodeMessage(n, msg)
}

// handleClose runs when the read loop dies. A close with the intentional
// destroy code and reason is terminal; anything else schedules a reconnect
// after the configured interval.
func (n *Node) handleClose(gen uint64, err error) {
	n.mu.Lock()
	if gen != n.gen || n.destroyed {
		n.mu.Unlock()
		return
	}
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
	n.mu.Unlock()

	code, reason := closeDetails(err)
	if code == websocket.CloseNormalClosure && reason == closeReasonDestroy {
		n.log.Info().Msg("node closed cleanly")
		n.manager.nodeDisconnect(n, reason)
		return
	}

	n.log.Warn().Int("code", code).Str("reason", reason).Msg("connection lost, scheduling reconnect")
	n.manager.nodeError(n, err)
	n.scheduleReconnect()
}

// scheduleReconnect arms the reconnect timer unless one is already pending.
func (n *Node) scheduleReconnect() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.destroyed || n.reconnect != nil {
		return
	}
	n.reconnect = n.opts.Clock.AfterFunc(n.opts.ReconnectInterval, func() {
		n.mu.Lock()
		n.reconnect = nil
		destroyed := n.destroyed
		n.mu.Unlock()
		if destroyed {
			return
		}
		n.manager.nodeReconnecting(n)
		n.Connect()
	})
}

func (n *Node) stopReconnectLocked() {
	if n.reconnect != nil {
		n.reconnect.Stop()
		n.reconnect = nil
	}
}

// closeDetails extracts the close code and reason from a read error.
func closeDetails(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
