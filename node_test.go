package lavalink

import (
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeConnectAuthAndResumeConfig(t *testing.T) {
	env := newTestEnv(t)
	node := env.createNode(t, NodeOptions{Host: "localhost"})

	require.True(t, node.Connected())
	require.Equal(t, "localhost", node.Tag())

	attempt := env.dialer.attempt(0)
	assert.Equal(t, "ws://localhost:2333", attempt.url)
	assert.Equal(t, DefaultPassword, attempt.header.Get("Authorization"))
	assert.Equal(t, "bot-user", attempt.header.Get("User-Id"))
	assert.Equal(t, "1", attempt.header.Get("Num-Shards"))
	assert.Empty(t, attempt.header.Get("Resume-Key"))

	// Resume configuration must be the very first frame after open.
	ops := attempt.conn.ops(t)
	require.NotEmpty(t, ops)
	assert.Equal(t, "configureResuming", ops[0]["op"])
	assert.NotEmpty(t, ops[0]["key"])
	assert.Equal(t, float64(60), ops[0]["timeout"])
}

func TestNodeCachesStats(t *testing.T) {
	env := newTestEnv(t)
	node := env.createNode(t, NodeOptions{Host: "localhost"})

	env.dialer.lastConn().push(t, map[string]any{
		"op":             "stats",
		"players":        3,
		"playingPlayers": 2,
		"cpu":            map[string]any{"cores": 4, "systemLoad": 2.0},
	})

	eventually(t, func() bool {
		stats, ok := node.Stats()
		return ok && stats.Players == 3
	})
	assert.InDelta(t, 50.0, node.Load(), 0.001)

	// Raw payload is forwarded to the manager as well.
	eventually(t, func() bool { return env.messageCount() == 1 })
}

func TestNodeMalformedFrameKeepsConnectionAlive(t *testing.T) {
	env := newTestEnv(t)
	node := env.createNode(t, NodeOptions{Host: "localhost"})
	conn := env.dialer.lastConn()

	conn.pushRaw([]byte("{this is not json"))
	eventually(t, func() bool { return env.nodeErrorCount() == 1 })
	require.True(t, node.Connected())

	// The connection still processes later frames.
	conn.push(t, map[string]any{"op": "stats", "players": 1})
	eventually(t, func() bool {
		stats, ok := node.Stats()
		return ok && stats.Players == 1
	})
}

func TestNodeUncleanCloseReconnectsWithResumeKey(t *testing.T) {
	env := newTestEnv(t)
	node := env.createNode(t, NodeOptions{Host: "localhost"})

	first := env.dialer.attempt(0)
	resume := first.conn.opsNamed(t, "configureResuming")
	require.Len(t, resume, 1)
	key := resume[0]["key"].(string)

	first.conn.pushError(&websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "abnormal closure"})
	eventually(t, func() bool { return !node.Connected() })

	// No immediate redial; the reconnect waits for the configured interval.
	require.Equal(t, 1, env.dialer.attemptCount())

	eventually(t, func() bool {
		env.clock.Add(DefaultReconnectInterval)
		return env.dialer.attemptCount() >= 2
	})
	eventually(t, func() bool { return node.Connected() })

	second := env.dialer.attempt(1)
	assert.Equal(t, key, second.header.Get("Resume-Key"))
	assert.Equal(t, 1, env.reconnectCount())
}

func TestNodeCloseCode1000WithoutDestroyReasonReconnects(t *testing.T) {
	env := newTestEnv(t)
	node := env.createNode(t, NodeOptions{Host: "localhost"})

	env.dialer.lastConn().pushError(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "going away"})
	eventually(t, func() bool { return !node.Connected() })

	eventually(t, func() bool {
		env.clock.Add(DefaultReconnectInterval)
		return env.dialer.attemptCount() >= 2
	})
}

func TestNodeRemoteCleanDestroyIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	node := env.createNode(t, NodeOptions{Host: "localhost"})

	env.dialer.lastConn().pushError(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "destroy"})
	eventually(t, func() bool { return !node.Connected() })
	eventually(t, func() bool { return len(env.disconnectReasons()) == 1 })
	assert.Equal(t, "destroy", env.disconnectReasons()[0])

	for i := 0; i < 3; i++ {
		env.clock.Add(DefaultReconnectInterval)
	}
	assert.Equal(t, 1, env.dialer.attemptCount())
}

func TestNodeDestroy(t *testing.T) {
	env := newTestEnv(t)
	node := env.createNode(t, NodeOptions{Host: "localhost"})
	conn := env.dialer.lastConn()

	require.True(t, node.Destroy())
	require.False(t, node.Connected())

	closes := conn.closeFrames()
	require.Len(t, closes, 1)
	assert.Contains(t, string(closes[0].data), "destroy")

	// Destroyed is terminal: no reconnect, no second destroy, no sends.
	for i := 0; i < 3; i++ {
		env.clock.Add(DefaultReconnectInterval)
	}
	assert.Equal(t, 1, env.dialer.attemptCount())
	assert.False(t, node.Destroy())
	assert.ErrorIs(t, node.Send(stopPayload{Op: opStop, GuildID: "G1"}), ErrNotConnected)
	assert.ErrorIs(t, node.Connect(), ErrNodeDestroyed)
}

func TestNodeDestroyCancelsPendingReconnect(t *testing.T) {
	env := newTestEnv(t)
	node := env.createNode(t, NodeOptions{Host: "localhost"})

	env.dialer.lastConn().pushError(&websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "abnormal closure"})
	eventually(t, func() bool { return !node.Connected() })

	// No live connection, so Destroy reports false, but it must still keep
	// the node from coming back to life via the pending timer.
	assert.False(t, node.Destroy())
	for i := 0; i < 3; i++ {
		env.clock.Add(DefaultReconnectInterval)
	}
	assert.Equal(t, 1, env.dialer.attemptCount())
}

func TestNodeDialFailureRetries(t *testing.T) {
	env := newTestEnv(t)
	env.dialer.err = errors.New("connection refused")

	node, err := env.manager.CreateNode(NodeOptions{Host: "localhost", Dialer: env.dialer, Clock: env.clock})
	require.NoError(t, err)
	require.False(t, node.Connected())
	require.GreaterOrEqual(t, env.nodeErrorCount(), 1)

	env.dialer.mu.Lock()
	env.dialer.err = nil
	env.dialer.mu.Unlock()

	eventually(t, func() bool {
		env.clock.Add(DefaultReconnectInterval)
		return node.Connected()
	})
}

func TestNodeIgnoresFramesFromPreviousConnection(t *testing.T) {
	env := newTestEnv(t)
	node := env.createNode(t, NodeOptions{Host: "localhost"})
	stale := env.dialer.lastConn()

	// Manual reconnect swaps the connection; the old one is now stale.
	require.NoError(t, node.Connect())
	require.Equal(t, 2, env.dialer.attemptCount())

	stale.push(t, map[string]any{"op": "stats", "players": 99})
	env.dialer.lastConn().push(t, map[string]any{"op": "stats", "players": 1})

	eventually(t, func() bool {
		stats, ok := node.Stats()
		return ok && stats.Players == 1
	})
	stats, _ := node.Stats()
	assert.Equal(t, 1, stats.Players)
}

func TestNodeSendMarshalError(t *testing.T) {
	env := newTestEnv(t)
	node := env.createNode(t, NodeOptions{Host: "localhost"})

	err := node.Send(make(chan int))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConnected)
}
