package lavalink

import "errors"

var (
	// ErrNotConnected is returned by send paths when the node has no live
	// websocket connection. Callers are expected to tolerate it and retry
	// once the node reconnects.
	ErrNotConnected = errors.New("no available websocket connection for selected node")

	// ErrNodeDestroyed is returned when connecting a node that was
	// explicitly destroyed.
	ErrNodeDestroyed = errors.New("node has been destroyed")

	// ErrInvalidHost is returned by Join when the requested host or tag has
	// no registered node.
	ErrInvalidHost = errors.New("no registered node for the requested host")

	// ErrNoNodes is returned by Join when no connected node is available.
	ErrNoNodes = errors.New("no connected nodes available")

	// ErrVoiceTimeout is surfaced through the manager's GuildError handler
	// when a voice handshake never pairs within the configured window.
	ErrVoiceTimeout = errors.New("timed out waiting for voice server/state pair")
)
