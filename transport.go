package lavalink

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of a websocket connection the Node needs. It is
// satisfied by *websocket.Conn and by fakes in tests.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a websocket connection to a node.
type Dialer interface {
	Dial(url string, header http.Header) (Conn, error)
}

type wsDialer struct {
	dialer *websocket.Dialer
}

func newWSDialer(handshakeTimeout time.Duration) *wsDialer {
	return &wsDialer{dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout}}
}

func (d *wsDialer) Dial(url string, header http.Header) (Conn, error) {
	conn, resp, err := d.dialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, nil
}
