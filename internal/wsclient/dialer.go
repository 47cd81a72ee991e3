package wsclient

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the transport surface the client needs from a WebSocket connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer establishes WebSocket connections. The gorilla-backed implementation
// is the default; tests substitute their own.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

type gorillaDialer struct {
	d *websocket.Dialer
}

// NewGorillaDialer returns the production Dialer with the given handshake
// timeout.
func NewGorillaDialer(handshakeTimeout time.Duration) Dialer {
	return gorillaDialer{d: &websocket.Dialer{HandshakeTimeout: handshakeTimeout}}
}

func (g gorillaDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	conn, _, err := g.d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
