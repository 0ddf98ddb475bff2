package chathub

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"teamdash/chat/internal/config"
)

// Conn is the live channel as seen by the Connection. It abstracts the
// underlying transport so tests can drive the connection without a network;
// *websocket.Conn satisfies it directly.
type Conn interface {
	// ReadMessage blocks until the next frame arrives or the channel fails.
	ReadMessage() (messageType int, p []byte, err error)
	// WriteMessage writes one frame. At most one writer may call it at a time.
	WriteMessage(messageType int, data []byte) error
	// Close releases the underlying transport.
	Close() error
}

// Dialer opens a live channel to a room address.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

// Dial calls f(ctx, url).
func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }

// WebsocketDialer dials rooms with gorilla/websocket and arms the read
// deadline/pong keepalive on every new connection.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// NewWebsocketDialer returns a dialer that presents the bearer token.
func NewWebsocketDialer(accessToken string) *WebsocketDialer {
	h := http.Header{}
	if accessToken != "" {
		h.Set("Authorization", "Bearer "+accessToken)
	}
	return &WebsocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		Header: h,
	}
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(config.MaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(config.PongWait))
	})
	return conn, nil
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

type controlWriter interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
}
