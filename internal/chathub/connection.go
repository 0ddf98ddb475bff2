package chathub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"teamdash/chat/internal/config"
	"teamdash/chat/internal/models"
)

// State is the lifecycle state of a live channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// RoomURL is the live channel address of a room under the websocket base.
func RoomURL(liveBase, room string) string {
	return strings.TrimRight(liveBase, "/") + "/ws/chat/" + url.PathEscape(room) + "/"
}

// ConnectionOptions tunes a Connection. Zero fields take the defaults from
// the config package.
type ConnectionOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	PingPeriod  time.Duration
	WriteWait   time.Duration
	EventBuffer int
	Codec       Codec
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = config.MaxReconnectAttempts
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = config.BaseReconnectDelay
	}
	if o.PingPeriod == 0 {
		o.PingPeriod = config.PingPeriod
	}
	if o.WriteWait == 0 {
		o.WriteWait = config.WriteWait
	}
	if o.EventBuffer == 0 {
		o.EventBuffer = config.EventBuffer
	}
	return o
}

// Connection owns exactly one live channel bound to a room. State is owned
// here; observers read it through State and Events and never mutate it.
// A Connection is single use: once closed it stays closed.
type Connection struct {
	room   string
	url    string
	dialer Dialer
	codec  Codec
	opts   ConnectionOptions
	log    zerolog.Logger

	events chan Event
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	conn    Conn
	policy  *ReconnectPolicy
	retry   *time.Timer
	started bool
	closed  bool
	dials   int

	// gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

// NewConnection prepares a connection for room at the given address.
// Nothing is dialled until Open.
func NewConnection(room, address string, dialer Dialer, opts ConnectionOptions, logger zerolog.Logger) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		room:   room,
		url:    address,
		dialer: dialer,
		codec:  opts.Codec,
		opts:   opts,
		log:    logger.With().Str("component", "connection").Str("room", room).Logger(),
		events: make(chan Event, opts.EventBuffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		policy: &ReconnectPolicy{MaxAttempts: opts.MaxAttempts, BaseDelay: opts.BaseDelay},
	}
}

// Room returns the room this connection is bound to.
func (c *Connection) Room() string { return c.room }

// URL returns the live channel address.
func (c *Connection) URL() string { return c.url }

// Events delivers Connected, Disconnected, MessageReceived and ErrorOccurred
// in the order they happened. It is never closed; select on Done as well.
func (c *Connection) Events() <-chan Event { return c.events }

// Done is closed by Close.
func (c *Connection) Done() <-chan struct{} { return c.done }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dials returns how many times the channel has been dialled, retries included.
func (c *Connection) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

// Open starts connecting in the background and returns immediately. Dial
// failures never surface here: they are reported as ErrorOccurred events
// carrying a *ConnectError and handed to the reconnection policy.
func (c *Connection) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.started {
		return
	}
	c.started = true
	c.state = StateConnecting
	go c.dial()
}

// Close releases the channel. It is idempotent and never triggers a
// reconnect: an explicit close is a cancellation, not a failure.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateClosing
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.conn = nil
	c.cancel()
	close(c.done)
	c.mu.Unlock()

	var err error
	if conn != nil {
		if cw, ok := conn.(controlWriter); ok {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = cw.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		err = conn.Close()
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.log.Debug().Msg("connection closed")
	return err
}

// Send writes one outbound frame. It fails with ErrNotConnected unless the
// channel is open; nothing is queued for later.
func (c *Connection) Send(content, senderID, recipientID string, chatType models.ChatType) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || conn == nil {
		return ErrNotConnected
	}

	data, err := c.codec.Encode(content, senderID, recipientID, chatType)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if wd, ok := conn.(writeDeadliner); ok {
		_ = wd.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

func (c *Connection) dial() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.state = StateConnecting
	c.dials++
	attempt := c.dials
	c.mu.Unlock()

	c.log.Debug().Int("dial", attempt).Str("url", c.url).Msg("connecting")
	conn, err := c.dialer.Dial(c.ctx, c.url)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.log.Warn().Err(err).Msg("failed to create websocket connection")
		c.emit(newErrorEvent(c.room, &ConnectError{Room: c.room, Err: err}))
		c.dropped(nil)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.policy.Reset()
	c.mu.Unlock()

	c.log.Info().Msg("websocket connected")
	c.emit(Event{Type: EventConnected, Room: c.room})

	stop := make(chan struct{})
	go c.pingLoop(conn, stop)
	c.readLoop(conn)
	close(stop)
	c.dropped(conn)
}

// readLoop decodes frames until the channel fails. Undecodable frames are
// reported and skipped; they never close the connection.
func (c *Connection) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.isClosed() {
				c.log.Warn().Err(err).Msg("error reading frame")
			}
			return
		}

		in, err := c.codec.Decode(data)
		if err != nil {
			c.log.Warn().Err(errors.Unwrap(err)).Int("bytes", len(data)).Msg("error parsing websocket frame")
			c.emit(newErrorEvent(c.room, err))
			continue
		}

		switch in.Type {
		case models.FrameMessage:
			msg := in.Message
			c.emit(Event{Type: EventMessageReceived, Room: c.room, Message: &msg})
		case models.FrameError:
			c.emit(newErrorEvent(c.room, &ServerError{Message: in.Error}))
		}
	}
}

func (c *Connection) pingLoop(conn Conn, stop <-chan struct{}) {
	if c.opts.PingPeriod < 0 {
		return
	}
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			if wd, ok := conn.(writeDeadliner); ok {
				_ = wd.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			}
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// dropped handles the loss of conn (nil for a failed dial): it reports the
// disconnect and schedules the next attempt while the policy allows.
func (c *Connection) dropped(conn Conn) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		c.log.Info().Msg("websocket disconnected")
	}
	c.emit(Event{Type: EventDisconnected, Room: c.room})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	delay, ok := c.policy.Next()
	attempt := c.policy.Attempts()
	if ok {
		c.retry = time.AfterFunc(delay, c.dial)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Warn().Int("max_attempts", c.opts.MaxAttempts).Msg("giving up reconnecting")
		c.emit(newErrorEvent(c.room, ErrReconnectExhausted))
		return
	}
	c.log.Info().Int("attempt", attempt).Int("max_attempts", c.opts.MaxAttempts).
		Dur("delay", delay).Msg("attempting to reconnect")
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// emit blocks until the event is consumed or the connection is closed.
func (c *Connection) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
