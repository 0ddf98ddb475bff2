package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"teamdash/chat/internal/config"
	"teamdash/chat/internal/models"
)

// ErrControllerClosed is returned once the controller has been torn down.
var ErrControllerClosed = errors.New("room session controller is closed")

// Target is what the user has selected: the group chat, or a private chat
// with a peer.
type Target struct {
	ChatType models.ChatType `json:"chat_type"`
	SelfID   string          `json:"-"`
	PeerID   string          `json:"peer_id,omitempty"`
}

// Room resolves the target to its room name.
func (t Target) Room() (string, error) {
	return models.ResolveRoom(t.ChatType, t.SelfID, t.PeerID)
}

func (t Target) recipient() string {
	if t.ChatType == models.ChatTypePrivate {
		return t.PeerID
	}
	return ""
}

// ControllerState is Idle -> Pending(target) -> Active(room).
type ControllerState int

const (
	ControllerIdle ControllerState = iota
	ControllerPending
	ControllerActive
)

func (s ControllerState) String() string {
	switch s {
	case ControllerIdle:
		return "idle"
	case ControllerPending:
		return "pending"
	case ControllerActive:
		return "active"
	}
	return fmt.Sprintf("controller_state(%d)", int(s))
}

// MarshalText renders the state by name.
func (s ControllerState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// MessagePoster is the REST fallback used when the live channel is down.
type MessagePoster interface {
	PostMessage(ctx context.Context, content string, chatType models.ChatType, recipient string) (json.RawMessage, error)
}

// Persistence is optional local storage for room history.
type Persistence interface {
	CachedHistory(ctx context.Context, room string) ([]models.ChatMessage, error)
	CacheHistory(ctx context.Context, room string, msgs []models.ChatMessage) error
	ArchiveMessages(ctx context.Context, msgs ...models.ChatMessage) error
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	// LiveBaseURL is the websocket base, e.g. ws://host:8000.
	LiveBaseURL string
	// Debounce collapses bursts of Select calls; defaults to 300ms.
	Debounce   time.Duration
	Connection ConnectionOptions
	// Poster enables the REST fallback in Send. Optional.
	Poster MessagePoster
	// Persistence enables the history cache and archive. Optional.
	Persistence Persistence
}

// Status is a snapshot of the controller for observers.
type Status struct {
	State      ControllerState `json:"controller_state"`
	Room       string          `json:"room"`
	Target     Target          `json:"target"`
	Connection State           `json:"connection_state"`
	HasMore    bool            `json:"has_more"`
}

// Controller maps the selected chat target to a room and owns the one live
// Connection for it. Every open/close goes through the debounced switch, so
// no two connections for the controller ever write concurrently.
type Controller struct {
	session *models.Session
	dialer  Dialer
	opts    ControllerOptions
	store   *MessageStore
	history *HistoryLoader
	log     zerolog.Logger

	mu      sync.Mutex
	state   ControllerState
	pending *time.Timer
	gen     uint64
	target  Target
	room    string
	conn    *Connection
	next    string
	opens   int
	closed  bool

	subsMu  sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewController builds a controller for session. history may be nil, in
// which case rooms start empty and fill from the live channel only.
func NewController(session *models.Session, dialer Dialer, store *MessageStore, history *HistoryLoader, opts ControllerOptions, logger zerolog.Logger) *Controller {
	if opts.Debounce == 0 {
		opts.Debounce = config.RoomDebounce
	}
	return &Controller{
		session: session,
		dialer:  dialer,
		opts:    opts,
		store:   store,
		history: history,
		log:     logger.With().Str("component", "controller").Str("user", session.UserID).Logger(),
		subs:    make(map[int]chan Event),
	}
}

// Select records a new chat target. The switch happens once no further
// Select arrives within the debounce window; only the latest target is
// opened. A private target without a peer is accepted (the active room is
// still torn down) but reported with models.ErrPeerRequired, and no
// connection is opened for it.
func (c *Controller) Select(chatType models.ChatType, peerID string) error {
	if _, err := models.ParseChatType(string(chatType)); err != nil {
		return err
	}
	t := Target{ChatType: chatType, SelfID: c.session.UserID, PeerID: peerID}
	if chatType == models.ChatTypeGroup {
		t.PeerID = ""
	}
	_, resolveErr := t.Room()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}
	c.gen++
	gen := c.gen
	if c.pending != nil {
		c.pending.Stop()
	}
	c.state = ControllerPending
	c.pending = time.AfterFunc(c.opts.Debounce, func() { c.activate(gen, t) })
	return resolveErr
}

// activate runs on debounce expiry: tear down the active connection, then
// open one for the resolved room.
func (c *Controller) activate(gen uint64, t Target) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	old := c.conn
	c.conn = nil
	c.target = t
	c.next = ""

	room, err := t.Room()
	if err != nil {
		c.state = ControllerIdle
		c.room = ""
		c.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		c.log.Info().Err(err).Msg("no room for target, staying idle")
		c.publish(Event{Type: EventRoomChanged})
		return
	}

	conn := NewConnection(room, RoomURL(c.opts.LiveBaseURL, room), c.dialer, c.opts.Connection, c.log)
	c.conn = conn
	c.room = room
	c.state = ControllerActive
	c.opens++
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	c.log.Info().Str("room", room).Msg("switching room")
	c.publish(Event{Type: EventRoomChanged, Room: room})

	go c.pump(conn)
	go c.loadInitial(gen, t, room)
	conn.Open()
}

// pump applies connection events to the store and forwards them.
func (c *Controller) pump(conn *Connection) {
	for {
		select {
		case <-conn.Done():
			return
		case ev := <-conn.Events():
			if ev.Type == EventMessageReceived && ev.Message != nil {
				added := c.store.Merge(conn.Room(), *ev.Message)
				if len(added) == 0 {
					continue
				}
				c.archive(added)
			}
			if ev.Type == EventErrorOccurred {
				c.log.Warn().Err(ev.Err).Str("room", conn.Room()).Msg("chat error")
			}
			c.publish(ev)
		}
	}
}

func (c *Controller) loadInitial(gen uint64, t Target, room string) {
	ctx, cancel := context.WithTimeout(context.Background(), config.RequestTimeout)
	defer cancel()

	if p := c.opts.Persistence; p != nil {
		cached, err := p.CachedHistory(ctx, room)
		if err != nil {
			c.log.Warn().Err(err).Str("room", room).Msg("history cache read failed")
		} else if added := c.store.Merge(room, cached...); len(added) > 0 {
			c.publish(Event{Type: EventHistoryLoaded, Room: room, Added: len(added)})
		}
	}
	if c.history == nil {
		return
	}

	page, added, err := c.history.Load(ctx, t, "")
	if err != nil {
		c.log.Warn().Err(err).Str("room", room).Msg("failed to load messages")
		c.publish(newErrorEvent(room, err))
		return
	}

	c.mu.Lock()
	if gen == c.gen {
		c.next = page.Next
	}
	c.mu.Unlock()

	c.afterHistory(ctx, room, added)
}

func (c *Controller) afterHistory(ctx context.Context, room string, added []models.ChatMessage) {
	if p := c.opts.Persistence; p != nil {
		ordered := c.store.Ordered(room)
		if n := len(ordered); n > config.HistoryCacheSize {
			ordered = ordered[n-config.HistoryCacheSize:]
		}
		if err := p.CacheHistory(ctx, room, ordered); err != nil {
			c.log.Warn().Err(err).Str("room", room).Msg("history cache write failed")
		}
	}
	c.archive(added)
	c.publish(Event{Type: EventHistoryLoaded, Room: room, Added: len(added)})
}

// Reload fetches the first history page of the active room again; it is
// the manual retry after a LoadError.
func (c *Controller) Reload(ctx context.Context) (int, error) {
	c.mu.Lock()
	t, room, gen := c.target, c.room, c.gen
	c.mu.Unlock()
	if room == "" {
		return 0, ErrNoActiveRoom
	}
	if c.history == nil {
		return 0, nil
	}

	page, added, err := c.history.Load(ctx, t, "")
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	if gen == c.gen && c.next == "" {
		c.next = page.Next
	}
	c.mu.Unlock()
	c.afterHistory(ctx, room, added)
	return len(added), nil
}

// LoadMore follows the history cursor of the active room by one page.
func (c *Controller) LoadMore(ctx context.Context) (int, error) {
	c.mu.Lock()
	t, room, next, gen := c.target, c.room, c.next, c.gen
	c.mu.Unlock()
	if room == "" {
		return 0, ErrNoActiveRoom
	}
	if next == "" || c.history == nil {
		return 0, ErrNoMorePages
	}

	page, added, err := c.history.Load(ctx, t, next)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	if gen == c.gen {
		c.next = page.Next
	}
	c.mu.Unlock()
	c.afterHistory(ctx, room, added)
	return len(added), nil
}

// Send delivers content to the active room. The live channel is tried
// first, with an optimistic local copy that the server echo later replaces.
// When the channel is not open and a Poster is configured the message goes
// through REST instead; otherwise ErrNotConnected is returned.
func (c *Controller) Send(ctx context.Context, content string) (models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}

	c.mu.Lock()
	conn, t, room := c.conn, c.target, c.room
	c.mu.Unlock()
	if conn == nil || room == "" {
		return models.ChatMessage{}, ErrNoActiveRoom
	}

	local := models.ChatMessage{
		ID:          NewLocalID(),
		SenderID:    c.session.UserID,
		SenderName:  c.session.DisplayName(),
		SenderRole:  string(c.session.Role),
		Content:     content,
		Timestamp:   time.Now(),
		ChatType:    t.ChatType,
		RecipientID: t.recipient(),
	}
	// Appended before the write so a fast echo always finds it.
	c.store.Append(room, local)

	err := conn.Send(content, c.session.UserID, t.recipient(), t.ChatType)
	if err == nil {
		local.Pending = true
		c.publish(Event{Type: EventMessageReceived, Room: room, Message: &local})
		return local, nil
	}
	c.store.Discard(room, local.ID)

	if !errors.Is(err, ErrNotConnected) || c.opts.Poster == nil {
		return models.ChatMessage{}, err
	}

	c.log.Info().Str("room", room).Msg("live channel down, sending through REST")
	raw, err := c.opts.Poster.PostMessage(ctx, content, t.ChatType, t.recipient())
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("fallback send: %w", err)
	}
	created, err := conn.codec.DecodeMessage(raw)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("decode created message: %w", err)
	}
	if added := c.store.Merge(room, created); len(added) > 0 {
		c.archive(added)
		c.publish(Event{Type: EventMessageReceived, Room: room, Message: &created})
	}
	return created, nil
}

// Messages returns the ordered view of the active room.
func (c *Controller) Messages() []models.ChatMessage {
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room == "" {
		return []models.ChatMessage{}
	}
	return c.store.Ordered(room)
}

// Status returns a snapshot for observers.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:   c.state,
		Room:    c.room,
		Target:  c.target,
		HasMore: c.next != "",
	}
	if c.conn != nil {
		st.Connection = c.conn.State()
	}
	return st
}

// Opens returns how many connections the controller has opened.
func (c *Controller) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

// Subscribe registers an observer. The returned channel is closed by Close
// or by the cancel func. Slow observers miss events rather than stall
// delivery.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if c.subs == nil {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

func (c *Controller) publish(ev Event) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for id, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.log.Warn().Int("subscriber", id).Str("event", string(ev.Type)).Msg("subscriber is slow, dropping event")
		}
	}
}

func (c *Controller) archive(msgs []models.ChatMessage) {
	p := c.opts.Persistence
	if p == nil || len(msgs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.RequestTimeout)
	defer cancel()
	if err := p.ArchiveMessages(ctx, msgs...); err != nil {
		c.log.Warn().Err(err).Int("count", len(msgs)).Msg("archive write failed")
	}
}

// Close cancels any pending switch, closes the active connection and ends
// all subscriptions. It is safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	conn := c.conn
	c.conn = nil
	c.room = ""
	c.state = ControllerIdle
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	c.subsMu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.subs = nil
	c.subsMu.Unlock()
	c.log.Info().Msg("controller closed")
}
