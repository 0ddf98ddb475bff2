package chathub_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"

	"teamdash/chat/internal/backend"
	"teamdash/chat/internal/chathub"
	"teamdash/chat/internal/models"
)

var errRefused = errors.New("dial tcp 127.0.0.1:8000: connect: connection refused")

// MockConn is an in-memory live channel. Frames pushed with Push are read by
// the connection; frames it writes are recorded.
type MockConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newMockConn() *MockConn {
	return &MockConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *MockConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
}

func (c *MockConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *MockConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Push delivers a frame from the "server".
func (c *MockConn) Push(frame string) { c.inbound <- []byte(frame) }

// Drop simulates the server going away.
func (c *MockConn) Drop() { _ = c.Close() }

func (c *MockConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *MockConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// MockDialer hands out MockConns, optionally failing the first N dials or
// every dial.
type MockDialer struct {
	mu         sync.Mutex
	urls       []string
	conns      []*MockConn
	failNext   int
	failAlways bool
}

func (d *MockDialer) Dial(ctx context.Context, url string) (chathub.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.failAlways {
		return nil, errRefused
	}
	if d.failNext > 0 {
		d.failNext--
		return nil, errRefused
	}
	c := newMockConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *MockDialer) SetFailAlways(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAlways = v
}

func (d *MockDialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *MockDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func (d *MockDialer) Last() *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// MockHistorySource is a testify mock of the history endpoint.
type MockHistorySource struct {
	mock.Mock
}

func (m *MockHistorySource) ListMessages(ctx context.Context, chatType models.ChatType, peerID, pageURL string) (*backend.Page, error) {
	args := m.Called(chatType, peerID, pageURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.Page), args.Error(1)
}

// MockPoster is a testify mock of the REST fallback.
type MockPoster struct {
	mock.Mock
}

func (m *MockPoster) PostMessage(ctx context.Context, content string, chatType models.ChatType, recipient string) (json.RawMessage, error) {
	args := m.Called(content, chatType, recipient)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

// eventRecorder drains a connection's events so emit never blocks.
type eventRecorder struct {
	mu     sync.Mutex
	events []chathub.Event
}

func recordEvents(conn *chathub.Connection) *eventRecorder {
	r := &eventRecorder{}
	go func() {
		for {
			select {
			case <-conn.Done():
				return
			case ev := <-conn.Events():
				r.mu.Lock()
				r.events = append(r.events, ev)
				r.mu.Unlock()
			}
		}
	}()
	return r
}

func (r *eventRecorder) Count(t chathub.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *eventRecorder) Find(match func(chathub.Event) bool) (chathub.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if match(ev) {
			return ev, true
		}
	}
	return chathub.Event{}, false
}

func testOptions() chathub.ConnectionOptions {
	return chathub.ConnectionOptions{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		PingPeriod:  -1,
	}
}

// Background goroutines outlive individual tests, so they must not log
// through t.
func testLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.Nop()
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond
