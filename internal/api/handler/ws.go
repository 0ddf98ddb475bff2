package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"teamdash/chat/internal/chathub"
	"teamdash/chat/internal/config"
)

const subscriberBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API listens on loopback for a local UI.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventStream forwards session events to one UI websocket.
type eventStream struct {
	h      *Handler
	conn   *websocket.Conn
	events <-chan chathub.Event
	cancel func()
}

// ServeEvents upgrades the request and streams session events as JSON until
// either side goes away.
func (h *Handler) ServeEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to upgrade event stream")
		return
	}

	events, cancel := h.Session.Subscribe(subscriberBuffer)
	s := &eventStream{h: h, conn: conn, events: events, cancel: cancel}
	go s.writePump()
	go s.readPump()
}

// readPump only watches for the UI closing the socket; the stream is
// one-way.
func (s *eventStream) readPump() {
	defer s.cancel()

	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.h.log.Debug().Err(err).Msg("event stream read failed")
			}
			return
		}
	}
}

func (s *eventStream) writePump() {
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-s.events:
			_ = s.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if ev.Message != nil {
				m := s.h.sanitize(*ev.Message)
				ev.Message = &m
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.h.log.Error().Err(err).Str("event", string(ev.Type)).Msg("error encoding event")
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
