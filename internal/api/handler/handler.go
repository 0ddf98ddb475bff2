// Package handler exposes the room session to a local UI over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"teamdash/chat/internal/chathub"
	"teamdash/chat/internal/models"
)

// ChatSession is the part of chathub.Controller the API drives.
type ChatSession interface {
	Select(chatType models.ChatType, peerID string) error
	Status() chathub.Status
	Messages() []models.ChatMessage
	Send(ctx context.Context, content string) (models.ChatMessage, error)
	LoadMore(ctx context.Context) (int, error)
	Subscribe(buffer int) (<-chan chathub.Event, func())
}

// Handler holds the session the routes act on.
type Handler struct {
	Session ChatSession

	policy *bluemonday.Policy
	log    zerolog.Logger
}

func NewHandler(session ChatSession, log zerolog.Logger) *Handler {
	return &Handler{
		Session: session,
		policy:  bluemonday.StrictPolicy(),
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/state", h.GetState)
	r.POST("/select", h.SelectRoom)
	r.GET("/messages", h.ListMessages)
	r.POST("/messages", h.SendMessage)
	r.POST("/messages/older", h.LoadOlder)
	r.GET("/ws", h.ServeEvents)
}

type stateResponse struct {
	Room            string                  `json:"room"`
	ChatType        models.ChatType         `json:"chat_type,omitempty"`
	PeerID          string                  `json:"peer_id,omitempty"`
	ControllerState chathub.ControllerState `json:"controller_state"`
	ConnectionState chathub.State           `json:"connection_state"`
	HasMore         bool                    `json:"has_more"`
}

// GetState reports the active room and the live channel state.
func (h *Handler) GetState(c *gin.Context) {
	st := h.Session.Status()
	c.JSON(http.StatusOK, stateResponse{
		Room:            st.Room,
		ChatType:        st.Target.ChatType,
		PeerID:          st.Target.PeerID,
		ControllerState: st.State,
		ConnectionState: st.Connection,
		HasMore:         st.HasMore,
	})
}

type selectRequest struct {
	ChatType string `json:"chat_type" binding:"required"`
	PeerID   string `json:"peer_id"`
}

// SelectRoom switches the session to another chat target. The switch itself
// happens after the debounce, so the answer is 202.
func (h *Handler) SelectRoom(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_type is required"})
		return
	}
	chatType, err := models.ParseChatType(req.ChatType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Session.Select(chatType, req.PeerID); err != nil {
		switch {
		case errors.Is(err, models.ErrPeerRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, chathub.ErrControllerClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"chat_type": chatType, "peer_id": req.PeerID})
}

// ListMessages returns the ordered view of the active room.
func (h *Handler) ListMessages(c *gin.Context) {
	msgs := h.Session.Messages()
	for i := range msgs {
		msgs[i] = h.sanitize(msgs[i])
	}
	c.JSON(http.StatusOK, gin.H{"room": h.Session.Status().Room, "messages": msgs})
}

type sendRequest struct {
	Content string `json:"content"`
}

// SendMessage sends to the active room and returns the stored copy.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := h.Session.Send(c.Request.Context(), req.Content)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, h.sanitize(msg))
	case errors.Is(err, chathub.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chathub.ErrNotConnected), errors.Is(err, chathub.ErrNoActiveRoom):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Msg("send failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// LoadOlder follows the history cursor by one page.
func (h *Handler) LoadOlder(c *gin.Context) {
	added, err := h.Session.LoadMore(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"added": added})
	case errors.Is(err, chathub.ErrNoMorePages):
		c.Status(http.StatusNoContent)
	case errors.Is(err, chathub.ErrNoActiveRoom):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.Warn().Err(err).Msg("loading older messages failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// sanitize strips markup from the user-controlled fields before they reach
// a renderer.
func (h *Handler) sanitize(m models.ChatMessage) models.ChatMessage {
	m.Content = h.policy.Sanitize(m.Content)
	m.SenderName = h.policy.Sanitize(m.SenderName)
	return m
}
