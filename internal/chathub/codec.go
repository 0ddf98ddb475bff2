package chathub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"teamdash/chat/internal/models"
)

const (
	defaultSenderName = "Unknown User"
	defaultSenderRole = string(models.RoleEmployee)
)

// NewLocalID generates an id for messages the server has not numbered.
func NewLocalID() string {
	return "local-" + uuid.NewString()
}

// Codec converts between wire frames and canonical messages.
// The zero value is ready to use.
type Codec struct {
	// Now supplies the timestamp for messages that arrive without one.
	Now func() time.Time
	// NewID supplies the id for messages that arrive without one.
	NewID func() string
}

// Inbound is a decoded server frame: either a message or a server error.
type Inbound struct {
	Type    models.InboundFrameType
	Message models.ChatMessage
	Error   string
}

// wireFrame is the envelope pushed by the server.
type wireFrame struct {
	Type    models.InboundFrameType `json:"type"`
	Message json.RawMessage         `json:"message"`
	Error   *string                 `json:"error"`
}

// wireMessage is the backend's serialised message. Ids arrive as numbers
// from the database but are kept as raw JSON so strings work too.
type wireMessage struct {
	ID         json.RawMessage `json:"id"`
	Sender     json.RawMessage `json:"sender"`
	SenderName string          `json:"sender_name"`
	SenderRole string          `json:"sender_role"`
	Recipient  json.RawMessage `json:"recipient"`
	Content    *string         `json:"content"`
	ChatType   string          `json:"chat_type"`
	Timestamp  string          `json:"timestamp"`
}

// Encode builds the outbound frame. recipient_id is dropped for group chat.
func (c Codec) Encode(content, senderID, recipientID string, chatType models.ChatType) ([]byte, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	frame := models.OutboundFrame{
		Message:  content,
		SenderID: senderID,
		ChatType: chatType,
	}
	switch chatType {
	case models.ChatTypeGroup:
	case models.ChatTypePrivate:
		if recipientID == "" {
			return nil, models.ErrPeerRequired
		}
		frame.RecipientID = recipientID
	default:
		return nil, fmt.Errorf("unknown chat type %q", chatType)
	}
	return json.Marshal(frame)
}

// Decode parses one inbound frame. Every failure is a *ParseError.
func (c Codec) Decode(data []byte) (Inbound, error) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Inbound{}, &ParseError{Raw: data, Err: err}
	}

	switch {
	case f.Type == models.FrameMessage:
		if len(f.Message) == 0 || bytes.Equal(f.Message, []byte("null")) {
			return Inbound{}, &ParseError{Raw: data, Err: errors.New("message frame without message")}
		}
		msg, err := c.DecodeMessage(f.Message)
		if err != nil {
			return Inbound{}, &ParseError{Raw: data, Err: err}
		}
		return Inbound{Type: models.FrameMessage, Message: msg}, nil

	// The backend reports consumer failures as a bare {"error": "..."}.
	case f.Type == models.FrameError || (f.Type == "" && f.Error != nil):
		if f.Error == nil || *f.Error == "" {
			return Inbound{}, &ParseError{Raw: data, Err: errors.New("error frame without error")}
		}
		return Inbound{Type: models.FrameError, Error: *f.Error}, nil
	}
	return Inbound{}, &ParseError{Raw: data, Err: fmt.Errorf("unknown frame type %q", f.Type)}
}

// DecodeMessage maps a backend message object onto the canonical shape.
// It is shared by the live channel and the REST history so both sources land
// in the same dedup domain.
func (c Codec) DecodeMessage(raw json.RawMessage) (models.ChatMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.ChatMessage{}, err
	}

	if w.Content == nil || strings.TrimSpace(*w.Content) == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}
	chatType, err := models.ParseChatType(w.ChatType)
	if err != nil {
		return models.ChatMessage{}, err
	}

	id, err := rawID(w.ID)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("id: %w", err)
	}
	if id == "" {
		id = c.newID()
	}
	sender, err := rawID(w.Sender)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("sender: %w", err)
	}
	recipient, err := rawID(w.Recipient)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("recipient: %w", err)
	}

	ts := c.now()
	if w.Timestamp != "" {
		ts, err = time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return models.ChatMessage{}, fmt.Errorf("timestamp: %w", err)
		}
	}

	msg := models.ChatMessage{
		ID:         id,
		SenderID:   sender,
		SenderName: w.SenderName,
		SenderRole: w.SenderRole,
		Content:    *w.Content,
		Timestamp:  ts,
		ChatType:   chatType,
	}
	if msg.SenderName == "" {
		msg.SenderName = defaultSenderName
	}
	if msg.SenderRole == "" {
		msg.SenderRole = defaultSenderRole
	}
	if chatType == models.ChatTypePrivate {
		msg.RecipientID = recipient
	}
	return msg, nil
}

func (c Codec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Codec) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return NewLocalID()
}

// rawID renders a JSON number or string id as a string. null and absent
// values yield "".
func rawID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
