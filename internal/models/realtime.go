package models

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ChatType partitions the message space into the single group room and the
// pair-keyed private rooms.
type ChatType string

const (
	ChatTypeGroup   ChatType = "group"
	ChatTypePrivate ChatType = "private"
)

// GroupRoom is the identifier of the one global group room.
const GroupRoom = "group"

// ErrPeerRequired is returned when a private room is resolved without a peer.
var ErrPeerRequired = errors.New("private chat requires a peer id")

// ParseChatType validates a wire or user supplied chat type.
func ParseChatType(s string) (ChatType, error) {
	switch ChatType(s) {
	case ChatTypeGroup, ChatTypePrivate:
		return ChatType(s), nil
	}
	return "", fmt.Errorf("unknown chat type %q", s)
}

// ChatMessage is the canonical, room-scoped chat message.
// ID is stable across REST and live delivery and is the dedup key.
type ChatMessage struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	SenderRole  string    `json:"sender_role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	ChatType    ChatType  `json:"chat_type"`
	RecipientID string    `json:"recipient_id,omitempty"`

	// Pending marks an optimistic local copy that has not been echoed yet.
	Pending bool `json:"pending,omitempty"`
}

// Room returns the room the message belongs to, or "" when the message does
// not carry enough information to place it (a private message without a
// recipient).
func (m ChatMessage) Room() string {
	switch m.ChatType {
	case ChatTypeGroup:
		return GroupRoom
	case ChatTypePrivate:
		if m.SenderID == "" || m.RecipientID == "" {
			return ""
		}
		return PrivateRoom(m.SenderID, m.RecipientID)
	}
	return ""
}

// PrivateRoom names the room shared by two participants. The pair is
// unordered: PrivateRoom(a, b) == PrivateRoom(b, a).
func PrivateRoom(a, b string) string {
	if lessID(b, a) {
		a, b = b, a
	}
	return "private:" + a + ":" + b
}

// ResolveRoom maps a chat target to its room name.
func ResolveRoom(chatType ChatType, selfID, peerID string) (string, error) {
	switch chatType {
	case ChatTypeGroup:
		return GroupRoom, nil
	case ChatTypePrivate:
		if peerID == "" {
			return "", ErrPeerRequired
		}
		return PrivateRoom(selfID, peerID), nil
	}
	return "", fmt.Errorf("unknown chat type %q", chatType)
}

// lessID orders numeric ids numerically and everything else lexically, so
// that "9" sorts before "10".
func lessID(a, b string) bool {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}

// OutboundFrame is what the client writes to the live channel.
type OutboundFrame struct {
	Message     string   `json:"message"`
	SenderID    string   `json:"sender_id"`
	RecipientID string   `json:"recipient_id,omitempty"`
	ChatType    ChatType `json:"chat_type"`
}

// InboundFrameType discriminates frames pushed by the server.
type InboundFrameType string

const (
	FrameMessage InboundFrameType = "message"
	FrameError   InboundFrameType = "error"
)
