package models

import "time"

// ChatArchive is a chat message persisted in the local archive database.
// MessageID is the server-assigned id, so re-archiving the same message is an
// upsert rather than a duplicate row.
type ChatArchive struct {
	// MessageID is the dedup key of the message.
	MessageID string `gorm:"primaryKey;type:varchar(64)"`
	// RoomID is the room the message belongs to ("group" or "private:a:b").
	RoomID string `gorm:"type:varchar(128);not null;index:idx_archive_room_ts"`
	// SenderID, SenderName and SenderRole snapshot the sender at send time.
	SenderID   string `gorm:"type:varchar(64);not null"`
	SenderName string `gorm:"type:text"`
	SenderRole string `gorm:"type:varchar(32)"`
	// RecipientID is set for private messages only.
	RecipientID string `gorm:"type:varchar(64)"`
	Content     string `gorm:"type:text;not null"`
	ChatType    string `gorm:"type:varchar(16);not null"`
	// SentAt is the message timestamp used for ordering.
	SentAt     time.Time `gorm:"not null;index:idx_archive_room_ts"`
	ArchivedAt time.Time `gorm:"autoCreateTime"`
}

// TableName pins the table name independent of gorm's pluralisation.
func (ChatArchive) TableName() string { return "chat_archive" }

// NewChatArchive snapshots a message for the archive.
func NewChatArchive(m ChatMessage) ChatArchive {
	return ChatArchive{
		MessageID:   m.ID,
		RoomID:      m.Room(),
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		SenderRole:  m.SenderRole,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		ChatType:    string(m.ChatType),
		SentAt:      m.Timestamp,
	}
}

// Message converts an archived row back to the canonical message.
func (a ChatArchive) Message() ChatMessage {
	return ChatMessage{
		ID:          a.MessageID,
		SenderID:    a.SenderID,
		SenderName:  a.SenderName,
		SenderRole:  a.SenderRole,
		Content:     a.Content,
		Timestamp:   a.SentAt,
		ChatType:    ChatType(a.ChatType),
		RecipientID: a.RecipientID,
	}
}
