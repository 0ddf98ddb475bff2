// Package telegram forwards live chat messages to a Telegram chat so they
// are seen away from the dashboard.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"teamdash/chat/internal/chathub"
	"teamdash/chat/internal/models"
)

// Sender is the part of *tgbotapi.BotAPI the relay uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Relay posts every live message from another user to one Telegram chat.
type Relay struct {
	bot    Sender
	chatID int64
	selfID string
	log    zerolog.Logger
}

// NewBotRelay authorises a bot with token and relays to chatID.
func NewBotRelay(token string, chatID int64, selfID string, log zerolog.Logger) (*Relay, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	bot.Debug = false
	log.Info().Str("account", bot.Self.UserName).Msg("telegram relay authorised")
	return NewRelay(bot, chatID, selfID, log), nil
}

func NewRelay(bot Sender, chatID int64, selfID string, log zerolog.Logger) *Relay {
	return &Relay{
		bot:    bot,
		chatID: chatID,
		selfID: selfID,
		log:    log.With().Str("component", "telegram").Logger(),
	}
}

// FormatMessage renders a message as one line of plain text.
func FormatMessage(room string, m models.ChatMessage) string {
	return fmt.Sprintf("%s (%s) [%s]: %s", m.SenderName, m.SenderRole, room, m.Content)
}

// Run forwards events until ctx is done or events is closed.
func (r *Relay) Run(ctx context.Context, events <-chan chathub.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !r.wants(ev) {
				continue
			}
			if err := r.Forward(ev.Room, *ev.Message); err != nil {
				r.log.Error().Err(err).Str("message_id", ev.Message.ID).Msg("failed to relay message")
			}
		}
	}
}

// wants skips our own sends, optimistic copies and everything that is not a
// live message.
func (r *Relay) wants(ev chathub.Event) bool {
	if ev.Type != chathub.EventMessageReceived || ev.Message == nil {
		return false
	}
	return !ev.Message.Pending && ev.Message.SenderID != r.selfID
}

// Forward sends one message to the relay chat.
func (r *Relay) Forward(room string, m models.ChatMessage) error {
	msg := tgbotapi.NewMessage(r.chatID, FormatMessage(room, m))
	if _, err := r.bot.Send(msg); err != nil {
		return err
	}
	return nil
}
