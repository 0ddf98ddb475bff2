package telegram_test

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"teamdash/chat/internal/chathub"
	"teamdash/chat/internal/models"
	"teamdash/chat/internal/telegram"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

func textOf(c tgbotapi.Chattable) string {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		return msg.Text
	}
	return ""
}

func TestFormatMessage(t *testing.T) {
	m := models.ChatMessage{SenderName: "Ann", SenderRole: "supervisor", Content: "shift starts at 9"}
	assert.Equal(t, "Ann (supervisor) [group]: shift starts at 9", telegram.FormatMessage("group", m))
}

func TestRelay_ForwardsOnlyOtherUsersLiveMessages(t *testing.T) {
	sender := new(MockSender)
	var sent []string
	sender.On("Send", mock.Anything).Run(func(args mock.Arguments) {
		sent = append(sent, textOf(args.Get(0).(tgbotapi.Chattable)))
	}).Return(nil)

	relay := telegram.NewRelay(sender, 1001, "3", zerolog.Nop())
	events := make(chan chathub.Event, 8)

	theirs := models.ChatMessage{ID: "1", SenderID: "9", SenderName: "Bob", SenderRole: "employee", Content: "hi", ChatType: models.ChatTypePrivate, RecipientID: "3"}
	mine := models.ChatMessage{ID: "2", SenderID: "3", SenderName: "Ann", SenderRole: "supervisor", Content: "hello", ChatType: models.ChatTypeGroup}
	pending := theirs
	pending.ID, pending.Pending = "local-1", true

	events <- chathub.Event{Type: chathub.EventConnected, Room: "private:3:9"}
	events <- chathub.Event{Type: chathub.EventMessageReceived, Room: "private:3:9", Message: &theirs}
	events <- chathub.Event{Type: chathub.EventMessageReceived, Room: "group", Message: &mine}
	events <- chathub.Event{Type: chathub.EventMessageReceived, Room: "private:3:9", Message: &pending}
	events <- chathub.Event{Type: chathub.EventErrorOccurred, Room: "group", Error: "boom"}
	close(events)

	done := make(chan struct{})
	go func() {
		relay.Run(context.Background(), events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop when events closed")
	}

	require.Len(t, sent, 1)
	assert.Equal(t, "Bob (employee) [private:3:9]: hi", sent[0])
}

func TestRelay_ForwardReportsSendError(t *testing.T) {
	sender := new(MockSender)
	sender.On("Send", mock.Anything).Return(errors.New("Forbidden: bot was blocked by the user"))

	relay := telegram.NewRelay(sender, 1001, "3", zerolog.Nop())
	err := relay.Forward("group", models.ChatMessage{SenderName: "Bob", SenderRole: "employee", Content: "x"})
	assert.ErrorContains(t, err, "blocked")
}

func TestRelay_StopsOnContextCancel(t *testing.T) {
	relay := telegram.NewRelay(new(MockSender), 1001, "3", zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx, make(chan chathub.Event))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop on cancel")
	}
}
