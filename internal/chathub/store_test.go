package chathub_test

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamdash/chat/internal/chathub"
	"teamdash/chat/internal/models"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func groupMsg(id, sender, content string, offset time.Duration) models.ChatMessage {
	return models.ChatMessage{
		ID:        id,
		SenderID:  sender,
		Content:   content,
		ChatType:  models.ChatTypeGroup,
		Timestamp: base.Add(offset),
	}
}

func ids(msgs []models.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestMessageStore_MergeDeduplicatesByID(t *testing.T) {
	s := chathub.NewMessageStore()

	added := s.Merge(models.GroupRoom, groupMsg("1", "3", "a", 0), groupMsg("2", "3", "b", time.Second))
	assert.Len(t, added, 2)

	added = s.Merge(models.GroupRoom, groupMsg("2", "3", "b", time.Second), groupMsg("3", "4", "c", 2*time.Second))
	require.Len(t, added, 1)
	assert.Equal(t, "3", added[0].ID)
	assert.Equal(t, 3, s.Len(models.GroupRoom))
}

func TestMessageStore_OrderedIsStableByTimestamp(t *testing.T) {
	s := chathub.NewMessageStore()
	s.Merge(models.GroupRoom,
		groupMsg("c", "1", "late", 5*time.Second),
		groupMsg("a", "1", "tie-first", time.Second),
		groupMsg("b", "1", "tie-second", time.Second),
		groupMsg("z", "1", "early", 0),
	)

	assert.Equal(t, []string{"z", "a", "b", "c"}, ids(s.Ordered(models.GroupRoom)))
}

func TestMessageStore_IgnoresOtherRooms(t *testing.T) {
	s := chathub.NewMessageStore()
	room := models.PrivateRoom("3", "9")

	private := models.ChatMessage{ID: "1", SenderID: "9", RecipientID: "3", Content: "x", ChatType: models.ChatTypePrivate}
	stranger := models.ChatMessage{ID: "2", SenderID: "5", RecipientID: "3", Content: "y", ChatType: models.ChatTypePrivate}

	added := s.Merge(room, private, stranger, groupMsg("3", "3", "z", 0), groupMsg("", "3", "no id", 0))
	require.Len(t, added, 1)
	assert.Equal(t, "1", added[0].ID)
	assert.Empty(t, s.Ordered(models.GroupRoom))
	assert.NotNil(t, s.Ordered("private:1:2"))
}

func TestMessageStore_EchoReplacesPendingCopy(t *testing.T) {
	s := chathub.NewMessageStore()
	local := groupMsg("", "7", "hello", 0)
	require.True(t, s.Append(models.GroupRoom, local))

	pending := s.Ordered(models.GroupRoom)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Pending)
	assert.Contains(t, pending[0].ID, "local-")

	echo := groupMsg("501", "7", "hello", 2*time.Second)
	added := s.Merge(models.GroupRoom, echo)
	require.Len(t, added, 1)

	got := s.Ordered(models.GroupRoom)
	require.Len(t, got, 1)
	assert.Equal(t, "501", got[0].ID)
	assert.False(t, got[0].Pending)

	// Replayed through history: still one copy.
	assert.Empty(t, s.Merge(models.GroupRoom, echo))
	assert.Equal(t, 1, s.Len(models.GroupRoom))
}

func TestMessageStore_EchoOutsideWindowIsSeparate(t *testing.T) {
	s := chathub.NewMessageStore()
	s.Append(models.GroupRoom, groupMsg("local-1", "7", "again", 0))
	s.Merge(models.GroupRoom, groupMsg("9", "7", "again", 2*time.Minute))

	got := s.Ordered(models.GroupRoom)
	require.Len(t, got, 2)
	assert.True(t, got[0].Pending)
	assert.Equal(t, "9", got[1].ID)
}

func TestMessageStore_AppendRejectsWrongRoom(t *testing.T) {
	s := chathub.NewMessageStore()
	assert.False(t, s.Append(models.PrivateRoom("1", "2"), groupMsg("local-1", "1", "x", 0)))
	assert.Zero(t, s.Len(models.PrivateRoom("1", "2")))
}

func TestMessageStore_DiscardOnlyPending(t *testing.T) {
	s := chathub.NewMessageStore()
	s.Merge(models.GroupRoom, groupMsg("1", "3", "server", 0))
	s.Append(models.GroupRoom, groupMsg("local-1", "3", "mine", time.Second))
	s.Append(models.GroupRoom, groupMsg("local-2", "3", "mine too", 2*time.Second))

	assert.False(t, s.Discard(models.GroupRoom, "1"))
	assert.True(t, s.Discard(models.GroupRoom, "local-1"))
	assert.False(t, s.Discard(models.GroupRoom, "local-1"))
	assert.False(t, s.Discard("nowhere", "local-2"))

	assert.Equal(t, []string{"1", "local-2"}, ids(s.Ordered(models.GroupRoom)))

	// The index must still point at the right slot after removal.
	assert.True(t, s.Discard(models.GroupRoom, "local-2"))
	assert.Equal(t, []string{"1"}, ids(s.Ordered(models.GroupRoom)))
}

func TestMessageStore_UnknownRoomIsEmpty(t *testing.T) {
	s := chathub.NewMessageStore()
	got := s.Ordered("private:1:2")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestMessageStore_RandomMergesKeepInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	s := chathub.NewMessageStore()

	for round := 0; round < 50; round++ {
		batch := make([]models.ChatMessage, r.Intn(20))
		for i := range batch {
			id := fmt.Sprint(r.Intn(300))
			batch[i] = groupMsg(id, fmt.Sprint(r.Intn(4)), "m"+id, time.Duration(r.Intn(600))*time.Second)
		}
		s.Merge(models.GroupRoom, batch...)

		got := s.Ordered(models.GroupRoom)
		seen := make(map[string]bool, len(got))
		for i, m := range got {
			require.False(t, seen[m.ID], "duplicate id %s", m.ID)
			seen[m.ID] = true
			if i > 0 {
				require.False(t, m.Timestamp.Before(got[i-1].Timestamp), "out of order at %d", i)
			}
		}
	}
}
