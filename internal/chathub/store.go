package chathub

import (
	"sort"
	"sync"
	"time"

	"teamdash/chat/internal/config"
	"teamdash/chat/internal/models"
)

// MessageStore keeps one ordered, id-deduplicated collection per room.
// REST history and live pushes are merged here, so it is the only ordering
// authority for what gets rendered.
type MessageStore struct {
	// ReconcileWindow bounds how far an echo's timestamp may drift from the
	// optimistic copy it replaces.
	ReconcileWindow time.Duration

	mu    sync.RWMutex
	rooms map[string]*roomLog
}

type roomLog struct {
	msgs []models.ChatMessage
	byID map[string]int
}

// NewMessageStore returns an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		ReconcileWindow: config.ReconcileWindow,
		rooms:           make(map[string]*roomLog),
	}
}

func (s *MessageStore) room(key string) *roomLog {
	r, ok := s.rooms[key]
	if !ok {
		r = &roomLog{byID: make(map[string]int)}
		s.rooms[key] = r
	}
	return r
}

// Merge inserts every incoming message whose id is not yet present in the
// room and returns the messages that were actually added. Messages that
// belong to another room are ignored. An incoming server copy replaces the
// matching optimistic local copy instead of being added next to it.
func (s *MessageStore) Merge(roomKey string, incoming ...models.ChatMessage) []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.room(roomKey)
	var added []models.ChatMessage
	for _, m := range incoming {
		if m.ID == "" || m.Room() != roomKey {
			continue
		}
		if _, dup := r.byID[m.ID]; dup {
			continue
		}
		m.Pending = false
		if i := r.pendingMatch(m, s.ReconcileWindow); i >= 0 {
			delete(r.byID, r.msgs[i].ID)
			r.msgs[i] = m
			r.byID[m.ID] = i
		} else {
			r.byID[m.ID] = len(r.msgs)
			r.msgs = append(r.msgs, m)
		}
		added = append(added, m)
	}
	return added
}

// Append adds an optimistic local copy of a just-sent message. It is marked
// Pending until the server echo reconciles it.
func (s *MessageStore) Append(roomKey string, m models.ChatMessage) bool {
	if m.ID == "" {
		m.ID = NewLocalID()
	}
	m.Pending = true
	if m.Room() != roomKey {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomKey)
	if _, dup := r.byID[m.ID]; dup {
		return false
	}
	r.byID[m.ID] = len(r.msgs)
	r.msgs = append(r.msgs, m)
	return true
}

// Discard removes an optimistic copy that will never be echoed, e.g. when
// the send itself failed.
func (s *MessageStore) Discard(roomKey, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomKey]
	if !ok {
		return false
	}
	i, ok := r.byID[id]
	if !ok || !r.msgs[i].Pending {
		return false
	}
	r.msgs = append(r.msgs[:i], r.msgs[i+1:]...)
	r.reindex()
	return true
}

// Ordered returns a copy of the room sorted by timestamp. Equal timestamps
// keep insertion order.
func (s *MessageStore) Ordered(roomKey string) []models.ChatMessage {
	s.mu.RLock()
	r, ok := s.rooms[roomKey]
	if !ok {
		s.mu.RUnlock()
		return []models.ChatMessage{}
	}
	out := make([]models.ChatMessage, len(r.msgs))
	copy(out, r.msgs)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Len returns the number of messages held for a room.
func (s *MessageStore) Len(roomKey string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rooms[roomKey]; ok {
		return len(r.msgs)
	}
	return 0
}

// pendingMatch finds the oldest optimistic copy that the server message m
// echoes: same sender, same content, timestamps within window.
func (r *roomLog) pendingMatch(m models.ChatMessage, window time.Duration) int {
	best := -1
	for i, cur := range r.msgs {
		if !cur.Pending || cur.SenderID != m.SenderID || cur.Content != m.Content {
			continue
		}
		d := m.Timestamp.Sub(cur.Timestamp)
		if d < 0 {
			d = -d
		}
		if d > window {
			continue
		}
		if best < 0 || cur.Timestamp.Before(r.msgs[best].Timestamp) {
			best = i
		}
	}
	return best
}

func (r *roomLog) reindex() {
	r.byID = make(map[string]int, len(r.msgs))
	for i, m := range r.msgs {
		r.byID[m.ID] = i
	}
}
