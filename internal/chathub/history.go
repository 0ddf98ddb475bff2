package chathub

import (
	"context"

	"github.com/rs/zerolog"

	"teamdash/chat/internal/backend"
	"teamdash/chat/internal/models"
)

// HistorySource is the paginated history endpoint.
type HistorySource interface {
	ListMessages(ctx context.Context, chatType models.ChatType, peerID, pageURL string) (*backend.Page, error)
}

// HistoryPage is one decoded page of past messages plus its cursors.
type HistoryPage struct {
	Messages []models.ChatMessage
	Count    int
	Next     string
	Previous string
}

// HistoryLoader fetches past messages and feeds them into the MessageStore.
type HistoryLoader struct {
	source HistorySource
	codec  Codec
	store  *MessageStore
	log    zerolog.Logger
}

// NewHistoryLoader wires a loader to its source and store.
func NewHistoryLoader(source HistorySource, store *MessageStore, logger zerolog.Logger) *HistoryLoader {
	return &HistoryLoader{
		source: source,
		store:  store,
		log:    logger.With().Str("component", "history").Logger(),
	}
}

// Fetch requests one page for target. An empty pageURL asks for the first
// page; otherwise it is a next/previous cursor from an earlier page. Every
// failure is a *LoadError.
func (l *HistoryLoader) Fetch(ctx context.Context, target Target, pageURL string) (*HistoryPage, error) {
	room, err := target.Room()
	if err != nil {
		return nil, &LoadError{Err: err}
	}

	page, err := l.source.ListMessages(ctx, target.ChatType, target.PeerID, pageURL)
	if err != nil {
		return nil, &LoadError{Room: room, Err: err, retryable: backend.IsRetryable(err)}
	}

	out := &HistoryPage{
		Messages: make([]models.ChatMessage, 0, len(page.Results)),
		Count:    page.Count,
		Next:     page.Next,
		Previous: page.Previous,
	}
	for _, raw := range page.Results {
		msg, err := l.codec.DecodeMessage(raw)
		if err != nil {
			l.log.Warn().Err(err).Str("room", room).Msg("skipping undecodable history entry")
			continue
		}
		out.Messages = append(out.Messages, msg)
	}
	return out, nil
}

// Load fetches a page and merges it into the store. It returns the page and
// the messages that were new to the store.
func (l *HistoryLoader) Load(ctx context.Context, target Target, pageURL string) (*HistoryPage, []models.ChatMessage, error) {
	page, err := l.Fetch(ctx, target, pageURL)
	if err != nil {
		return nil, nil, err
	}
	room, _ := target.Room()
	added := l.store.Merge(room, page.Messages...)
	l.log.Debug().Str("room", room).Int("fetched", len(page.Messages)).Int("added", len(added)).Msg("history merged")
	return page, added, nil
}
