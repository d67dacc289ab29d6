// Package stream implements the realtime message core: a per-channel,
// deduplicated, timestamp-ordered ledger of messages, and the reconciler
// that feeds it from paginated history plus a live change feed.
package stream

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/terply/chat-backend/internal/domain"
)

// Change-feed event types.
type EventType string

const (
	EventInserted EventType = "inserted"
	EventUpdated  EventType = "updated"
	EventDeleted  EventType = "deleted"
)

// Subscription states reported by a Transport's status callback.
const (
	StatusSubscribed = "subscribed"
	StatusClosed     = "closed"
	StatusError      = "error"
)

// Event is one change-feed frame. New carries the row after the change
// (inserted/updated); Old carries the row before it (updated/deleted).
// Payloads stay raw until validated by DecodeMessage so one malformed record
// cannot poison a batch.
type Event struct {
	Type            EventType       `json:"event"`
	New             json.RawMessage `json:"new,omitempty"`
	Old             json.RawMessage `json:"old,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// ErrMalformedRecord marks a change-feed payload that failed boundary
// validation. Such records are logged and skipped, never propagated inward.
var ErrMalformedRecord = errors.New("malformed message record")

// wireMessage is the raw row shape on the feed. Every field is revalidated
// before it becomes a domain.Message.
type wireMessage struct {
	ID          string              `json:"id"`
	ChannelID   string              `json:"channel_id"`
	SenderID    string              `json:"sender_id"`
	Content     string              `json:"content"`
	Timestamp   time.Time           `json:"timestamp"`
	ParentID    *string             `json:"parent_id"`
	Reactions   map[string][]string `json:"reactions"`
	Attachments []domain.Attachment `json:"attachments"`
}

// DecodeMessage validates a raw feed payload into a domain.Message.
// Records missing an id, channel, sender, or timestamp are rejected with
// ErrMalformedRecord.
func DecodeMessage(raw json.RawMessage) (*domain.Message, error) {
	if len(raw) == 0 {
		return nil, ErrMalformedRecord
	}
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, errors.Join(ErrMalformedRecord, err)
	}
	if strings.TrimSpace(w.ID) == "" ||
		strings.TrimSpace(w.ChannelID) == "" ||
		strings.TrimSpace(w.SenderID) == "" ||
		w.Timestamp.IsZero() {
		return nil, ErrMalformedRecord
	}
	return &domain.Message{
		ID:          w.ID,
		ChannelID:   w.ChannelID,
		SenderID:    w.SenderID,
		Content:     w.Content,
		Timestamp:   w.Timestamp,
		ParentID:    w.ParentID,
		Reactions:   w.Reactions,
		Attachments: w.Attachments,
	}, nil
}

// EncodeRow marshals a message into the raw row shape carried on the feed.
// It is the producer-side counterpart of DecodeMessage.
func EncodeRow(m *domain.Message) (json.RawMessage, error) {
	return json.Marshal(wireMessage{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		ParentID:    m.ParentID,
		Reactions:   m.Reactions,
		Attachments: m.Attachments,
	})
}

// NewRowEvent builds a change-feed frame for a row mutation. Deletes carry
// the row in Old, everything else in New.
func NewRowEvent(t EventType, m *domain.Message) (Event, error) {
	raw, err := EncodeRow(m)
	if err != nil {
		return Event{}, err
	}
	ev := Event{Type: t, CommitTimestamp: time.Now().UTC()}
	if t == EventDeleted {
		ev.Old = raw
	} else {
		ev.New = raw
	}
	return ev, nil
}

// recordID extracts the row id an event refers to: the new row for inserts
// and updates, the old row for deletes. Empty when the payload is unusable.
func recordID(ev Event) string {
	raw := ev.New
	if ev.Type == EventDeleted {
		raw = ev.Old
		if len(raw) == 0 {
			raw = ev.New
		}
	}
	if len(raw) == 0 {
		return ""
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ID
}
