// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// owns the lifecycle of channel messages. It validates inputs, persists
// through the repo layer, and publishes a change-feed event for every write
// so attached realtime subscribers converge without polling.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include channel/message identifiers where applicable.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/terply/chat-backend/internal/domain"
	"github.com/terply/chat-backend/internal/identity"
	"github.com/terply/chat-backend/internal/repo"
	"github.com/terply/chat-backend/internal/stream"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EventPublisher fans a change-feed event out to realtime subscribers of a
// topic. Publishing is fire-and-forget.
type EventPublisher interface {
	Publish(topic string, ev stream.Event)
}

// ChannelTopic is the realtime topic name of a channel's change feed.
func ChannelTopic(channelID string) string { return "channel:" + channelID }

// PostMessageInput carries everything needed to persist a new message. A
// non-empty ID is kept verbatim so optimistic senders get their own id back
// on the feed.
type PostMessageInput struct {
	ID          string
	ChannelID   string
	SenderID    string
	Content     string
	ParentID    *string
	Attachments []domain.Attachment
}

// MessageService coordinates message persistence and the realtime feed.
type MessageService struct {
	DB     *gorm.DB
	Events EventPublisher

	// Senders, when set, hydrates Message.Sender on history reads.
	Senders *identity.Resolver

	// Optional guard
	MaxContentRunes int
}

// Post validates and persists a message, then announces it on the channel
// feed.
func (s *MessageService) Post(ctx context.Context, in PostMessageInput) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Post",
		trace.WithAttributes(
			attribute.String("channel.id", in.ChannelID),
			attribute.String("sender.id", in.SenderID),
		),
	)
	defer span.End()

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return nil, ErrTooLong
	}

	m, err := repo.CreateMessage(s.DB.WithContext(ctx), &domain.Message{
		ID:          in.ID,
		ChannelID:   in.ChannelID,
		SenderID:    in.SenderID,
		Content:     content,
		ParentID:    in.ParentID,
		Attachments: in.Attachments,
	})
	if err != nil {
		return nil, err
	}

	s.publish(stream.EventInserted, m)
	return m, nil
}

// History returns up to limit messages older than the cursor, newest first.
// A zero cursor returns the latest page.
func (s *MessageService) History(ctx context.Context, channelID string, before time.Time, limit int) ([]domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(
			attribute.String("channel.id", channelID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	msgs, err := repo.PageBefore(s.DB.WithContext(ctx), channelID, before, limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	s.hydrateSenders(ctx, msgs)
	return msgs, nil
}

// hydrateSenders fills Message.Sender from the resolver, cache-first. A
// lookup failure leaves senders unresolved rather than failing the read.
func (s *MessageService) hydrateSenders(ctx context.Context, msgs []domain.Message) {
	if s.Senders == nil || len(msgs) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		ids = append(ids, m.SenderID)
	}
	idents, err := s.Senders.ResolveBatch(ctx, ids)
	if err != nil {
		return
	}
	for i := range msgs {
		if ident, ok := idents[msgs[i].SenderID]; ok {
			msgs[i].Sender = &ident
		}
	}
}

// React replaces a message's reaction map and announces the update.
func (s *MessageService) React(ctx context.Context, messageID string, reactions map[string][]string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "React",
		trace.WithAttributes(attribute.String("message.id", messageID)),
	)
	defer span.End()

	if _, err := repo.GetMessage(s.DB.WithContext(ctx), messageID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	m, err := repo.UpdateMessageReactions(s.DB.WithContext(ctx), messageID, reactions)
	if err != nil {
		return nil, err
	}
	s.publish(stream.EventUpdated, m)
	return m, nil
}

// Edit replaces a message's content and announces the update.
func (s *MessageService) Edit(ctx context.Context, messageID, content string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Edit",
		trace.WithAttributes(attribute.String("message.id", messageID)),
	)
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return nil, ErrTooLong
	}
	if _, err := repo.GetMessage(s.DB.WithContext(ctx), messageID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	m, err := repo.UpdateMessageContent(s.DB.WithContext(ctx), messageID, content)
	if err != nil {
		return nil, err
	}
	s.publish(stream.EventUpdated, m)
	return m, nil
}

// Delete removes a message and announces the deletion so attached clients
// tombstone it.
func (s *MessageService) Delete(ctx context.Context, messageID string) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("message.id", messageID)),
	)
	defer span.End()

	m, err := repo.GetMessage(s.DB.WithContext(ctx), messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	if err := repo.DeleteMessage(s.DB.WithContext(ctx), messageID); err != nil {
		return err
	}

	s.publish(stream.EventDeleted, m)
	return nil
}

func (s *MessageService) publish(t stream.EventType, m *domain.Message) {
	if s.Events == nil {
		return
	}
	ev, err := stream.NewRowEvent(t, m)
	if err != nil {
		return
	}
	s.Events.Publish(ChannelTopic(m.ChannelID), ev)
}
