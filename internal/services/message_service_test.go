package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/terply/chat-backend/internal/domain"
	"github.com/terply/chat-backend/internal/stream"
)

// fakePublisher records published feed events.
type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	events []stream.Event
}

func (f *fakePublisher) Publish(topic string, ev stream.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.events = append(f.events, ev)
}

func (f *fakePublisher) last(t *testing.T) (string, stream.Event) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		t.Fatalf("no event published")
	}
	return f.topics[len(f.topics)-1], f.events[len(f.events)-1]
}

func TestMessage_Post_ValidatesContent(t *testing.T) {
	db := newTestDB(t)
	svc := &MessageService{DB: db, MaxContentRunes: 10}
	ctx := context.Background()

	if _, err := svc.Post(ctx, PostMessageInput{ChannelID: "c1", SenderID: "u1", Content: "   "}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := svc.Post(ctx, PostMessageInput{ChannelID: "c1", SenderID: "u1", Content: strings.Repeat("x", 11)}); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
}

func TestMessage_Post_PersistsAndPublishes(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{}
	svc := &MessageService{DB: db, Events: pub}
	ctx := context.Background()

	m, err := svc.Post(ctx, PostMessageInput{
		ID: "client-1", ChannelID: "c1", SenderID: "u1", Content: "  hello  ",
		Attachments: []domain.Attachment{{URL: "https://cdn.example/f.png", Filename: "f.png"}},
	})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if m.ID != "client-1" || m.Content != "hello" {
		t.Fatalf("unexpected message: %+v", m)
	}

	topic, ev := pub.last(t)
	if topic != "channel:c1" || ev.Type != stream.EventInserted {
		t.Fatalf("unexpected publish: topic=%s type=%s", topic, ev.Type)
	}
	row, err := stream.DecodeMessage(ev.New)
	if err != nil {
		t.Fatalf("decode published row: %v", err)
	}
	if row.ID != "client-1" || len(row.Attachments) != 1 {
		t.Fatalf("published row mismatch: %+v", row)
	}
}

func TestMessage_History_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	svc := &MessageService{DB: db}
	ctx := context.Background()

	for i, id := range []string{"m0", "m1", "m2"} {
		m := &domain.Message{
			ID: id, ChannelID: "c1", SenderID: "u1", Content: id,
			Timestamp: time.Date(2026, 8, 1, 10, i, 0, 0, time.UTC),
		}
		if err := db.Create(m).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	page, err := svc.History(ctx, "c1", time.Time{}, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page) != 2 || page[0].ID != "m2" || page[1].ID != "m1" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestMessage_ReactAndEdit_PublishUpdates(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{}
	svc := &MessageService{DB: db, Events: pub}
	ctx := context.Background()

	if _, err := svc.React(ctx, "ghost", nil); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}

	m, err := svc.Post(ctx, PostMessageInput{ChannelID: "c1", SenderID: "u1", Content: "hi"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	if _, err := svc.React(ctx, m.ID, map[string][]string{"👍": {"u2"}}); err != nil {
		t.Fatalf("React: %v", err)
	}
	_, ev := pub.last(t)
	if ev.Type != stream.EventUpdated {
		t.Fatalf("expected updated event, got %s", ev.Type)
	}
	row, err := stream.DecodeMessage(ev.New)
	if err != nil || len(row.Reactions["👍"]) != 1 {
		t.Fatalf("reaction not on feed: %+v err=%v", row, err)
	}

	got, err := svc.Edit(ctx, m.ID, "edited")
	if err != nil || got.Content != "edited" {
		t.Fatalf("Edit: %+v err=%v", got, err)
	}
}

func TestMessage_Delete_PublishesDeletion(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{}
	svc := &MessageService{DB: db, Events: pub}
	ctx := context.Background()

	if err := svc.Delete(ctx, "ghost"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}

	m, err := svc.Post(ctx, PostMessageInput{ChannelID: "c1", SenderID: "u1", Content: "bye"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if err := svc.Delete(ctx, m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, ev := pub.last(t)
	if ev.Type != stream.EventDeleted || len(ev.Old) == 0 {
		t.Fatalf("unexpected delete event: %+v", ev)
	}

	page, err := svc.History(ctx, "c1", time.Time{}, 10)
	if err != nil || len(page) != 0 {
		t.Fatalf("deleted message still in history: %+v err=%v", page, err)
	}
}
