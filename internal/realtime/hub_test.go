package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/terply/chat-backend/internal/domain"
	"github.com/terply/chat-backend/internal/stream"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(zerolog.Nop())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, topic string) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?topic=" + topic
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", topic, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, h *Hub, topic string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Subscribers(topic) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("topic %s never reached %d subscribers (have %d)", topic, want, h.Subscribers(topic))
}

func TestHub_PublishReachesTopicSubscribersOnly(t *testing.T) {
	h, srv := newTestHub(t)

	c1 := dial(t, srv, "channel:c1")
	c2 := dial(t, srv, "channel:c2")
	waitSubscribers(t, h, "channel:c1", 1)
	waitSubscribers(t, h, "channel:c2", 1)

	ev, err := stream.NewRowEvent(stream.EventInserted, &domain.Message{
		ID: "m1", ChannelID: "c1", SenderID: "u1", Content: "hi",
		Timestamp: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("NewRowEvent: %v", err)
	}
	h.Publish("channel:c1", ev)

	_ = c1.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := c1.ReadMessage()
	if err != nil {
		t.Fatalf("read on c1: %v", err)
	}
	var got stream.Event
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if got.Type != stream.EventInserted {
		t.Fatalf("unexpected event type %q", got.Type)
	}
	msg, err := stream.DecodeMessage(got.New)
	if err != nil {
		t.Fatalf("decode row: %v", err)
	}
	if msg.ID != "m1" || msg.ChannelID != "c1" {
		t.Fatalf("unexpected row: %+v", msg)
	}

	// The other topic must stay silent.
	_ = c2.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := c2.ReadMessage(); err == nil {
		t.Fatalf("c2 received a frame for a foreign topic")
	}
}

func TestHub_DisconnectDetaches(t *testing.T) {
	h, srv := newTestHub(t)

	conn := dial(t, srv, "channel:c1")
	waitSubscribers(t, h, "channel:c1", 1)

	_ = conn.Close()
	waitSubscribers(t, h, "channel:c1", 0)
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	h, srv := newTestHub(t)

	// Never read from this connection; once its buffer fills the hub must
	// cut it loose rather than stall publishers.
	dial(t, srv, "channel:c1")
	waitSubscribers(t, h, "channel:c1", 1)

	// Large frames so the socket buffers fill and the write pump stalls,
	// which is what lets the send channel back up.
	ev, err := stream.NewRowEvent(stream.EventInserted, &domain.Message{
		ID: "m1", ChannelID: "c1", SenderID: "u1", Content: strings.Repeat("x", 64<<10),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("NewRowEvent: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && h.Subscribers("channel:c1") > 0 {
		h.Publish("channel:c1", ev)
	}
	waitSubscribers(t, h, "channel:c1", 0)
}

func TestHub_MissingTopicRejected(t *testing.T) {
	_, srv := newTestHub(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, _, err := gorillaws.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatalf("expected dial without topic to fail")
	}
}
