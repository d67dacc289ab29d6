// Package realtime fans change-feed events out to WebSocket subscribers.
// Each connection subscribes to exactly one topic (a channel feed); the hub
// keeps a per-connection send buffer and drops subscribers that cannot keep
// up instead of blocking publishers.
package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/terply/chat-backend/internal/stream"
)

const (
	// sendBuffer is the per-subscriber frame backlog before the hub gives
	// up on the connection.
	sendBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin WebSocket upgrade requests.
	// Requests without an Origin header (native clients, curl) are allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host, err := parseHost(origin)
		if err != nil {
			return false
		}
		return host == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

type subscriber struct {
	topic string
	send  chan []byte
}

// Hub routes published events to the subscribers of their topic.
type Hub struct {
	log zerolog.Logger

	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
}

// NewHub constructs an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:    log.With().Str("component", "realtime").Logger(),
		topics: make(map[string]map[*subscriber]struct{}),
	}
}

// Publish marshals the event once and queues it to every subscriber of the
// topic. A subscriber whose buffer is full is dropped; it will reconnect
// and reconcile through history pagination.
func (h *Hub) Publish(topic string, ev stream.Event) {
	frame, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("topic", topic).Msg("marshal event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.topics[topic] {
		select {
		case sub.send <- frame:
		default:
			h.dropLocked(sub)
			h.log.Warn().Str("topic", topic).Msg("dropping slow subscriber")
		}
	}
}

// Subscribers reports how many connections are attached to a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.topics[sub.topic]
	if set == nil {
		set = make(map[*subscriber]struct{})
		h.topics[sub.topic] = set
	}
	set[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(sub)
}

func (h *Hub) dropLocked(sub *subscriber) {
	set := h.topics[sub.topic]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.topics, sub.topic)
	}
	close(sub.send)
}

// ServeHTTP upgrades the connection and streams the requested topic until
// the client goes away. The topic is passed as a query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "missing topic", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := &subscriber{topic: topic, send: make(chan []byte, sendBuffer)}
	h.add(sub)
	h.log.Debug().Str("topic", topic).Msg("subscriber attached")

	go h.writePump(conn, sub)
	h.readPump(conn, sub)
}

// readPump discards inbound frames; the feed is one-way. It exists to
// service pong handlers and to notice the peer closing.
func (h *Hub) readPump(conn *gorillaws.Conn, sub *subscriber) {
	defer func() {
		h.remove(sub)
		_ = conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *gorillaws.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case frame, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(gorillaws.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(gorillaws.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
