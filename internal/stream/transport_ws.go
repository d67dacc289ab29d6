package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/terply/chat-backend/internal/resilience"
)

// staleCheckInterval is how often a live subscription checks the silent-feed
// watchdog.
const staleCheckInterval = 5 * time.Second

// WSTransport implements Transport over a websocket change feed. Each
// subscription dials its own connection to the feed endpoint with the topic
// as a query parameter and reads JSON Event frames.
//
// Reconnection is delegated to a per-subscription resilience.Reconnector:
// exponential backoff with jitter, a circuit breaker gating dial attempts,
// and a stale-feed watchdog that forces a reconnect when a connection goes
// silent without erroring.
type WSTransport struct {
	// URL is the feed endpoint, e.g. "ws://host/realtime".
	URL string
	// Header carries auth for the dial (bearer token).
	Header http.Header
	// Resilience tunes the per-subscription reconnector.
	Resilience resilience.Config
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Log    zerolog.Logger
}

// wsSubscription is one live topic subscription with its reconnect loop.
type wsSubscription struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// Unsubscribe tears the subscription down. Safe to call more than once.
func (s *wsSubscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *wsSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *wsSubscription) setConn(c *websocket.Conn) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

// Subscribe opens the change feed for topic. The initial dial happens
// synchronously so callers learn immediately when the feed is unreachable;
// reconnects after that run in the background through the reconnector.
func (t *WSTransport) Subscribe(ctx context.Context, topic string, onEvent func(Event), onStatus func(string)) (Subscription, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	sub := &wsSubscription{cancel: cancel}
	rc := resilience.NewReconnector(t.Resilience, nil)

	conn, err := t.dial(ctx, topic)
	if err != nil {
		cancel()
		rc.Failure()
		return nil, err
	}
	rc.Success()
	sub.setConn(conn)
	t.notify(onStatus, StatusSubscribed)

	go t.run(runCtx, sub, rc, topic, conn, onEvent, onStatus)
	return sub, nil
}

func (t *WSTransport) dial(ctx context.Context, topic string) (*websocket.Conn, error) {
	d := t.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	u := t.URL + "?topic=" + url.QueryEscape(topic)
	conn, resp, err := d.DialContext(ctx, u, t.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// run owns the read loop and the reconnect loop for one subscription.
func (t *WSTransport) run(ctx context.Context, sub *wsSubscription, rc *resilience.Reconnector, topic string, conn *websocket.Conn, onEvent func(Event), onStatus func(string)) {
	for {
		t.readLoop(ctx, sub, rc, conn, onEvent)
		_ = conn.Close()
		if sub.isClosed() || ctx.Err() != nil {
			t.notify(onStatus, StatusClosed)
			return
		}
		t.notify(onStatus, StatusError)

		// Reconnect with backoff; the breaker gates dial attempts so a dead
		// backend is not hot-looped.
		var err error
		conn, err = t.reconnect(ctx, sub, rc, topic)
		if err != nil {
			t.notify(onStatus, StatusClosed)
			return
		}
		sub.setConn(conn)
		t.notify(onStatus, StatusSubscribed)
	}
}

// readLoop pumps frames until the connection dies, the subscription closes,
// or the stale watchdog fires.
func (t *WSTransport) readLoop(ctx context.Context, sub *wsSubscription, rc *resilience.Reconnector, conn *websocket.Conn, onEvent func(Event)) {
	done := make(chan struct{})
	defer close(done)

	// Stale watchdog: force-close a silent connection so the read loop
	// unblocks and the reconnect path runs.
	go func() {
		ticker := time.NewTicker(staleCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				if rc.Stale() {
					t.Log.Warn().Msg("stream: change feed silent past threshold, forcing reconnect")
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		rc.Touch()
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Log.Warn().Err(err).Msg("stream: dropping undecodable feed frame")
			continue
		}
		if sub.isClosed() {
			return
		}
		onEvent(ev)
	}
}

func (t *WSTransport) reconnect(ctx context.Context, sub *wsSubscription, rc *resilience.Reconnector, topic string) (*websocket.Conn, error) {
	for {
		if sub.isClosed() || ctx.Err() != nil {
			return nil, context.Canceled
		}
		if !rc.Allow() {
			// Breaker open: wait out a slice of the cooldown.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}
		conn, err := t.dial(ctx, topic)
		if err == nil {
			rc.Success()
			return conn, nil
		}
		delay, giveUp := rc.Failure()
		if giveUp {
			t.Log.Error().Err(err).Str("topic", topic).Msg("stream: reconnect budget exhausted")
			return nil, err
		}
		t.Log.Debug().Err(err).Dur("retry_in", delay).Str("topic", topic).Msg("stream: reconnect failed, backing off")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (t *WSTransport) notify(onStatus func(string), s string) {
	if onStatus != nil {
		onStatus(s)
	}
}
