// Package push implements the push transport: delivery of an encrypted
// payload to one registered endpoint via the Web Push protocol, with VAPID
// request signing. Failures are classified as permanent (endpoint gone,
// subscription expired — stop using it) or transient (worth retrying).
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/terply/chat-backend/internal/domain"
)

// Outcome classifies one delivery attempt.
type Outcome int

const (
	// OutcomeOK: the push service accepted the payload.
	OutcomeOK Outcome = iota
	// OutcomeTransient: delivery failed but the endpoint may recover (network
	// error, 5xx, 429).
	OutcomeTransient
	// OutcomePermanent: the endpoint is gone or the subscription expired (404/410);
	// it must be excluded from future fan-out.
	OutcomePermanent
)

// Result is the outcome of one send attempt.
type Result struct {
	Outcome Outcome
	Err     error
}

// Payload is the notification content pushed to an endpoint.
type Payload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// Transport sends a payload to one delivery endpoint.
type Transport interface {
	Send(ctx context.Context, endpoint *domain.DeliveryEndpoint, payload Payload) Result
}

// Keys is a VAPID signing key pair in base64url form.
type Keys struct {
	Public  string
	Private string
}

// GenerateKeys creates a fresh VAPID key pair.
func GenerateKeys() (Keys, error) {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return Keys{}, err
	}
	return Keys{Public: pub, Private: priv}, nil
}

// WebPush is the production Transport: Web Push protocol with payload
// encryption and VAPID signing.
type WebPush struct {
	Keys    Keys
	Subject string        // mailto: or https: URI identifying the sender
	TTL     int           // seconds the push service may retain the payload
	Timeout time.Duration // per-request timeout

	// Client overrides the HTTP client (tests). Nil uses a default with
	// the configured timeout.
	Client *http.Client
}

// NewWebPush builds a WebPush transport with a 24h push-service TTL and a
// 10s request timeout.
func NewWebPush(keys Keys, subject string) *WebPush {
	return &WebPush{Keys: keys, Subject: subject, TTL: 24 * 3600, Timeout: 10 * time.Second}
}

// Send delivers payload to endpoint. The outcome classification follows the
// push service status code: 2xx ok, 404/410 permanent, everything else
// (including transport errors) transient.
func (w *WebPush) Send(ctx context.Context, endpoint *domain.DeliveryEndpoint, payload Payload) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Outcome: OutcomeTransient, Err: err}
	}

	sub := &webpush.Subscription{
		Endpoint: endpoint.EndpointURI,
		Keys: webpush.Keys{
			P256dh: endpoint.P256dh,
			Auth:   endpoint.Auth,
		},
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: w.Timeout}
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, sub, &webpush.Options{
		HTTPClient:      client,
		Subscriber:      w.Subject,
		VAPIDPublicKey:  w.Keys.Public,
		VAPIDPrivateKey: w.Keys.Private,
		TTL:             w.TTL,
	})
	if err != nil {
		return Result{Outcome: OutcomeTransient, Err: err}
	}
	defer resp.Body.Close()

	return classify(resp.StatusCode)
}

func classify(status int) Result {
	switch {
	case status >= 200 && status < 300:
		return Result{Outcome: OutcomeOK}
	case status == http.StatusNotFound || status == http.StatusGone:
		return Result{Outcome: OutcomePermanent, Err: &StatusError{Status: status}}
	default:
		return Result{Outcome: OutcomeTransient, Err: &StatusError{Status: status}}
	}
}

// StatusError reports a non-success push service response.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return "push service returned " + http.StatusText(e.Status)
}
