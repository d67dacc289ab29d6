// Package services – NotificationService
//
// This file implements NotificationService, the application-level component
// that owns push subscriptions, the notification queue, and the VAPID key
// material used to sign web-push requests. It validates inputs, persists
// through the repo layer, and leaves actual delivery to the queue processor.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include recipient identifiers and pagination parameters where applicable.
package services

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/terply/chat-backend/internal/domain"
	"github.com/terply/chat-backend/internal/push"
	"github.com/terply/chat-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NotificationService coordinates push subscriptions, enqueueing and VAPID
// key management.
type NotificationService struct {
	DB *gorm.DB

	// Subject is the VAPID contact claim (a mailto: or https: URL) stamped
	// on auto-provisioned key pairs.
	Subject string
}

// Subscribe registers (or refreshes) a push endpoint for a recipient.
func (s *NotificationService) Subscribe(ctx context.Context, recipientID, endpoint, p256dh, auth string) (*domain.DeliveryEndpoint, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "Subscribe",
		trace.WithAttributes(attribute.String("recipient.id", recipientID)),
	)
	defer span.End()

	endpoint = strings.TrimSpace(endpoint)
	if recipientID == "" || endpoint == "" || p256dh == "" || auth == "" {
		return nil, ErrInvalidSubscription
	}
	if u, err := url.Parse(endpoint); err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, ErrInvalidSubscription
	}

	return repo.UpsertEndpoint(ctx, s.DB, recipientID, endpoint, p256dh, auth)
}

// Unsubscribe deactivates a recipient's endpoint.
func (s *NotificationService) Unsubscribe(ctx context.Context, recipientID, endpoint string) error {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "Unsubscribe",
		trace.WithAttributes(attribute.String("recipient.id", recipientID)),
	)
	defer span.End()

	endpoint = strings.TrimSpace(endpoint)
	if recipientID == "" || endpoint == "" {
		return ErrInvalidSubscription
	}
	err := repo.DeactivateEndpoint(ctx, s.DB, recipientID, endpoint)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrEndpointNotFound
	}
	return err
}

// Send validates and enqueues a notification. Delivery happens
// asynchronously on the queue processor's next tick.
func (s *NotificationService) Send(ctx context.Context, recipientID, title, body string, data map[string]any, priority int) (*domain.NotificationRow, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("recipient.id", recipientID),
			attribute.Int("priority", priority),
		),
	)
	defer span.End()

	if strings.TrimSpace(recipientID) == "" {
		return nil, ErrMissingRecipient
	}
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if title == "" && body == "" {
		return nil, ErrEmptyNotification
	}

	return repo.EnqueueNotification(ctx, s.DB, &domain.NotificationRow{
		RecipientID: recipientID,
		Title:       title,
		Body:        body,
		Data:        data,
		Priority:    priority,
	})
}

// ListPage returns a recipient's notification history, newest first.
func (s *NotificationService) ListPage(ctx context.Context, recipientID string, page, pageSize int) ([]domain.NotificationRow, int64, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("recipient.id", recipientID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountNotifications(ctx, s.DB, recipientID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.NotificationRow{}, 0, nil
	}

	items, err := repo.ListNotificationsPage(ctx, s.DB, recipientID, offset, pageSize)
	if items == nil {
		items = []domain.NotificationRow{}
	}
	return items, total, err
}

// PublicKey returns the active VAPID public key, provisioning a key pair on
// first use so clients can always subscribe.
func (s *NotificationService) PublicKey(ctx context.Context) (string, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "PublicKey")
	defer span.End()

	kp, err := repo.ActiveKeyPair(ctx, s.DB)
	if err == nil {
		return kp.PublicKey, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	kp, err = s.RotateKeys(ctx)
	if err != nil {
		return "", err
	}
	return kp.PublicKey, nil
}

// RotateKeys generates a fresh VAPID key pair and makes it the active one.
// Existing push subscriptions keep working only until their next renewal, so
// this is an operator action, not a routine job.
func (s *NotificationService) RotateKeys(ctx context.Context) (*domain.VapidKeyPair, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "RotateKeys")
	defer span.End()

	keys, err := push.GenerateKeys()
	if err != nil {
		return nil, err
	}
	return repo.RotateKeyPair(ctx, s.DB, keys.Public, keys.Private, s.Subject)
}

// ActiveKeys loads the active signing pair for the queue processor's push
// transport.
func (s *NotificationService) ActiveKeys(ctx context.Context) (push.Keys, error) {
	kp, err := repo.ActiveKeyPair(ctx, s.DB)
	if err != nil {
		return push.Keys{}, err
	}
	return push.Keys{Public: kp.PublicKey, Private: kp.PrivateKey}, nil
}
