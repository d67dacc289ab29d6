// This file provides repository functions for push delivery endpoints:
// registration, deactivation and the failure bookkeeping driven by the
// queue processor.
package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/terply/chat-backend/internal/domain"
)

// UpsertEndpoint registers a push endpoint for a recipient. Re-registering
// an existing endpoint URI refreshes its keys and owner and reactivates it,
// which is what browsers do when a subscription is renewed.
func UpsertEndpoint(ctx context.Context, db *gorm.DB, recipientID, uri, p256dh, auth string) (*domain.DeliveryEndpoint, error) {
	var ep domain.DeliveryEndpoint
	err := db.WithContext(ctx).Where("endpoint_uri = ?", uri).First(&ep).Error
	switch {
	case err == nil:
		ep.RecipientID = recipientID
		ep.P256dh = p256dh
		ep.Auth = auth
		ep.Status = domain.EndpointActive
		ep.FailureCount = 0
		return &ep, db.WithContext(ctx).Save(&ep).Error
	case err == gorm.ErrRecordNotFound:
		ep = domain.DeliveryEndpoint{
			ID:          uuid.NewString(),
			RecipientID: recipientID,
			EndpointURI: uri,
			P256dh:      p256dh,
			Auth:        auth,
			Status:      domain.EndpointActive,
		}
		return &ep, db.WithContext(ctx).Create(&ep).Error
	default:
		return nil, err
	}
}

// DeactivateEndpoint marks a recipient's endpoint inactive. The row is kept
// so a later re-subscription of the same URI reuses it.
func DeactivateEndpoint(ctx context.Context, db *gorm.DB, recipientID, uri string) error {
	res := db.WithContext(ctx).Model(&domain.DeliveryEndpoint{}).
		Where("recipient_id = ? AND endpoint_uri = ?", recipientID, uri).
		Update("status", domain.EndpointInactive)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListActiveEndpoints returns every active endpoint of a recipient.
func ListActiveEndpoints(ctx context.Context, db *gorm.DB, recipientID string) ([]domain.DeliveryEndpoint, error) {
	var out []domain.DeliveryEndpoint
	err := db.WithContext(ctx).
		Where("recipient_id = ? AND status = ?", recipientID, domain.EndpointActive).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// MarkEndpointExpired retires an endpoint the push service rejected as gone.
// Expired endpoints are excluded from fan-out but never deleted.
func MarkEndpointExpired(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Model(&domain.DeliveryEndpoint{}).Where("id = ?", id).
		Updates(map[string]any{"status": domain.EndpointExpired}).Error
}

// IncrementEndpointFailure bumps an endpoint's delivery failure counter.
func IncrementEndpointFailure(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Model(&domain.DeliveryEndpoint{}).Where("id = ?", id).
		Update("failure_count", gorm.Expr("failure_count + 1")).Error
}
