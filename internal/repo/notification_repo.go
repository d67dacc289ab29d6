// This file provides repository functions for the notification delivery
// queue: enqueue, batch claiming for the processor, status transitions and
// retention sweeping.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/terply/chat-backend/internal/domain"
)

// EnqueueNotification inserts a pending queue row.
func EnqueueNotification(ctx context.Context, db *gorm.DB, n *domain.NotificationRow) (*domain.NotificationRow, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = domain.StatusPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return n, db.WithContext(ctx).Create(n).Error
}

// ClaimBatch reads up to limit deliverable rows inside a transaction:
// pending status, attempts below the retry cap, urgent first and FIFO
// within a priority (priority DESC, created_at ASC).
func ClaimBatch(ctx context.Context, db *gorm.DB, limit, maxAttempts int) ([]domain.NotificationRow, error) {
	var out []domain.NotificationRow
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.
			Where("status = ? AND attempts < ?", domain.StatusPending, maxAttempts).
			Order("priority DESC, created_at ASC").
			Limit(limit).
			Find(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkSent transitions a row to sent and stamps the processing time.
func MarkSent(ctx context.Context, db *gorm.DB, id string, attempts int) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Model(&domain.NotificationRow{}).Where("id = ?", id).Updates(map[string]any{
		"status":        domain.StatusSent,
		"attempts":      attempts,
		"error_message": "",
		"processed_at":  &now,
	}).Error
}

// MarkFailed transitions a row to failed, recording the last delivery error.
func MarkFailed(ctx context.Context, db *gorm.DB, id string, attempts int, errMsg string) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Model(&domain.NotificationRow{}).Where("id = ?", id).Updates(map[string]any{
		"status":        domain.StatusFailed,
		"attempts":      attempts,
		"error_message": errMsg,
		"processed_at":  &now,
	}).Error
}

// RecordRetry bumps the attempt counter after a fully failed delivery pass
// while leaving the row pending, so a later tick picks it up again.
func RecordRetry(ctx context.Context, db *gorm.DB, id string, attempts int, errMsg string) error {
	return db.WithContext(ctx).Model(&domain.NotificationRow{}).Where("id = ?", id).Updates(map[string]any{
		"attempts":      attempts,
		"error_message": errMsg,
	}).Error
}

// DeleteTerminalBefore removes sent and failed rows created before the
// cutoff. Pending rows are never swept, whatever their age.
func DeleteTerminalBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []string{domain.StatusSent, domain.StatusFailed}, cutoff).
		Delete(&domain.NotificationRow{})
	return res.RowsAffected, res.Error
}

// ListNotificationsPage returns a recipient's queue rows, newest first.
func ListNotificationsPage(ctx context.Context, db *gorm.DB, recipientID string, offset, limit int) ([]domain.NotificationRow, error) {
	var out []domain.NotificationRow
	err := db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountNotifications uses a raw COUNT so a missing table surfaces as an error.
func CountNotifications(ctx context.Context, db *gorm.DB, recipientID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM notification_queue WHERE recipient_id = ?", recipientID).
		Scan(&total).Error
	return total, err
}
