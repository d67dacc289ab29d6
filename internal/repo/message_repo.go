// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model: the channel ledger that history pagination and the change feed
// are reconciled against.
package repo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/terply/chat-backend/internal/domain"
)

// CreateMessage inserts a new message row. A caller-supplied ID is kept so
// optimistically sent messages come back from the change feed under the
// same key the client already holds; an empty ID gets a fresh UUID.
func CreateMessage(db *gorm.DB, m *domain.Message) (*domain.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return m, db.Create(m).Error
}

// PageBefore returns up to limit messages of a channel strictly older than
// the cursor, newest first (Timestamp DESC, ID DESC). A zero cursor means
// "latest page".
func PageBefore(db *gorm.DB, channelID string, before time.Time, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.Where("channel_id = ?", channelID).Order("timestamp DESC, id DESC")
	if !before.IsZero() {
		q = q.Where("timestamp < ?", before)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// GetMessage fetches a message by ID.
func GetMessage(db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessageContent edits the body of an existing message.
func UpdateMessageContent(db *gorm.DB, id, content string) (*domain.Message, error) {
	if err := db.Model(&domain.Message{}).Where("id = ?", id).Update("content", content).Error; err != nil {
		return nil, err
	}
	return GetMessage(db, id)
}

// UpdateMessageReactions replaces the reaction map of an existing message.
// The struct update form keeps the JSON serializer on the reactions column
// in play; a bare column update would hand the raw map to the driver.
func UpdateMessageReactions(db *gorm.DB, id string, reactions map[string][]string) (*domain.Message, error) {
	err := db.Model(&domain.Message{}).
		Where("id = ?", id).
		Select("reactions").
		Updates(&domain.Message{Reactions: reactions}).Error
	if err != nil {
		return nil, err
	}
	return GetMessage(db, id)
}

// DeleteMessage soft-deletes a message row. The row stays in the table so
// late change-feed consumers can still resolve the delete.
func DeleteMessage(db *gorm.DB, id string) error {
	res := db.Where("id = ?", id).Delete(&domain.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(db *gorm.DB, channelID string) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM messages WHERE channel_id = ? AND deleted_at IS NULL", channelID).Scan(&total).Error
	return total, err
}
