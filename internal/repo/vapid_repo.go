// This file provides repository functions for VAPID signing key pairs.
package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/terply/chat-backend/internal/domain"
)

// ActiveKeyPair returns the currently active VAPID key pair, or
// gorm.ErrRecordNotFound when none has been provisioned yet.
func ActiveKeyPair(ctx context.Context, db *gorm.DB) (*domain.VapidKeyPair, error) {
	var kp domain.VapidKeyPair
	if err := db.WithContext(ctx).Where("active = ?", true).Order("created_at DESC").First(&kp).Error; err != nil {
		return nil, err
	}
	return &kp, nil
}

// RotateKeyPair deactivates any active pair and installs a new one in a
// single transaction, so there is never a moment with two active pairs.
func RotateKeyPair(ctx context.Context, db *gorm.DB, publicKey, privateKey, subject string) (*domain.VapidKeyPair, error) {
	kp := &domain.VapidKeyPair{
		ID:         uuid.NewString(),
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Subject:    subject,
		Active:     true,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.VapidKeyPair{}).Where("active = ?", true).Update("active", false).Error; err != nil {
			return err
		}
		return tx.Create(kp).Error
	})
	if err != nil {
		return nil, err
	}
	return kp, nil
}
