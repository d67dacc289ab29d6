package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/terply/chat-backend/internal/domain"
)

// UpsertProfile creates or updates a display profile.
func UpsertProfile(ctx context.Context, db *gorm.DB, p *domain.Profile) error {
	return db.WithContext(ctx).Save(p).Error
}

// FetchIdentities resolves a batch of sender IDs to display identities.
// Unknown IDs are simply absent from the result; the caller decides how to
// render messages whose author cannot be resolved.
func FetchIdentities(ctx context.Context, db *gorm.DB, ids []string) ([]domain.SenderIdentity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []domain.Profile
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.SenderIdentity, 0, len(rows))
	for _, p := range rows {
		out = append(out, p.Identity())
	}
	return out, nil
}
