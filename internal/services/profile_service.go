// Package services – ProfileService
//
// This file implements ProfileService, which owns display profiles: the
// name/avatar pairs rendered next to messages. It doubles as the store
// behind the sender resolver cache, so one batched query serves every
// cache miss of a history page.
package services

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/terply/chat-backend/internal/domain"
	"github.com/terply/chat-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ProfileService persists display profiles and resolves sender identities.
// It satisfies identity.IdentityStore.
type ProfileService struct {
	DB *gorm.DB
}

// Upsert creates or replaces the profile stored under id.
func (s *ProfileService) Upsert(ctx context.Context, id, displayName, avatarURL string) (*domain.Profile, error) {
	tr := otel.Tracer("services/ProfileService")
	ctx, span := tr.Start(ctx, "Upsert",
		trace.WithAttributes(attribute.String("profile.id", id)),
	)
	defer span.End()

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, ErrEmptyDisplayName
	}
	p := &domain.Profile{
		ID:          id,
		DisplayName: displayName,
		AvatarURL:   strings.TrimSpace(avatarURL),
	}
	if err := repo.UpsertProfile(ctx, s.DB, p); err != nil {
		return nil, err
	}
	return p, nil
}

// FetchIdentities resolves a batch of sender ids in one query. Unknown ids
// are absent from the result.
func (s *ProfileService) FetchIdentities(ctx context.Context, ids []string) ([]domain.SenderIdentity, error) {
	tr := otel.Tracer("services/ProfileService")
	ctx, span := tr.Start(ctx, "FetchIdentities",
		trace.WithAttributes(attribute.Int("batch.size", len(ids))),
	)
	defer span.End()

	return repo.FetchIdentities(ctx, s.DB, ids)
}
