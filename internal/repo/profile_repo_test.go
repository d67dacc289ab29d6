package repo

import (
	"context"
	"testing"

	"github.com/terply/chat-backend/internal/domain"
)

func TestFetchIdentities(t *testing.T) {
	db := newRepoDB(t, &domain.Profile{})
	ctx := context.Background()

	for _, p := range []*domain.Profile{
		{ID: "u1", DisplayName: "Alice", AvatarURL: "https://cdn.example/a.png"},
		{ID: "u2", DisplayName: "Bob"},
	} {
		if err := UpsertProfile(ctx, db, p); err != nil {
			t.Fatalf("seed %s: %v", p.ID, err)
		}
	}

	got, err := FetchIdentities(ctx, db, []string{"u1", "u2", "ghost"})
	if err != nil {
		t.Fatalf("FetchIdentities: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 identities, got %+v", got)
	}
	byID := map[string]domain.SenderIdentity{}
	for _, id := range got {
		byID[id.ID] = id
	}
	if byID["u1"].DisplayName != "Alice" || byID["u1"].AvatarURL == "" {
		t.Fatalf("u1 not resolved: %+v", byID["u1"])
	}
	if _, ok := byID["ghost"]; ok {
		t.Fatalf("unknown id must be absent")
	}

	empty, err := FetchIdentities(ctx, db, nil)
	if err != nil || empty != nil {
		t.Fatalf("empty batch should be a no-op, got %+v err=%v", empty, err)
	}
}
