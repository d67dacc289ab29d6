package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/terply/chat-backend/internal/domain"
)

func TestEnqueueNotification_Defaults(t *testing.T) {
	db := newRepoDB(t, &domain.NotificationRow{})
	ctx := context.Background()

	n, err := EnqueueNotification(ctx, db, &domain.NotificationRow{
		RecipientID: "u1",
		Title:       "hello",
		Body:        "world",
		Priority:    3,
		Data:        map[string]any{"channel_id": "c1"},
	})
	if err != nil {
		t.Fatalf("EnqueueNotification: %v", err)
	}
	if n.ID == "" || n.Status != domain.StatusPending || n.Attempts != 0 {
		t.Fatalf("unexpected row defaults: %+v", n)
	}
	if n.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt not stamped")
	}

	var got domain.NotificationRow
	if err := db.First(&got, "id = ?", n.ID).Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.Data["channel_id"] != "c1" {
		t.Fatalf("data payload lost: %+v", got.Data)
	}
}

func TestClaimBatch_PriorityThenFIFO(t *testing.T) {
	db := newRepoDB(t, &domain.NotificationRow{})
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	seed := []struct {
		id       string
		priority int
		offset   time.Duration
		status   string
		attempts int
	}{
		{"low-old", 1, 0, domain.StatusPending, 0},
		{"high-new", 5, 3 * time.Minute, domain.StatusPending, 0},
		{"high-old", 5, 1 * time.Minute, domain.StatusPending, 0},
		{"sent", 9, 0, domain.StatusSent, 1},
		{"exhausted", 9, 0, domain.StatusPending, 3},
	}
	for _, s := range seed {
		row := &domain.NotificationRow{
			ID: s.id, RecipientID: "u1", Title: "t", Body: "b",
			Priority: s.priority, Status: s.status, Attempts: s.attempts,
			CreatedAt: base.Add(s.offset),
		}
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed %s: %v", s.id, err)
		}
	}

	batch, err := ClaimBatch(ctx, db, 10, 3)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected 3 claimable rows, got %d: %+v", len(batch), batch)
	}
	if batch[0].ID != "high-old" || batch[1].ID != "high-new" || batch[2].ID != "low-old" {
		t.Fatalf("wrong claim order: %s, %s, %s", batch[0].ID, batch[1].ID, batch[2].ID)
	}

	limited, err := ClaimBatch(ctx, db, 1, 3)
	if err != nil {
		t.Fatalf("ClaimBatch limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "high-old" {
		t.Fatalf("limit not honored: %+v", limited)
	}
}

func TestStatusTransitions(t *testing.T) {
	db := newRepoDB(t, &domain.NotificationRow{})
	ctx := context.Background()

	if _, err := EnqueueNotification(ctx, db, &domain.NotificationRow{ID: "n1", RecipientID: "u1", Title: "t", Body: "b"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := RecordRetry(ctx, db, "n1", 1, "503 from push service"); err != nil {
		t.Fatalf("RecordRetry: %v", err)
	}
	var got domain.NotificationRow
	if err := db.First(&got, "id = ?", "n1").Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.Status != domain.StatusPending || got.Attempts != 1 || got.ErrorMessage == "" {
		t.Fatalf("retry should keep row pending with bumped attempts: %+v", got)
	}
	if got.ProcessedAt != nil {
		t.Fatalf("retry must not stamp processed_at: %+v", got)
	}

	if err := MarkSent(ctx, db, "n1", 2); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if err := db.First(&got, "id = ?", "n1").Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.Status != domain.StatusSent || got.Attempts != 2 || got.ProcessedAt == nil || got.ErrorMessage != "" {
		t.Fatalf("unexpected sent row: %+v", got)
	}

	if _, err := EnqueueNotification(ctx, db, &domain.NotificationRow{ID: "n2", RecipientID: "u1", Title: "t", Body: "b"}); err != nil {
		t.Fatalf("seed n2: %v", err)
	}
	if err := MarkFailed(ctx, db, "n2", 3, "endpoint gone"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	// Fresh destination: reusing got would smuggle n1's primary key into
	// the query conditions.
	got = domain.NotificationRow{}
	if err := db.First(&got, "id = ?", "n2").Error; err != nil {
		t.Fatalf("read back n2: %v", err)
	}
	if got.Status != domain.StatusFailed || got.Attempts != 3 || got.ErrorMessage != "endpoint gone" || got.ProcessedAt == nil {
		t.Fatalf("unexpected failed row: %+v", got)
	}
}

func TestDeleteTerminalBefore_SparesPending(t *testing.T) {
	db := newRepoDB(t, &domain.NotificationRow{})
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	rows := []*domain.NotificationRow{
		{ID: "old-sent", RecipientID: "u1", Title: "t", Body: "b", Status: domain.StatusSent, CreatedAt: old},
		{ID: "old-failed", RecipientID: "u1", Title: "t", Body: "b", Status: domain.StatusFailed, CreatedAt: old},
		{ID: "old-pending", RecipientID: "u1", Title: "t", Body: "b", Status: domain.StatusPending, CreatedAt: old},
		{ID: "new-sent", RecipientID: "u1", Title: "t", Body: "b", Status: domain.StatusSent, CreatedAt: time.Now().UTC()},
	}
	for _, r := range rows {
		if err := db.Create(r).Error; err != nil {
			t.Fatalf("seed %s: %v", r.ID, err)
		}
	}

	n, err := DeleteTerminalBefore(ctx, db, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteTerminalBefore: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows swept, got %d", n)
	}

	var remaining []domain.NotificationRow
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatalf("list remaining: %v", err)
	}
	left := map[string]bool{}
	for _, r := range remaining {
		left[r.ID] = true
	}
	if !left["old-pending"] || !left["new-sent"] || left["old-sent"] || left["old-failed"] {
		t.Fatalf("unexpected survivors: %+v", left)
	}
}

func TestListNotificationsPage_AndCount(t *testing.T) {
	db := newRepoDB(t, &domain.NotificationRow{})
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		row := &domain.NotificationRow{
			ID: fmt.Sprintf("n%d", i), RecipientID: "u1", Title: "t", Body: "b",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	page, err := ListNotificationsPage(ctx, db, "u1", 1, 2)
	if err != nil {
		t.Fatalf("ListNotificationsPage: %v", err)
	}
	if len(page) != 2 || page[0].ID != "n3" || page[1].ID != "n2" {
		t.Fatalf("unexpected page: %+v", page)
	}

	total, err := CountNotifications(ctx, db, "u1")
	if err != nil {
		t.Fatalf("CountNotifications: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected 5, got %d", total)
	}
}
