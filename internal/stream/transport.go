package stream

import (
	"context"
	"time"

	"github.com/terply/chat-backend/internal/domain"
)

// Subscription is a handle to one live change-feed subscription.
type Subscription interface {
	// Unsubscribe tears the subscription down. Safe to call more than once.
	Unsubscribe()
}

// Transport is the event transport contract the reconciler consumes: a live
// change-feed subscription keyed by topic (one topic per channel). Events
// are delivered asynchronously on an unspecified goroutine; onStatus reports
// StatusSubscribed, StatusClosed, or StatusError.
type Transport interface {
	Subscribe(ctx context.Context, topic string, onEvent func(Event), onStatus func(string)) (Subscription, error)
}

// Store is the durable-store surface the reconciler needs: a paginated
// history read and the insert behind optimistic sends. Errors from either
// propagate to the caller; the reconciler has no internal retry loop.
type Store interface {
	// PageBefore returns up to limit messages of channelID strictly older
	// than before, newest first. A zero before means "from the latest".
	PageBefore(ctx context.Context, channelID string, before time.Time, limit int) ([]domain.Message, error)

	// InsertMessage persists m (keeping m.ID, so the authoritative row
	// echoes the client-generated id) and returns the stored row.
	InsertMessage(ctx context.Context, m *domain.Message) (*domain.Message, error)
}
