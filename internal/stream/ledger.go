package stream

import (
	"sort"
	"time"

	"github.com/terply/chat-backend/internal/domain"
)

// tombstoneCap bounds the recently-deleted id set. Tombstones only need to
// outlive reconnection replay, so a small ring is plenty.
const tombstoneCap = 512

// Ledger is the per-channel, deduplicated, timestamp-ordered projection of
// messages. It is owned exclusively by one Reconciler and is not safe for
// concurrent use on its own; the Reconciler serializes access.
//
// Invariants:
//   - At most one entry per message id.
//   - Read order is always timestamp ascending; ties keep their relative
//     insertion order (stable).
//   - Merging an update preserves the entry's original timestamp, so an
//     update touching only reactions can never reorder the ledger.
//   - A recently deleted id suppresses late inserts (tombstones), so a
//     delete arriving before its insert cannot resurrect the message.
type Ledger struct {
	entries map[string]*domain.Message
	order   []*domain.Message // timestamp ascending, stable

	tombstones map[string]struct{}
	tombFIFO   []string
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		entries:    make(map[string]*domain.Message),
		tombstones: make(map[string]struct{}),
	}
}

// Len returns the number of live entries.
func (l *Ledger) Len() int { return len(l.order) }

// Has reports whether id is present.
func (l *Ledger) Has(id string) bool {
	_, ok := l.entries[id]
	return ok
}

// Get returns the entry for id, or nil.
func (l *Ledger) Get(id string) *domain.Message {
	return l.entries[id]
}

// Upsert merges m into the ledger and reports whether a new entry was
// created. For an existing id (including a duplicate insert after
// reconnection replay) the mutable fields — content, reactions,
// attachments — are overwritten last-write-wins while the original
// timestamp and sender identity are preserved, and any optimistic flag is
// cleared by the authoritative row. Tombstoned ids are ignored.
func (l *Ledger) Upsert(m *domain.Message) bool {
	if _, dead := l.tombstones[m.ID]; dead {
		return false
	}
	if cur, ok := l.entries[m.ID]; ok {
		cur.Content = m.Content
		cur.Reactions = m.Reactions
		cur.Attachments = m.Attachments
		cur.ParentID = m.ParentID
		cur.IsOptimistic = false
		cur.Failed = false
		if cur.Sender == nil {
			cur.Sender = m.Sender
		}
		return false
	}
	l.entries[m.ID] = m
	l.insertOrdered(m)
	return true
}

// insertOrdered places m at the last position whose timestamp is <= m's,
// keeping equal-timestamp entries in arrival order.
func (l *Ledger) insertOrdered(m *domain.Message) {
	i := sort.Search(len(l.order), func(i int) bool {
		return l.order[i].Timestamp.After(m.Timestamp)
	})
	l.order = append(l.order, nil)
	copy(l.order[i+1:], l.order[i:])
	l.order[i] = m
}

// Remove deletes id and records a tombstone so a late replayed insert stays
// suppressed. Removing an absent id is a silent no-op apart from the
// tombstone.
func (l *Ledger) Remove(id string) bool {
	l.tombstone(id)
	m, ok := l.entries[id]
	if !ok {
		return false
	}
	delete(l.entries, id)
	for i, e := range l.order {
		if e == m {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

func (l *Ledger) tombstone(id string) {
	if _, ok := l.tombstones[id]; ok {
		return
	}
	l.tombstones[id] = struct{}{}
	l.tombFIFO = append(l.tombFIFO, id)
	if len(l.tombFIFO) > tombstoneCap {
		oldest := l.tombFIFO[0]
		l.tombFIFO = l.tombFIFO[1:]
		delete(l.tombstones, oldest)
	}
}

// ReplaceID rekeys an optimistic entry to its authoritative counterpart: the
// placeholder is dropped (without a tombstone) and m takes its place, so
// exactly one entry for that content remains.
func (l *Ledger) ReplaceID(oldID string, m *domain.Message) {
	if cur, ok := l.entries[oldID]; ok {
		delete(l.entries, oldID)
		for i, e := range l.order {
			if e == cur {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
	}
	l.Upsert(m)
}

// FindOptimistic locates an unconfirmed placeholder matching content within
// window of ts. This is the fallback match for stores that do not echo the
// client-generated id.
func (l *Ledger) FindOptimistic(content string, ts time.Time, window time.Duration) *domain.Message {
	for _, m := range l.order {
		if !m.IsOptimistic || m.Content != content {
			continue
		}
		d := ts.Sub(m.Timestamp)
		if d < 0 {
			d = -d
		}
		if d <= window {
			return m
		}
	}
	return nil
}

// OldestTimestamp returns the timestamp of the oldest entry, used as the
// cursor for fetching the next older history page.
func (l *Ledger) OldestTimestamp() (time.Time, bool) {
	if len(l.order) == 0 {
		return time.Time{}, false
	}
	return l.order[0].Timestamp, true
}

// Snapshot returns a copy of the ledger contents in timestamp-ascending
// order. It is side-effect-free; mutating the returned slice does not touch
// the ledger.
func (l *Ledger) Snapshot() []domain.Message {
	out := make([]domain.Message, len(l.order))
	for i, m := range l.order {
		out[i] = *m
	}
	return out
}

// Clear drops all entries and tombstones (channel switch).
func (l *Ledger) Clear() {
	l.entries = make(map[string]*domain.Message)
	l.order = nil
	l.tombstones = make(map[string]struct{})
	l.tombFIFO = nil
}
