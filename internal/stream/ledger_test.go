package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/terply/chat-backend/internal/domain"
)

func msg(id string, ts time.Time, content string) *domain.Message {
	return &domain.Message{ID: id, ChannelID: "c1", SenderID: "u1", Content: content, Timestamp: ts}
}

func ids(ms []domain.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestLedger_IdempotentMerge(t *testing.T) {
	l := NewLedger()
	t0 := time.Unix(1000, 0)

	first := msg("m1", t0, "hello")
	if !l.Upsert(first) {
		t.Fatal("first Upsert did not insert")
	}

	// Same id again (duplicate insert after replay) with a different
	// timestamp and content: one entry, last-write-wins fields, original
	// timestamp preserved.
	dup := msg("m1", t0.Add(3*time.Second), "hello edited")
	dup.Reactions = map[string][]string{"👍": {"u2"}}
	if l.Upsert(dup) {
		t.Fatal("duplicate id created a second entry")
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d; want 1", l.Len())
	}
	got := l.Get("m1")
	if got.Content != "hello edited" {
		t.Errorf("Content = %q; want merged value", got.Content)
	}
	if len(got.Reactions["👍"]) != 1 {
		t.Errorf("Reactions not merged: %v", got.Reactions)
	}
	if !got.Timestamp.Equal(t0) {
		t.Errorf("Timestamp = %v; want original %v", got.Timestamp, t0)
	}
}

func TestLedger_OrderingInvariant(t *testing.T) {
	l := NewLedger()
	base := time.Unix(1000, 0)

	// Insert out of order; snapshot must always be timestamp ascending.
	l.Upsert(msg("m3", base.Add(3*time.Second), "c"))
	l.Upsert(msg("m1", base.Add(1*time.Second), "a"))
	l.Upsert(msg("m2", base.Add(2*time.Second), "b"))

	snap := l.Snapshot()
	for i := 1; i < len(snap); i++ {
		if snap[i].Timestamp.Before(snap[i-1].Timestamp) {
			t.Fatalf("snapshot not non-decreasing at %d: %v", i, ids(snap))
		}
	}
	want := []string{"m1", "m2", "m3"}
	for i, id := range ids(snap) {
		if id != want[i] {
			t.Fatalf("order = %v; want %v", ids(snap), want)
		}
	}
}

func TestLedger_OlderPageDoesNotReorderLaterMessages(t *testing.T) {
	l := NewLedger()
	base := time.Unix(1000, 0)
	l.Upsert(msg("m5", base.Add(5*time.Second), "e"))
	l.Upsert(msg("m6", base.Add(6*time.Second), "f"))

	// An older historical page arrives afterwards.
	l.Upsert(msg("m2", base.Add(2*time.Second), "b"))
	l.Upsert(msg("m1", base.Add(1*time.Second), "a"))

	want := []string{"m1", "m2", "m5", "m6"}
	got := ids(l.Snapshot())
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v; want %v", got, want)
		}
	}
}

func TestLedger_EqualTimestampsKeepInsertionOrder(t *testing.T) {
	l := NewLedger()
	ts := time.Unix(1000, 0)
	l.Upsert(msg("a", ts, "1"))
	l.Upsert(msg("b", ts, "2"))
	l.Upsert(msg("c", ts, "3"))

	got := ids(l.Snapshot())
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tie order = %v; want %v (stable)", got, want)
		}
	}

	// Updating the middle entry must not move it.
	l.Upsert(msg("b", ts, "2-edited"))
	got = ids(l.Snapshot())
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tie order after update = %v; want %v", got, want)
		}
	}
}

func TestLedger_DeleteBeforeInsertTombstones(t *testing.T) {
	l := NewLedger()
	ts := time.Unix(1000, 0)

	// Delete arrives first (out-of-order delivery). Absent id: silent no-op
	// apart from the tombstone.
	if l.Remove("m1") {
		t.Fatal("Remove reported an absent entry as removed")
	}

	// The late insert must stay suppressed, not resurrect the message.
	if l.Upsert(msg("m1", ts, "ghost")) {
		t.Fatal("tombstoned insert was applied")
	}
	if l.Len() != 0 {
		t.Fatalf("Len = %d; want 0", l.Len())
	}
}

func TestLedger_RemoveExisting(t *testing.T) {
	l := NewLedger()
	ts := time.Unix(1000, 0)
	l.Upsert(msg("m1", ts, "a"))
	l.Upsert(msg("m2", ts.Add(time.Second), "b"))

	if !l.Remove("m1") {
		t.Fatal("Remove(m1) = false")
	}
	if l.Has("m1") || l.Len() != 1 {
		t.Fatalf("m1 still present, Len = %d", l.Len())
	}
	// Replayed insert for the removed id is suppressed.
	l.Upsert(msg("m1", ts, "a"))
	if l.Has("m1") {
		t.Fatal("removed id resurrected by replay")
	}
}

func TestLedger_ReplaceIDKeepsSingleEntry(t *testing.T) {
	l := NewLedger()
	ts := time.Unix(1000, 0)

	opt := msg("local-1", ts, "hi there")
	opt.IsOptimistic = true
	l.Upsert(opt)

	auth := msg("srv-9", ts.Add(time.Second), "hi there")
	l.ReplaceID("local-1", auth)

	if l.Len() != 1 {
		t.Fatalf("Len = %d; want exactly one entry", l.Len())
	}
	if l.Has("local-1") || !l.Has("srv-9") {
		t.Fatal("placeholder not replaced by authoritative row")
	}
	if l.Get("srv-9").IsOptimistic {
		t.Fatal("authoritative entry still flagged optimistic")
	}
}

func TestLedger_FindOptimisticWindow(t *testing.T) {
	l := NewLedger()
	ts := time.Unix(1000, 0)
	opt := msg("local-1", ts, "ping")
	opt.IsOptimistic = true
	l.Upsert(opt)

	if got := l.FindOptimistic("ping", ts.Add(2*time.Second), 5*time.Second); got == nil {
		t.Fatal("match within window not found")
	}
	if got := l.FindOptimistic("ping", ts.Add(10*time.Second), 5*time.Second); got != nil {
		t.Fatal("matched outside the window")
	}
	if got := l.FindOptimistic("pong", ts, 5*time.Second); got != nil {
		t.Fatal("matched different content")
	}

	// Confirmed entries are never candidates.
	l.Get("local-1").IsOptimistic = false
	if got := l.FindOptimistic("ping", ts, 5*time.Second); got != nil {
		t.Fatal("matched a confirmed entry")
	}
}

func TestLedger_SnapshotIsACopy(t *testing.T) {
	l := NewLedger()
	l.Upsert(msg("m1", time.Unix(1000, 0), "a"))

	snap := l.Snapshot()
	snap[0].Content = "mutated"
	if l.Get("m1").Content != "a" {
		t.Fatal("snapshot mutation leaked into the ledger")
	}
}

func TestLedger_ClearResetsTombstones(t *testing.T) {
	l := NewLedger()
	l.Remove("m1")
	l.Clear()
	if !l.Upsert(msg("m1", time.Unix(1000, 0), "a")) {
		t.Fatal("tombstone survived Clear")
	}
}

func TestLedger_TombstoneCapBounded(t *testing.T) {
	l := NewLedger()
	for i := 0; i < tombstoneCap+10; i++ {
		l.Remove(fmt.Sprintf("m%d", i))
	}
	if len(l.tombstones) > tombstoneCap {
		t.Fatalf("tombstones grew to %d; cap is %d", len(l.tombstones), tombstoneCap)
	}
}

func TestLedger_OldestTimestamp(t *testing.T) {
	l := NewLedger()
	if _, ok := l.OldestTimestamp(); ok {
		t.Fatal("empty ledger reported an oldest timestamp")
	}
	t1 := time.Unix(1000, 0)
	l.Upsert(msg("m2", t1.Add(time.Second), "b"))
	l.Upsert(msg("m1", t1, "a"))
	got, ok := l.OldestTimestamp()
	if !ok || !got.Equal(t1) {
		t.Fatalf("OldestTimestamp = %v, %v; want %v, true", got, ok, t1)
	}
}
