package manifest

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"stashd/internal/store"
	"stashd/pkg/logx"
)

func openLedger(t *testing.T) (*Ledger, store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "data")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st), st
}

func entry(seq int64, created time.Time) store.ManifestEntry {
	return store.ManifestEntry{
		Seq:        seq,
		ScheduleID: "s1",
		Account:    "user1",
		Filename:   "f" + strconv.FormatInt(seq, 10),
		CreatedAt:  created,
	}
}

func TestExpiredKeepsNewest(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)
	var entries []store.ManifestEntry
	for i := int64(0); i < 5; i++ {
		entries = append(entries, entry(i+1, base.AddDate(0, 0, int(i))))
	}

	expired := Expired(entries, 3)
	if len(expired) != 2 {
		t.Fatalf("got %d expired, want 2", len(expired))
	}
	// Oldest first.
	if expired[0].Seq != 1 || expired[1].Seq != 2 {
		t.Fatalf("wrong victims: %+v", expired)
	}
}

func TestExpiredTiesBreakByInsertionOrder(t *testing.T) {
	t.Parallel()
	same := time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)
	entries := []store.ManifestEntry{entry(3, same), entry(1, same), entry(2, same)}

	expired := Expired(entries, 1)
	if len(expired) != 2 {
		t.Fatalf("got %d expired, want 2", len(expired))
	}
	if expired[0].Seq != 1 || expired[1].Seq != 2 {
		t.Fatalf("tie-break not by insertion order: %+v", expired)
	}
}

func TestExpiredUnlimitedRetention(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)
	entries := []store.ManifestEntry{entry(1, base), entry(2, base.AddDate(0, 0, 1))}

	if got := Expired(entries, 0); got != nil {
		t.Fatalf("keep=0 must never expire anything, got %+v", got)
	}
	if got := Expired(entries, 5); got != nil {
		t.Fatalf("fewer entries than keep must expire nothing, got %+v", got)
	}
}

func TestRecordAndByAccount(t *testing.T) {
	l, _ := openLedger(t)
	ctx := context.Background()

	if err := l.Record(ctx, "local", "s1", "user1", "a.tar.gz", "a.sql.gz"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Record(ctx, "local", "s1", "user2", "b.tar.gz", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Record(ctx, "local", "other", "user1", "c.tar.gz", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Record(ctx, "local", store.ManualScheduleID, "user1", "manual.tar.gz", ""); err != nil {
		t.Fatalf("record manual: %v", err)
	}

	groups, err := l.ByAccount(ctx, "local", "s1")
	if err != nil {
		t.Fatalf("by account: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d accounts, want 2", len(groups))
	}
	if len(groups["user1"]) != 1 || groups["user1"][0].Filename != "a.tar.gz" {
		t.Fatalf("user1 group wrong: %+v", groups["user1"])
	}
	if groups["user1"][0].CompanionFilename != "a.sql.gz" {
		t.Fatalf("companion lost: %+v", groups["user1"][0])
	}

	// Manual entries are categorically invisible to retention.
	manual, err := l.ByAccount(ctx, "local", store.ManualScheduleID)
	if err != nil {
		t.Fatalf("manual by account: %v", err)
	}
	if manual != nil {
		t.Fatalf("manual entries must never be grouped for pruning, got %+v", manual)
	}
}

func TestRemoveScopedToSchedule(t *testing.T) {
	l, _ := openLedger(t)
	ctx := context.Background()

	if err := l.Record(ctx, "local", "s1", "user1", "shared.tar.gz", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Record(ctx, "local", "s2", "user1", "shared.tar.gz", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Remove(ctx, "local", "s1", []string{"shared.tar.gz"}); err != nil {
		t.Fatalf("remove: %v", err)
	}

	left, err := l.ByAccount(ctx, "local", "s2")
	if err != nil {
		t.Fatalf("by account: %v", err)
	}
	if len(left["user1"]) != 1 {
		t.Fatalf("s2 entry must survive s1 removal: %+v", left)
	}
	gone, err := l.ByAccount(ctx, "local", "s1")
	if err != nil {
		t.Fatalf("by account: %v", err)
	}
	if len(gone["user1"]) != 0 {
		t.Fatalf("s1 entry not removed: %+v", gone)
	}
}
