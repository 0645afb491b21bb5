// Package manifest decides retention eligibility over the per-destination
// artifact ledgers. Only entries recorded here may be pruned; manual
// artifacts never are.
package manifest

import (
	"context"
	"sort"
	"time"

	"stashd/internal/store"
)

// Ledger wraps the store's manifest primitives with the retention math the
// queue processor needs.
type Ledger struct {
	st  store.Store
	now func() time.Time
}

func New(st store.Store) *Ledger {
	return &Ledger{st: st, now: time.Now}
}

// WithClock overrides the time source used for recorded entries (tests).
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	cp := *l
	cp.now = now
	return &cp
}

// Record appends one produced artifact to the destination's ledger. Pass
// store.ManualScheduleID for artifacts of ad-hoc jobs; those are exempt
// from pruning forever.
func (l *Ledger) Record(ctx context.Context, destination, scheduleID, account, filename, companion string) error {
	_, err := l.st.AppendManifest(ctx, destination, store.ManifestEntry{
		ScheduleID:        scheduleID,
		Account:           account,
		Filename:          filename,
		CompanionFilename: companion,
		CreatedAt:         l.now().UTC(),
	})
	return err
}

// ByAccount groups a schedule's ledger entries per account, each group in
// ledger order.
func (l *Ledger) ByAccount(ctx context.Context, destination, scheduleID string) (map[string][]store.ManifestEntry, error) {
	if scheduleID == store.ManualScheduleID {
		return nil, nil
	}
	entries, err := l.st.ListManifest(ctx, destination)
	if err != nil {
		return nil, err
	}
	out := map[string][]store.ManifestEntry{}
	for _, e := range entries {
		if e.ScheduleID != scheduleID {
			continue
		}
		out[e.Account] = append(out[e.Account], e)
	}
	return out, nil
}

// Expired returns the entries beyond the keep newest-count for one
// schedule/account pair, oldest first. keep <= 0 means unlimited retention:
// nothing ever expires. Ties on creation time break by insertion order, so
// the result is stable and deterministic.
func Expired(entries []store.ManifestEntry, keep int) []store.ManifestEntry {
	if keep <= 0 || len(entries) <= keep {
		return nil
	}
	sorted := make([]store.ManifestEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].Seq < sorted[j].Seq
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted[:len(sorted)-keep]
}

// Remove unrecords filenames from a schedule's ledger. Callers must only
// unrecord artifacts whose deletion actually succeeded; an entry for an
// undeleted artifact must stay tracked.
func (l *Ledger) Remove(ctx context.Context, destination, scheduleID string, filenames []string) error {
	return l.st.RemoveManifest(ctx, destination, scheduleID, filenames)
}
