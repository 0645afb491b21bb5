package processor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"stashd/internal/engine"
	"stashd/internal/manifest"
	"stashd/internal/store"
	"stashd/pkg/logx"
)

// prune deletes artifacts beyond each schedule's retention count, per
// account, oldest first. A manifest entry is unrecorded only after its
// artifact (and companion) actually deleted; a failed delete keeps the
// entry tracked for the next pass. Failures never abort the pass.
func (p *Processor) prune(ctx context.Context) (removed, failures int, err error) {
	scheds, err := p.st.ListSchedules(ctx)
	if err != nil {
		return 0, 0, err
	}
	dests := p.dests()

	for _, sched := range scheds {
		if sched.Retention <= 0 {
			// Unlimited retention, never pruned.
			continue
		}
		dest, ok := dests[sched.DestinationID]
		if !ok || !dest.Enabled {
			p.log.Debug("skipping prune for unavailable destination",
				logx.String("schedule", sched.ID),
				logx.String("destination", sched.DestinationID))
			continue
		}

		groups, err := p.ledger.ByAccount(ctx, dest.ID, sched.ID)
		if err != nil {
			return removed, failures, err
		}
		accounts := make([]string, 0, len(groups))
		for account := range groups {
			accounts = append(accounts, account)
		}
		sort.Strings(accounts)

		schedRemoved := 0
		for _, account := range accounts {
			for _, victim := range manifest.Expired(groups[account], sched.Retention) {
				if p.limiter != nil {
					if err := p.limiter.Wait(ctx); err != nil {
						return removed, failures, err
					}
				}
				if ok := p.deleteArtifact(ctx, dest, victim); !ok {
					failures++
					p.metrics.pruneFailed()
					continue
				}
				if err := p.ledger.Remove(ctx, dest.ID, sched.ID, []string{victim.Filename}); err != nil {
					return removed, failures, err
				}
				removed++
				schedRemoved++
				p.metrics.artifactPruned()
				p.audit.Record(ctx, store.AuditEntry{
					Event:       "artifact.pruned",
					ScheduleID:  sched.ID,
					Destination: dest.ID,
					Account:     account,
					Detail:      victim.Filename,
				})
			}
		}
		if p.notifier != nil && schedRemoved > 0 {
			p.notifier.Notify(ctx, fmt.Sprintf("pruned %d artifacts for schedule %s", schedRemoved, sched.ID))
		}
	}
	return removed, failures, nil
}

// deleteArtifact removes the victim's artifact and companion. An artifact
// that is already gone counts as deleted so a previously half-pruned entry
// can converge instead of staying tracked forever.
func (p *Processor) deleteArtifact(ctx context.Context, dest engine.Destination, victim store.ManifestEntry) bool {
	if err := p.tr.Delete(ctx, victim.Filename, dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.log.Warn("artifact delete failed, keeping manifest entry",
			logx.String("destination", dest.ID),
			logx.String("artifact", victim.Filename),
			logx.Err(err))
		return false
	}
	if victim.CompanionFilename != "" {
		if err := p.tr.Delete(ctx, victim.CompanionFilename, dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
			p.log.Warn("companion delete failed, keeping manifest entry",
				logx.String("destination", dest.ID),
				logx.String("artifact", victim.CompanionFilename),
				logx.Err(err))
			return false
		}
	}
	return true
}
