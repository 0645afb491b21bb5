// Package processor implements the single-flight scheduling pass: acquire
// the run lock, materialize due schedules into queued jobs, drain the queue
// one job at a time, prune expired artifacts, release the lock.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"stashd/internal/engine"
	"stashd/internal/manifest"
	"stashd/internal/recur"
	"stashd/internal/runlock"
	"stashd/internal/store"
	"stashd/pkg/logx"
)

var (
	// ErrAlreadyTerminal means the job already finished and cannot be
	// cancelled.
	ErrAlreadyTerminal = errors.New("job already terminal")
	// ErrInvalidDestination means the referenced destination does not exist
	// or is disabled.
	ErrInvalidDestination = errors.New("invalid destination")
)

// Notifier delivers human-facing event messages. Fire and forget: it must
// never block or fail the pass.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Deps wires the processor's collaborators. Store, Ledger, Lock, Runner and
// Transport are required; the rest default to no-ops.
type Deps struct {
	Store     store.Store
	Ledger    *manifest.Ledger
	Lock      *runlock.Manager
	Runner    engine.Runner
	Transport engine.Transport
	Access    engine.AccessResolver
	Audit     engine.AuditSink
	Notifier  Notifier

	// Destinations returns the current destination registry. Called freshly
	// where needed so config reloads take effect mid-flight.
	Destinations func() map[string]engine.Destination

	Log logx.Logger
	Now func() time.Time

	// PruneRate caps artifact deletions per second during pruning.
	// 0 means unlimited.
	PruneRate int

	Metrics *Metrics
}

type Processor struct {
	st       store.Store
	ledger   *manifest.Ledger
	lock     *runlock.Manager
	runner   engine.Runner
	tr       engine.Transport
	access   engine.AccessResolver
	audit    engine.AuditSink
	notifier Notifier
	dests    func() map[string]engine.Destination

	log     logx.Logger
	now     func() time.Time
	limiter *rate.Limiter
	metrics *Metrics

	passes passState
}

func New(d Deps) *Processor {
	p := &Processor{
		st:       d.Store,
		ledger:   d.Ledger,
		lock:     d.Lock,
		runner:   d.Runner,
		tr:       d.Transport,
		access:   d.Access,
		audit:    d.Audit,
		notifier: d.Notifier,
		dests:    d.Destinations,
		log:      d.Log,
		now:      d.Now,
		metrics:  d.Metrics,
	}
	if p.audit == nil {
		p.audit = engine.NopAudit{}
	}
	if p.dests == nil {
		p.dests = func() map[string]engine.Destination { return nil }
	}
	if p.now == nil {
		p.now = time.Now
	}
	if d.PruneRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(d.PruneRate), d.PruneRate)
	}
	return p
}

// PassReport summarizes a single pass.
type PassReport struct {
	Skipped       bool      `json:"skipped"`
	Materialized  int       `json:"materialized"`
	Processed     int       `json:"processed"`
	Pruned        int       `json:"pruned"`
	PruneFailures int       `json:"prune_failures"`
	Started       time.Time `json:"started"`
	Finished      time.Time `json:"finished"`
	Error         string    `json:"error,omitempty"`
}

// Pass runs one full processing pass. Lock contention is a normal outcome,
// reported via PassReport.Skipped rather than as an error. The lock is
// released no matter how steps 2-4 fail.
func (p *Processor) Pass(ctx context.Context) (PassReport, error) {
	rep := PassReport{Started: p.now()}

	release, err := p.lock.Acquire(ctx)
	if errors.Is(err, runlock.ErrContention) {
		p.log.Info("pass skipped, another processor holds the lock")
		p.metrics.passFinished("skipped")
		rep.Skipped = true
		rep.Finished = p.now()
		p.passes.record(rep)
		return rep, nil
	}
	if err != nil {
		p.metrics.passFinished("error")
		rep.Error = err.Error()
		rep.Finished = p.now()
		p.passes.record(rep)
		return rep, err
	}
	defer release()

	err = p.runLocked(ctx, &rep)

	rep.Finished = p.now()
	if err != nil {
		rep.Error = err.Error()
		p.metrics.passFinished("error")
	} else {
		p.metrics.passFinished("ok")
	}
	p.passes.record(rep)
	return rep, err
}

func (p *Processor) runLocked(ctx context.Context, rep *PassReport) error {
	if err := p.recoverOrphans(ctx); err != nil {
		return fmt.Errorf("recovering orphaned jobs: %w", err)
	}

	materialized, err := p.materialize(ctx)
	rep.Materialized = materialized
	if err != nil {
		return fmt.Errorf("materializing schedules: %w", err)
	}

	processed, err := p.drain(ctx)
	rep.Processed = processed
	if err != nil {
		return fmt.Errorf("draining queue: %w", err)
	}

	pruned, failures, err := p.prune(ctx)
	rep.Pruned = pruned
	rep.PruneFailures = failures
	if err != nil {
		return fmt.Errorf("pruning artifacts: %w", err)
	}

	p.log.Info("pass finished",
		logx.Int("materialized", materialized),
		logx.Int("processed", processed),
		logx.Int("pruned", pruned),
		logx.Int("prune_failures", failures))
	return nil
}

// recoverOrphans finalizes jobs left in the running collection by a crashed
// pass. Holding the lock means no other processor can own them; a job must
// never sit in processing forever.
func (p *Processor) recoverOrphans(ctx context.Context) error {
	orphans, err := p.st.ListJobs(ctx, store.CollectionRunning)
	if err != nil {
		return err
	}
	for _, job := range orphans {
		p.log.Warn("finalizing job orphaned by a previous pass",
			logx.String("job", job.ID),
			logx.Int("accounts_completed", job.Progress.AccountsCompleted))
		if err := p.finalize(ctx, job.ID, store.StatusFailed, func(j *store.Job) {
			j.Error = "interrupted: processor exited mid-job"
		}); err != nil {
			return err
		}
	}
	return nil
}

// materialize turns every due, enabled schedule into a queued job and
// advances the schedule's recurrence.
func (p *Processor) materialize(ctx context.Context) (int, error) {
	now := p.now()
	scheds, err := p.st.ListSchedules(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, sched := range scheds {
		if !sched.Enabled || sched.NextRun.After(now) {
			continue
		}

		next, err := recur.Next(sched.Frequency, sched.PreferredHour, sched.DayOfWeek, now)
		if err != nil {
			p.log.Error("schedule has an invalid recurrence, disabling",
				logx.String("schedule", sched.ID), logx.Err(err))
			sched.Enabled = false
			if err := p.st.PutSchedule(ctx, sched); err != nil {
				return created, err
			}
			continue
		}

		job, buildErr := p.buildScheduledJob(ctx, sched, now)

		// The recurrence advances even when materialization is skipped, so a
		// broken schedule cannot retrigger on every pass.
		sched.LastRun = now
		sched.NextRun = next
		if err := p.st.PutSchedule(ctx, sched); err != nil {
			return created, err
		}
		if buildErr != nil {
			p.log.Warn("skipping due schedule",
				logx.String("schedule", sched.ID), logx.Err(buildErr))
			p.audit.Record(ctx, store.AuditEntry{
				Event:      "schedule.skipped",
				ScheduleID: sched.ID,
				Detail:     buildErr.Error(),
			})
			continue
		}

		if err := p.st.CreateJob(ctx, job); err != nil {
			return created, err
		}
		created++
		p.log.Info("schedule materialized",
			logx.String("schedule", sched.ID),
			logx.String("job", job.ID),
			logx.Int("accounts", len(job.Accounts.Names)),
			logx.Time("next_run", next))
		p.audit.Record(ctx, store.AuditEntry{
			Event:       "job.materialized",
			JobID:       job.ID,
			ScheduleID:  sched.ID,
			Destination: sched.DestinationID,
		})
	}
	return created, nil
}

// buildScheduledJob resolves the schedule's account set (wildcards against
// the owner's current accessible accounts, never a cached list) into a
// queued job record.
func (p *Processor) buildScheduledJob(ctx context.Context, sched *store.Schedule, now time.Time) (*store.Job, error) {
	dest, ok := p.dests()[sched.DestinationID]
	if !ok {
		return nil, fmt.Errorf("destination %q: %w", sched.DestinationID, ErrInvalidDestination)
	}
	if !dest.Enabled {
		return nil, fmt.Errorf("destination %q disabled: %w", sched.DestinationID, ErrInvalidDestination)
	}

	accounts := sched.Accounts
	if accounts.All {
		if p.access == nil {
			return nil, errors.New("no access resolver for wildcard schedule")
		}
		names, err := p.access.AccessibleAccounts(ctx, sched.Owner)
		if err != nil {
			return nil, fmt.Errorf("resolving accounts of %s: %w", sched.Owner, err)
		}
		accounts = store.ExplicitAccounts(names...)
	}
	if len(accounts.Names) == 0 {
		return nil, fmt.Errorf("schedule %s resolves to no accounts", sched.ID)
	}

	return &store.Job{
		ID:            store.NewJobID(now),
		Type:          store.JobBackup,
		Accounts:      accounts,
		DestinationID: sched.DestinationID,
		Owner:         sched.Owner,
		CreatedAt:     now,
		Status:        store.StatusQueued,
		ScheduleID:    sched.ID,
		Retention:     sched.Retention,
	}, nil
}
