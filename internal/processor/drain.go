package processor

import (
	"context"
	"errors"
	"fmt"

	"stashd/internal/engine"
	"stashd/internal/store"
	"stashd/pkg/logx"
)

// drain processes every queued job, strictly one at a time in queue order.
// Concurrency is deliberately capped at one: the backup tool is I/O- and
// CPU-heavy, and serializing keeps the host responsive.
func (p *Processor) drain(ctx context.Context) (int, error) {
	jobs, err := p.st.ListJobs(ctx, store.CollectionQueued)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, job := range jobs {
		ran, err := p.processJob(ctx, job)
		if err != nil {
			return processed, err
		}
		if ran {
			processed++
		}
	}
	return processed, nil
}

// processJob runs one job to a terminal state. Per-account execution
// failures are recorded and do not abort the remaining accounts; only
// store-level failures propagate. Whatever happens, the job never stays in
// the running collection. The bool reports whether the job actually ran;
// a job that vanished from the queue before the claim is skipped.
func (p *Processor) processJob(ctx context.Context, job *store.Job) (bool, error) {
	now := p.now()
	err := p.st.MoveJob(ctx, job.ID, store.CollectionQueued, store.CollectionRunning, func(j *store.Job) {
		j.Status = store.StatusProcessing
		j.StartedAt = now
	})
	if errors.Is(err, store.ErrNotFound) {
		// Cancelled out of the queue by another process after we listed it.
		p.log.Debug("queued job vanished before start", logx.String("job", job.ID))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	log := p.log.With(logx.String("job", job.ID), logx.String("destination", job.DestinationID))
	log.Info("job started", logx.String("type", string(job.Type)))

	accounts, dest, prepErr := p.prepareExecution(ctx, job)
	if prepErr != nil {
		log.Error("job cannot execute", logx.Err(prepErr))
		return true, p.finalize(ctx, job.ID, store.StatusFailed, func(j *store.Job) {
			j.Error = prepErr.Error()
		})
	}

	running, _, err := p.st.GetJob(ctx, job.ID)
	if err != nil {
		return true, err
	}
	running.Accounts = store.ExplicitAccounts(accounts...)
	running.Progress.AccountsTotal = len(accounts)
	if err := p.st.UpdateJob(ctx, store.CollectionRunning, running); err != nil {
		return true, err
	}

	failed := 0
	for _, account := range accounts {
		res, err := p.runner.RunAccount(ctx, engine.Operation{
			Type:        job.Type,
			Account:     account,
			Destination: dest,
		})
		if err != nil {
			// Runner transport errors count as a per-account failure; the
			// remaining accounts still get their attempt.
			res = engine.Result{OK: false, Message: err.Error()}
		}
		if !res.OK {
			failed++
			log.Warn("account operation failed",
				logx.String("account", account), logx.String("message", res.Message))
		} else if job.Type == store.JobBackup && res.Artifact != "" {
			scheduleID := running.ScheduleID
			if scheduleID == "" {
				scheduleID = store.ManualScheduleID
			}
			if err := p.ledger.Record(ctx, dest.ID, scheduleID, account, res.Artifact, res.Companion); err != nil {
				// An unrecorded artifact would be invisible to pruning;
				// surface loudly but keep the job going.
				log.Error("manifest record failed",
					logx.String("account", account),
					logx.String("artifact", res.Artifact),
					logx.Err(err))
			}
		}

		running.Results = append(running.Results, store.AccountResult{
			Account: account,
			OK:      res.OK,
			Message: res.Message,
		})
		running.Progress.AccountsCompleted++
		if err := p.st.UpdateJob(ctx, store.CollectionRunning, running); err != nil {
			return true, err
		}
		p.metrics.accountProcessed(res.OK)
		p.lock.Heartbeat(ctx)

		marked, err := p.st.CancelMarked(ctx, job.ID)
		if err != nil {
			return true, err
		}
		if marked {
			if err := p.st.ClearCancel(ctx, job.ID); err != nil {
				return true, err
			}
			log.Info("cancellation honored",
				logx.Int("accounts_completed", running.Progress.AccountsCompleted),
				logx.Int("accounts_total", running.Progress.AccountsTotal))
			return true, p.finalize(ctx, job.ID, store.StatusCancelled, nil)
		}
	}

	status := store.StatusCompleted
	if failed > 0 {
		// Partial success still finalizes failed overall; the per-account
		// results stay on the record for reporting.
		status = store.StatusFailed
	}
	return true, p.finalize(ctx, job.ID, status, func(j *store.Job) {
		if failed > 0 {
			j.Error = fmt.Sprintf("%d of %d accounts failed", failed, len(accounts))
		}
	})
}

// prepareExecution resolves the job's account set and destination at the
// moment execution starts.
func (p *Processor) prepareExecution(ctx context.Context, job *store.Job) ([]string, engine.Destination, error) {
	dest, ok := p.dests()[job.DestinationID]
	if !ok {
		return nil, engine.Destination{}, fmt.Errorf("destination %q: %w", job.DestinationID, ErrInvalidDestination)
	}
	if !dest.Enabled {
		// The job was accepted against a disabled destination on explicit
		// request; say so and try anyway.
		p.log.Warn("executing against disabled destination",
			logx.String("job", job.ID), logx.String("destination", dest.ID))
	}

	accounts := job.Accounts.Names
	if job.Accounts.All {
		if p.access == nil {
			return nil, engine.Destination{}, errors.New("no access resolver for wildcard job")
		}
		names, err := p.access.AccessibleAccounts(ctx, job.Owner)
		if err != nil {
			return nil, engine.Destination{}, fmt.Errorf("resolving accounts of %s: %w", job.Owner, err)
		}
		accounts = names
	}
	if len(accounts) == 0 {
		return nil, engine.Destination{}, errors.New("job resolves to no accounts")
	}
	return accounts, dest, nil
}

// finalize moves a running job into the completed collection with its
// terminal status.
func (p *Processor) finalize(ctx context.Context, jobID string, status store.Status, extra func(*store.Job)) error {
	now := p.now()
	var final *store.Job
	err := p.st.MoveJob(ctx, jobID, store.CollectionRunning, store.CollectionCompleted, func(j *store.Job) {
		j.Status = status
		j.FinishedAt = now
		if extra != nil {
			extra(j)
		}
		cp := *j
		final = &cp
	})
	if err != nil {
		return err
	}

	p.metrics.jobFinished(status)
	p.audit.Record(ctx, store.AuditEntry{
		Event:       "job." + string(status),
		JobID:       final.ID,
		ScheduleID:  final.ScheduleID,
		Destination: final.DestinationID,
		Detail:      final.Error,
	})
	if p.notifier != nil {
		p.notifier.Notify(ctx, fmt.Sprintf("%s job %s %s (%d/%d accounts)",
			final.Type, final.ID, status,
			final.Progress.AccountsCompleted, final.Progress.AccountsTotal))
	}
	p.log.Info("job finalized",
		logx.String("job", final.ID),
		logx.String("status", string(status)),
		logx.Int("accounts_completed", final.Progress.AccountsCompleted))
	return nil
}
