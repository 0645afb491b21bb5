package processor

import (
	"context"
	"fmt"

	"stashd/internal/store"
	"stashd/pkg/logx"
)

// RequestCancel asks for a job to stop.
//
//   - queued: the job is removed outright and never runs; no terminal
//     record is written.
//   - processing: a cancel marker is set; the executor honors it after the
//     current account unit finishes, never mid-unit.
//   - terminal: ErrAlreadyTerminal.
func (p *Processor) RequestCancel(ctx context.Context, jobID string) error {
	job, coll, err := p.st.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	switch coll {
	case store.CollectionCompleted:
		return fmt.Errorf("job %s is %s: %w", jobID, job.Status, ErrAlreadyTerminal)

	case store.CollectionQueued:
		if err := p.st.DeleteJob(ctx, store.CollectionQueued, jobID); err != nil {
			return err
		}
		p.log.Info("queued job cancelled before start", logx.String("job", jobID))
		p.audit.Record(ctx, store.AuditEntry{Event: "job.dequeued", JobID: jobID})
		return nil

	default: // running
		if err := p.st.MarkCancel(ctx, jobID); err != nil {
			return err
		}
		p.log.Info("cancellation requested, job stops after the current account",
			logx.String("job", jobID))
		p.audit.Record(ctx, store.AuditEntry{Event: "job.cancel_requested", JobID: jobID})
		return nil
	}
}
