package processor

import (
	"context"
	"fmt"
	"time"

	"stashd/internal/recur"
	"stashd/internal/store"
	"stashd/pkg/logx"
)

// JobSpec describes an ad-hoc job request.
type JobSpec struct {
	Type          store.JobType
	Accounts      store.AccountSet
	DestinationID string
	Owner         string
	Retention     int
}

// Enqueue creates a manual job in the queue. A missing destination is
// rejected; a disabled one is accepted with a warning, since the human
// explicitly asked and may be restoring access concurrently.
func (p *Processor) Enqueue(ctx context.Context, spec JobSpec) (*store.Job, error) {
	if spec.Type != store.JobBackup && spec.Type != store.JobRestore {
		return nil, fmt.Errorf("unknown job type %q", spec.Type)
	}
	dest, ok := p.dests()[spec.DestinationID]
	if !ok {
		return nil, fmt.Errorf("destination %q: %w", spec.DestinationID, ErrInvalidDestination)
	}
	if !dest.Enabled {
		p.log.Warn("accepting job against disabled destination",
			logx.String("destination", dest.ID))
	}
	if !spec.Accounts.All && len(spec.Accounts.Names) == 0 {
		return nil, fmt.Errorf("job targets no accounts")
	}

	job := &store.Job{
		ID:            store.NewJobID(p.now()),
		Type:          spec.Type,
		Accounts:      spec.Accounts,
		DestinationID: spec.DestinationID,
		Owner:         spec.Owner,
		CreatedAt:     p.now(),
		Status:        store.StatusQueued,
		ScheduleID:    store.ManualScheduleID,
		Retention:     spec.Retention,
	}
	if err := p.st.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	p.log.Info("job enqueued",
		logx.String("job", job.ID),
		logx.String("type", string(job.Type)),
		logx.String("destination", job.DestinationID))
	p.audit.Record(ctx, store.AuditEntry{
		Event:       "job.enqueued",
		JobID:       job.ID,
		Destination: job.DestinationID,
	})
	return job, nil
}

// CreateSchedule validates and persists a new schedule, computing its first
// run instant. Unlike ad-hoc jobs, a schedule against a missing or disabled
// destination fails closed.
func (p *Processor) CreateSchedule(ctx context.Context, sched *store.Schedule) error {
	if sched == nil || !store.ValidID(sched.ID) {
		return store.ErrInvalidID
	}
	dest, ok := p.dests()[sched.DestinationID]
	if !ok || !dest.Enabled {
		return fmt.Errorf("destination %q: %w", sched.DestinationID, ErrInvalidDestination)
	}
	if !sched.Accounts.All && len(sched.Accounts.Names) == 0 {
		return fmt.Errorf("schedule targets no accounts")
	}

	next, err := recur.Next(sched.Frequency, sched.PreferredHour, sched.DayOfWeek, p.now())
	if err != nil {
		return err
	}
	sched.NextRun = next
	sched.LastRun = time.Time{}

	if err := p.st.PutSchedule(ctx, sched); err != nil {
		return err
	}
	p.log.Info("schedule created",
		logx.String("schedule", sched.ID),
		logx.String("frequency", string(sched.Frequency)),
		logx.Time("next_run", next))
	p.audit.Record(ctx, store.AuditEntry{
		Event:       "schedule.created",
		ScheduleID:  sched.ID,
		Destination: sched.DestinationID,
	})
	return nil
}

// DeleteSchedule removes a schedule. Artifacts it produced stay on the
// destination and in the manifest; with no retention policy left they are
// simply never pruned.
func (p *Processor) DeleteSchedule(ctx context.Context, id string) error {
	if err := p.st.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	p.log.Info("schedule deleted", logx.String("schedule", id))
	p.audit.Record(ctx, store.AuditEntry{Event: "schedule.deleted", ScheduleID: id})
	return nil
}
