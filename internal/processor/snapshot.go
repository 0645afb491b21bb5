package processor

import (
	"context"
	"sync"

	"stashd/internal/store"
)

// passState remembers the most recent pass report for the status surface.
type passState struct {
	mu   sync.Mutex
	last *PassReport
}

func (s *passState) record(rep PassReport) {
	s.mu.Lock()
	s.last = &rep
	s.mu.Unlock()
}

func (s *passState) report() *PassReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	cp := *s.last
	return &cp
}

// Snapshot is a point-in-time view of the processor for operators. It is
// read straight from the store, so it reflects other processes holding the
// lock too.
type Snapshot struct {
	Lock       *store.LockRecord `json:"lock,omitempty"`
	QueueDepth int               `json:"queue_depth"`
	Running    *store.Job        `json:"running,omitempty"`
	LastPass   *PassReport       `json:"last_pass,omitempty"`
}

func (p *Processor) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{LastPass: p.passes.report()}

	rec, err := p.st.ReadLock(ctx)
	if err != nil {
		return snap, err
	}
	snap.Lock = rec

	queued, err := p.st.ListJobs(ctx, store.CollectionQueued)
	if err != nil {
		return snap, err
	}
	snap.QueueDepth = len(queued)

	running, err := p.st.ListJobs(ctx, store.CollectionRunning)
	if err != nil {
		return snap, err
	}
	if len(running) > 0 {
		snap.Running = running[0]
	}
	return snap, nil
}
