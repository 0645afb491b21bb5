package processor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stashd/internal/engine"
	"stashd/internal/manifest"
	"stashd/internal/runlock"
	"stashd/internal/store"
	"stashd/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeRunner struct {
	mu      sync.Mutex
	ops     []engine.Operation
	respond func(op engine.Operation) (engine.Result, error)
}

func (r *fakeRunner) RunAccount(ctx context.Context, op engine.Operation) (engine.Result, error) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
	if r.respond != nil {
		return r.respond(op)
	}
	return engine.Result{OK: true, Artifact: op.Account + ".tar.zst"}, nil
}

func (r *fakeRunner) accounts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ops))
	for i, op := range r.ops {
		out[i] = op.Account
	}
	return out
}

type fakeTransport struct {
	mu      sync.Mutex
	deleted []string
	fail    map[string]error
}

func (t *fakeTransport) Delete(ctx context.Context, path string, dest engine.Destination) error {
	if err, ok := t.fail[path]; ok {
		return err
	}
	t.mu.Lock()
	t.deleted = append(t.deleted, path)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) List(ctx context.Context, prefix string, dest engine.Destination) ([]engine.Object, error) {
	return nil, nil
}

type stubLiveness struct {
	mu  sync.Mutex
	res runlock.LivenessResult
}

func (s *stubLiveness) Check(store.LockRecord) runlock.LivenessResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res
}

func (s *stubLiveness) set(res runlock.LivenessResult) {
	s.mu.Lock()
	s.res = res
	s.mu.Unlock()
}

type harness struct {
	clk      *fakeClock
	st       store.Store
	runner   *fakeRunner
	tr       *fakeTransport
	access   *engine.StaticResolver
	liveness *stubLiveness
	dests    map[string]engine.Destination
	ledger   *manifest.Ledger
	proc     *Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := store.Open(store.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "data")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		clk:      &fakeClock{t: time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC)},
		st:       st,
		runner:   &fakeRunner{},
		tr:       &fakeTransport{},
		access:   engine.NewStaticResolver(map[string][]string{"ops": {"alfa", "bravo"}}),
		liveness: &stubLiveness{res: runlock.LivenessUnknown},
		dests: map[string]engine.Destination{
			"nas": {ID: "nas", Kind: "localdir", Root: "/backups", Enabled: true},
		},
	}
	h.ledger = manifest.New(st).WithClock(h.clk.Now)
	lock := runlock.New(st, h.liveness, logx.Nop(),
		runlock.WithClock(h.clk.Now),
		runlock.WithIdentity(100, "testhost"))
	h.proc = New(Deps{
		Store:        st,
		Ledger:       h.ledger,
		Lock:         lock,
		Runner:       h.runner,
		Transport:    h.tr,
		Access:       h.access,
		Destinations: func() map[string]engine.Destination { return h.dests },
		Log:          logx.Nop(),
		Now:          h.clk.Now,
	})
	return h
}

func (h *harness) putSchedule(t *testing.T, sched *store.Schedule) {
	t.Helper()
	if err := h.st.PutSchedule(context.Background(), sched); err != nil {
		t.Fatalf("put schedule: %v", err)
	}
}

func (h *harness) pass(t *testing.T) PassReport {
	t.Helper()
	rep, err := h.proc.Pass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	return rep
}

func dueSchedule(h *harness, id string) *store.Schedule {
	return &store.Schedule{
		ID:            id,
		Owner:         "ops",
		Accounts:      store.ExplicitAccounts("alfa", "bravo"),
		DestinationID: "nas",
		Frequency:     store.FreqDaily,
		PreferredHour: 3,
		Retention:     3,
		Enabled:       true,
		NextRun:       h.clk.Now().Add(-time.Minute),
	}
}

func TestPassMaterializesAndRuns(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.putSchedule(t, dueSchedule(h, "nightly"))

	rep := h.pass(t)
	if rep.Skipped || rep.Materialized != 1 || rep.Processed != 1 {
		t.Fatalf("report: %+v", rep)
	}

	done, err := h.st.ListJobs(ctx, store.CollectionCompleted)
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(done) != 1 {
		t.Fatalf("completed jobs: got %d, want 1", len(done))
	}
	job := done[0]
	if job.Status != store.StatusCompleted || job.ScheduleID != "nightly" {
		t.Fatalf("job: %+v", job)
	}
	if job.Progress.AccountsCompleted != 2 || job.Progress.AccountsTotal != 2 {
		t.Fatalf("progress: %+v", job.Progress)
	}
	if job.StartedAt.IsZero() || job.FinishedAt.IsZero() {
		t.Fatalf("timestamps not set: %+v", job)
	}

	sched, err := h.st.GetSchedule(ctx, "nightly")
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !sched.NextRun.After(h.clk.Now()) {
		t.Fatalf("next run not advanced: %v", sched.NextRun)
	}
	if !sched.LastRun.Equal(h.clk.Now()) {
		t.Fatalf("last run: got %v, want %v", sched.LastRun, h.clk.Now())
	}

	entries, err := h.st.ListManifest(ctx, "nas")
	if err != nil {
		t.Fatalf("list manifest: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("manifest entries: got %d, want 2", len(entries))
	}
}

func TestPassSkippedOnContention(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.putSchedule(t, dueSchedule(h, "nightly"))

	now := h.clk.Now()
	if err := h.st.ClaimLock(ctx, &store.LockRecord{
		HolderPID: 999, Hostname: "elsewhere", AcquiredAt: now, HeartbeatAt: now,
	}); err != nil {
		t.Fatalf("claim lock: %v", err)
	}
	h.liveness.set(runlock.LivenessAlive)

	rep := h.pass(t)
	if !rep.Skipped {
		t.Fatalf("pass not skipped: %+v", rep)
	}
	if queued, _ := h.st.ListJobs(ctx, store.CollectionQueued); len(queued) != 0 {
		t.Fatalf("jobs materialized despite skip: %d", len(queued))
	}

	// A dead holder's lock is stolen and the pass proceeds.
	h.liveness.set(runlock.LivenessDead)
	rep = h.pass(t)
	if rep.Skipped || rep.Processed != 1 {
		t.Fatalf("report after steal: %+v", rep)
	}
	if rec, _ := h.st.ReadLock(ctx); rec != nil {
		t.Fatalf("lock not released: %+v", rec)
	}
}

func TestQueueDrainsInOrderWithMonotonicProgress(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	var jobIDs []string
	for _, account := range []string{"first", "second", "third"} {
		job, err := h.proc.Enqueue(ctx, JobSpec{
			Type:          store.JobBackup,
			Accounts:      store.ExplicitAccounts(account),
			DestinationID: "nas",
			Owner:         "ops",
		})
		if err != nil {
			t.Fatalf("enqueue %s: %v", account, err)
		}
		jobIDs = append(jobIDs, job.ID)
		h.clk.Advance(time.Second)
	}

	seen := 0
	h.runner.respond = func(op engine.Operation) (engine.Result, error) {
		job, coll, err := h.st.GetJob(ctx, jobIDs[seen])
		if err != nil || coll != store.CollectionRunning {
			t.Errorf("job %d not running during execution: coll=%s err=%v", seen, coll, err)
		} else if job.Progress.AccountsCompleted != 0 {
			t.Errorf("progress ran ahead: %+v", job.Progress)
		}
		seen++
		return engine.Result{OK: true, Artifact: op.Account + ".tar.zst"}, nil
	}

	rep := h.pass(t)
	if rep.Processed != 3 {
		t.Fatalf("processed: got %d, want 3", rep.Processed)
	}
	got := h.runner.accounts()
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order: got %v, want %v", got, want)
		}
	}
}

func TestCancelQueuedJobVanishes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.proc.Enqueue(ctx, JobSpec{
		Type:          store.JobBackup,
		Accounts:      store.ExplicitAccounts("alfa"),
		DestinationID: "nas",
		Owner:         "ops",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := h.proc.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, _, err := h.st.GetJob(ctx, job.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get after cancel: got %v, want ErrNotFound", err)
	}

	rep := h.pass(t)
	if rep.Processed != 0 {
		t.Fatalf("cancelled job was processed: %+v", rep)
	}
	if done, _ := h.st.ListJobs(ctx, store.CollectionCompleted); len(done) != 0 {
		t.Fatalf("terminal record written for never-started job: %d", len(done))
	}
}

// vanishStore removes a chosen queued job right after it is listed,
// mimicking a cancel arriving from another process mid-pass.
type vanishStore struct {
	store.Store
	target string
}

func (s *vanishStore) ListJobs(ctx context.Context, c store.Collection) ([]*store.Job, error) {
	jobs, err := s.Store.ListJobs(ctx, c)
	if err != nil || c != store.CollectionQueued || s.target == "" {
		return jobs, err
	}
	for _, j := range jobs {
		if j.ID == s.target {
			if err := s.Store.DeleteJob(ctx, c, s.target); err != nil {
				return nil, err
			}
			s.target = ""
			break
		}
	}
	return jobs, err
}

func TestJobRemovedMidPassIsSkipped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	var ids []string
	for _, account := range []string{"alfa", "bravo"} {
		job, err := h.proc.Enqueue(ctx, JobSpec{
			Type:          store.JobBackup,
			Accounts:      store.ExplicitAccounts(account),
			DestinationID: "nas",
			Owner:         "ops",
		})
		if err != nil {
			t.Fatalf("enqueue %s: %v", account, err)
		}
		ids = append(ids, job.ID)
		h.clk.Advance(time.Second)
	}

	vs := &vanishStore{Store: h.st, target: ids[0]}
	lock := runlock.New(h.st, h.liveness, logx.Nop(),
		runlock.WithClock(h.clk.Now),
		runlock.WithIdentity(101, "testhost"))
	proc := New(Deps{
		Store:        vs,
		Ledger:       h.ledger,
		Lock:         lock,
		Runner:       h.runner,
		Transport:    h.tr,
		Access:       h.access,
		Destinations: func() map[string]engine.Destination { return h.dests },
		Log:          logx.Nop(),
		Now:          h.clk.Now,
	})

	rep, err := proc.Pass(ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if rep.Skipped || rep.Processed != 1 {
		t.Fatalf("report: %+v", rep)
	}
	if got := h.runner.accounts(); len(got) != 1 || got[0] != "bravo" {
		t.Fatalf("executed accounts: %v, want [bravo]", got)
	}
	done, err := h.st.ListJobs(ctx, store.CollectionCompleted)
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(done) != 1 || done[0].ID != ids[1] {
		t.Fatalf("completed jobs: %+v", done)
	}
}

func TestCancelDuringProcessingStopsAtBoundary(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.proc.Enqueue(ctx, JobSpec{
		Type:          store.JobBackup,
		Accounts:      store.ExplicitAccounts("alfa", "bravo", "charlie"),
		DestinationID: "nas",
		Owner:         "ops",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	h.runner.respond = func(op engine.Operation) (engine.Result, error) {
		if op.Account == "alfa" {
			if err := h.proc.RequestCancel(ctx, job.ID); err != nil {
				t.Errorf("cancel while processing: %v", err)
			}
		}
		return engine.Result{OK: true, Artifact: op.Account + ".tar.zst"}, nil
	}

	h.pass(t)

	final, coll, err := h.st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if coll != store.CollectionCompleted || final.Status != store.StatusCancelled {
		t.Fatalf("final state: coll=%s status=%s", coll, final.Status)
	}
	if final.Progress.AccountsCompleted != 1 || len(final.Results) != 1 {
		t.Fatalf("work after cancel boundary: %+v", final.Progress)
	}
	if got := h.runner.accounts(); len(got) != 1 || got[0] != "alfa" {
		t.Fatalf("executed accounts: %v", got)
	}

	if err := h.proc.RequestCancel(ctx, job.ID); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("cancel terminal job: got %v, want ErrAlreadyTerminal", err)
	}
}

func TestPartialFailureFinalizesFailed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.putSchedule(t, dueSchedule(h, "nightly"))

	h.runner.respond = func(op engine.Operation) (engine.Result, error) {
		if op.Account == "bravo" {
			return engine.Result{OK: false, Message: "mailbox locked"}, nil
		}
		return engine.Result{OK: true, Artifact: op.Account + ".tar.zst"}, nil
	}

	h.pass(t)

	done, _ := h.st.ListJobs(ctx, store.CollectionCompleted)
	if len(done) != 1 {
		t.Fatalf("completed jobs: %d", len(done))
	}
	job := done[0]
	if job.Status != store.StatusFailed {
		t.Fatalf("status: got %s, want failed", job.Status)
	}
	if job.Error != "1 of 2 accounts failed" {
		t.Fatalf("error message: %q", job.Error)
	}
	if len(job.Results) != 2 || job.Results[0].OK == job.Results[1].OK {
		t.Fatalf("results: %+v", job.Results)
	}

	// The successful account's artifact is still tracked for retention.
	entries, _ := h.st.ListManifest(ctx, "nas")
	if len(entries) != 1 || entries[0].Account != "alfa" {
		t.Fatalf("manifest: %+v", entries)
	}
}

func TestRetentionPrunesOldestFirst(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.putSchedule(t, dueSchedule(h, "nightly"))

	// A manual artifact recorded up front must survive every pass.
	if err := h.ledger.Record(ctx, "nas", store.ManualScheduleID, "alfa", "manual-keep.tar.zst", ""); err != nil {
		t.Fatalf("record manual: %v", err)
	}

	h.runner.respond = func(op engine.Operation) (engine.Result, error) {
		name := fmt.Sprintf("%s-%s.tar.zst", op.Account, h.clk.Now().Format("20060102T150405"))
		return engine.Result{OK: true, Artifact: name}, nil
	}

	for pass := 0; pass < 5; pass++ {
		rep := h.pass(t)
		if rep.Materialized != 1 || rep.Processed != 1 {
			t.Fatalf("pass %d: %+v", pass, rep)
		}
		h.clk.Advance(24 * time.Hour)
	}

	entries, err := h.st.ListManifest(ctx, "nas")
	if err != nil {
		t.Fatalf("list manifest: %v", err)
	}
	perAccount := map[string]int{}
	manualSeen := false
	for _, e := range entries {
		if e.ScheduleID == store.ManualScheduleID {
			manualSeen = true
			continue
		}
		perAccount[e.Account]++
	}
	if !manualSeen {
		t.Fatalf("manual artifact was pruned")
	}
	for _, account := range []string{"alfa", "bravo"} {
		if perAccount[account] != 3 {
			t.Fatalf("account %s: %d entries retained, want 3", account, perAccount[account])
		}
	}

	// Two passes exceeded retention, each pruning the then-oldest artifact
	// of both accounts.
	if len(h.tr.deleted) != 4 {
		t.Fatalf("deleted: %v", h.tr.deleted)
	}
	for _, name := range h.tr.deleted {
		day := name[len(name)-len("20250610T030000.tar.zst"):][6:8]
		if day != "10" && day != "11" {
			t.Fatalf("pruned a non-oldest artifact: %s", name)
		}
	}
}

func TestWildcardResolvesFreshlyEachPass(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	sched := dueSchedule(h, "everyone")
	sched.Accounts = store.AllAccounts()
	h.putSchedule(t, sched)

	h.pass(t)
	if got := h.runner.accounts(); len(got) != 2 {
		t.Fatalf("first pass accounts: %v", got)
	}

	h.access.Replace(map[string][]string{"ops": {"alfa", "bravo", "charlie"}})
	h.clk.Advance(24 * time.Hour)
	h.pass(t)

	got := h.runner.accounts()
	if len(got) != 5 || got[4] != "charlie" {
		t.Fatalf("new account not picked up: %v", got)
	}
}

func TestPruneKeepsEntryWhenDeleteFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	sched := dueSchedule(h, "nightly")
	sched.Retention = 1
	sched.NextRun = h.clk.Now().Add(time.Hour) // not due, pass only prunes
	h.putSchedule(t, sched)

	for _, name := range []string{"e1", "e2", "e3", "e4"} {
		if err := h.ledger.Record(ctx, "nas", "nightly", "alfa", name, ""); err != nil {
			t.Fatalf("record %s: %v", name, err)
		}
		h.clk.Advance(time.Minute)
	}
	h.tr.fail = map[string]error{
		"e1": fs.ErrNotExist, // already gone, entry must converge away
		"e2": errors.New("nfs timeout"),
	}

	rep := h.pass(t)
	if rep.Pruned != 2 || rep.PruneFailures != 1 {
		t.Fatalf("report: %+v", rep)
	}

	entries, _ := h.st.ListManifest(ctx, "nas")
	left := map[string]bool{}
	for _, e := range entries {
		left[e.Filename] = true
	}
	if !left["e2"] || !left["e4"] || left["e1"] || left["e3"] {
		t.Fatalf("remaining entries: %v", left)
	}
	if len(h.tr.deleted) != 1 || h.tr.deleted[0] != "e3" {
		t.Fatalf("deleted: %v", h.tr.deleted)
	}
}

func TestScheduleSkippedWhenDestinationUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	sched := dueSchedule(h, "nightly")
	h.putSchedule(t, sched)
	h.dests["nas"] = engine.Destination{ID: "nas", Kind: "localdir", Root: "/backups", Enabled: false}

	rep := h.pass(t)
	if rep.Materialized != 0 || rep.Processed != 0 {
		t.Fatalf("report: %+v", rep)
	}

	// The recurrence still advances so the broken schedule does not refire
	// every pass.
	after, err := h.st.GetSchedule(ctx, "nightly")
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !after.NextRun.After(h.clk.Now()) {
		t.Fatalf("next run not advanced: %v", after.NextRun)
	}
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.proc.Enqueue(ctx, JobSpec{
		Type: store.JobBackup, Accounts: store.ExplicitAccounts("alfa"), DestinationID: "nope",
	})
	if !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("unknown destination: got %v", err)
	}

	_, err = h.proc.Enqueue(ctx, JobSpec{
		Type: store.JobBackup, DestinationID: "nas",
	})
	if err == nil {
		t.Fatalf("empty account set accepted")
	}

	// A disabled destination is accepted on explicit request.
	h.dests["nas"] = engine.Destination{ID: "nas", Enabled: false}
	if _, err := h.proc.Enqueue(ctx, JobSpec{
		Type: store.JobRestore, Accounts: store.ExplicitAccounts("alfa"), DestinationID: "nas",
	}); err != nil {
		t.Fatalf("disabled destination rejected for manual job: %v", err)
	}
}

func TestCreateScheduleFailsClosed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.dests["nas"] = engine.Destination{ID: "nas", Enabled: false}
	sched := dueSchedule(h, "nightly")
	if err := h.proc.CreateSchedule(ctx, sched); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("disabled destination: got %v", err)
	}

	h.dests["nas"] = engine.Destination{ID: "nas", Enabled: true}
	if err := h.proc.CreateSchedule(ctx, sched); err != nil {
		t.Fatalf("create: %v", err)
	}
	stored, err := h.st.GetSchedule(ctx, "nightly")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.NextRun.After(h.clk.Now()) {
		t.Fatalf("first run not in the future: %v", stored.NextRun)
	}
}

func TestOrphanedRunningJobIsFinalized(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	// A crashed pass left this job in the running collection.
	job := &store.Job{
		ID:            store.NewJobID(h.clk.Now()),
		Type:          store.JobBackup,
		Accounts:      store.ExplicitAccounts("alfa", "bravo"),
		DestinationID: "nas",
		Owner:         "ops",
		CreatedAt:     h.clk.Now(),
		Status:        store.StatusQueued,
	}
	if err := h.st.CreateJob(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.st.MoveJob(ctx, job.ID, store.CollectionQueued, store.CollectionRunning, func(j *store.Job) {
		j.Status = store.StatusProcessing
		j.Progress = store.Progress{AccountsTotal: 2, AccountsCompleted: 1}
	}); err != nil {
		t.Fatalf("move: %v", err)
	}

	h.pass(t)

	final, coll, err := h.st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if coll != store.CollectionCompleted || final.Status != store.StatusFailed {
		t.Fatalf("orphan not finalized: coll=%s status=%s", coll, final.Status)
	}
	if final.Error == "" || final.Progress.AccountsCompleted != 1 {
		t.Fatalf("orphan record: %+v", final)
	}
	if got := h.runner.accounts(); len(got) != 0 {
		t.Fatalf("orphan was re-executed: %v", got)
	}
}

func TestSnapshotAfterPass(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.putSchedule(t, dueSchedule(h, "nightly"))

	h.pass(t)

	snap, err := h.proc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Lock != nil || snap.QueueDepth != 0 || snap.Running != nil {
		t.Fatalf("snapshot: %+v", snap)
	}
	if snap.LastPass == nil || snap.LastPass.Processed != 1 {
		t.Fatalf("last pass: %+v", snap.LastPass)
	}
}
