package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"stashd/internal/engine"
	"stashd/internal/manifest"
	"stashd/internal/processor"
	"stashd/internal/runlock"
	"stashd/internal/store"
	"stashd/pkg/logx"
)

type noopRunner struct{}

func (noopRunner) RunAccount(ctx context.Context, op engine.Operation) (engine.Result, error) {
	return engine.Result{OK: true}, nil
}

type noopTransport struct{}

func (noopTransport) Delete(ctx context.Context, path string, dest engine.Destination) error {
	return nil
}

func (noopTransport) List(ctx context.Context, prefix string, dest engine.Destination) ([]engine.Object, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "data")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	proc := processor.New(processor.Deps{
		Store:     st,
		Ledger:    manifest.New(st),
		Lock:      runlock.New(st, nil, logx.Nop()),
		Runner:    noopRunner{},
		Transport: noopTransport{},
		Log:       logx.Nop(),
	})
	return New(Config{}, st, proc, nil, logx.Nop()), st
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	rec := get(t, srv, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestJobs(t *testing.T) {
	t.Parallel()
	srv, st := newTestServer(t)
	ctx := context.Background()

	rec := get(t, srv, "/jobs/queued")
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Fatalf("empty list: %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, srv, "/jobs/archive"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown collection: %d", rec.Code)
	}

	job := &store.Job{
		ID:            "20250610T030000-deadbeef",
		Type:          store.JobBackup,
		Accounts:      store.ExplicitAccounts("alfa"),
		DestinationID: "nas",
		CreatedAt:     time.Now().UTC(),
		Status:        store.StatusQueued,
	}
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	rec = get(t, srv, "/jobs/queued/"+job.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("get job: %d", rec.Code)
	}
	var got store.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != job.ID {
		t.Fatalf("job id: %q", got.ID)
	}

	// The job lives in queued, not completed.
	if rec := get(t, srv, "/jobs/completed/"+job.ID); rec.Code != http.StatusNotFound {
		t.Fatalf("wrong collection lookup: %d", rec.Code)
	}
}

func TestStatusSnapshot(t *testing.T) {
	t.Parallel()
	srv, st := newTestServer(t)
	ctx := context.Background()

	if err := st.CreateJob(ctx, &store.Job{
		ID: "20250610T030000-cafe0001", Type: store.JobBackup,
		Accounts: store.ExplicitAccounts("alfa"), DestinationID: "nas",
		CreatedAt: time.Now().UTC(), Status: store.StatusQueued,
	}); err != nil {
		t.Fatalf("create job: %v", err)
	}

	rec := get(t, srv, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var snap processor.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.QueueDepth != 1 {
		t.Fatalf("queue depth: %d", snap.QueueDepth)
	}
}

func TestSchedules(t *testing.T) {
	t.Parallel()
	srv, st := newTestServer(t)
	if err := st.PutSchedule(context.Background(), &store.Schedule{
		ID: "nightly", Owner: "ops", Accounts: store.ExplicitAccounts("alfa"),
		DestinationID: "nas", Frequency: store.FreqDaily, Enabled: true,
	}); err != nil {
		t.Fatalf("put schedule: %v", err)
	}
	rec := get(t, srv, "/schedules")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var scheds []store.Schedule
	if err := json.Unmarshal(rec.Body.Bytes(), &scheds); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(scheds) != 1 || scheds[0].ID != "nightly" {
		t.Fatalf("schedules: %+v", scheds)
	}
}
