package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"stashd/pkg/logx"
)

// fileStore is the default persistence backend.
//
// Layout under the root directory:
//
//	queued/ running/ completed/   one <id>.json per job
//	schedules/                    one <id>.json per schedule
//	cancel/                       empty marker file per job id
//	lock.json                     singleton lock record
//	manifest/<destination>.jsonl  append-only op journal, compacted in place
//	audit.jsonl                   append-only audit trail
//
// Writes go through write-temp-then-rename, except the lock claim which
// relies on O_EXCL create. A collection move rewrites
// the document inside its source collection first, then performs a single
// os.Rename into the target collection, so a scan never observes the job in
// zero or two collections.
type fileStore struct {
	root string
	log  logx.Logger

	mu sync.Mutex

	auditFile *os.File

	manifests map[string]*manifestJournal
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	root := strings.TrimSpace(cfg.Path)
	if root == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	for _, dir := range []string{
		root,
		filepath.Join(root, string(CollectionQueued)),
		filepath.Join(root, string(CollectionRunning)),
		filepath.Join(root, string(CollectionCompleted)),
		filepath.Join(root, "schedules"),
		filepath.Join(root, "cancel"),
		filepath.Join(root, "manifest"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	af, err := os.OpenFile(filepath.Join(root, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		root:      root,
		log:       log,
		auditFile: af,
		manifests: map[string]*manifestJournal{},
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	if s.auditFile != nil {
		first = s.auditFile.Close()
		s.auditFile = nil
	}
	for _, j := range s.manifests {
		if err := j.close(); err != nil && first == nil {
			first = err
		}
	}
	s.manifests = map[string]*manifestJournal{}
	return first
}

func (s *fileStore) jobPath(c Collection, id string) string {
	return filepath.Join(s.root, string(c), id+".json")
}

func (s *fileStore) schedulePath(id string) string {
	return filepath.Join(s.root, "schedules", id+".json")
}

// writeDoc writes v to path via a temp file and atomic rename.
func writeDoc(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readDoc(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(b, v)
}

// ---- Jobs ----

func (s *fileStore) CreateJob(ctx context.Context, job *Job) error {
	_ = ctx
	if job == nil || !ValidID(job.ID) {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range Collections {
		if _, err := os.Stat(s.jobPath(c, job.ID)); err == nil {
			return fmt.Errorf("job %s: %w", job.ID, ErrDuplicateID)
		}
	}
	return writeDoc(s.jobPath(CollectionQueued, job.ID), job)
}

func (s *fileStore) GetJob(ctx context.Context, id string) (*Job, Collection, error) {
	_ = ctx
	if !ValidID(id) {
		return nil, "", ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range Collections {
		var job Job
		err := readDoc(s.jobPath(c, id), &job)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return &job, c, nil
	}
	return nil, "", fmt.Errorf("job %s: %w", id, ErrNotFound)
}

func (s *fileStore) ListJobs(ctx context.Context, c Collection) ([]*Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, string(c))
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	jobs := make([]*Job, 0, len(ents))
	for _, ent := range ents {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		var job Job
		if err := readDoc(filepath.Join(dir, name), &job); err != nil {
			// A .tmp leftover or a file deleted mid-scan is not fatal.
			s.log.Warn("skipping unreadable job document", logx.String("file", name), logx.Err(err))
			continue
		}
		jobs = append(jobs, &job)
	}
	// Ids are time-prefixed, so lexical order is queue-insertion order.
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (s *fileStore) UpdateJob(ctx context.Context, c Collection, job *Job) error {
	_ = ctx
	if job == nil || !ValidID(job.ID) {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.jobPath(c, job.ID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("job %s in %s: %w", job.ID, c, ErrNotFound)
		}
		return err
	}
	return writeDoc(path, job)
}

func (s *fileStore) MoveJob(ctx context.Context, id string, from, to Collection, mutate func(*Job)) error {
	_ = ctx
	if !ValidID(id) {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.jobPath(from, id)
	var job Job
	if err := readDoc(src, &job); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("job %s in %s: %w", id, from, ErrNotFound)
		}
		return err
	}
	if mutate != nil {
		mutate(&job)
	}
	// Commit the mutation inside the source collection first, then relocate
	// with a single rename. Neither step can leave the job duplicated or gone.
	if err := writeDoc(src, &job); err != nil {
		return err
	}
	return os.Rename(src, s.jobPath(to, id))
}

func (s *fileStore) DeleteJob(ctx context.Context, c Collection, id string) error {
	_ = ctx
	if !ValidID(id) {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.jobPath(c, id))
	if os.IsNotExist(err) {
		return fmt.Errorf("job %s in %s: %w", id, c, ErrNotFound)
	}
	return err
}

// ---- Schedules ----

func (s *fileStore) PutSchedule(ctx context.Context, sched *Schedule) error {
	_ = ctx
	if sched == nil || !ValidID(sched.ID) {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeDoc(s.schedulePath(sched.ID), sched)
}

func (s *fileStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	_ = ctx
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var sched Schedule
	if err := readDoc(s.schedulePath(id), &sched); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &sched, nil
}

func (s *fileStore) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, "schedules")
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]*Schedule, 0, len(ents))
	for _, ent := range ents {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		var sched Schedule
		if err := readDoc(filepath.Join(dir, name), &sched); err != nil {
			s.log.Warn("skipping unreadable schedule document", logx.String("file", name), logx.Err(err))
			continue
		}
		out = append(out, &sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) DeleteSchedule(ctx context.Context, id string) error {
	_ = ctx
	if !ValidID(id) {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.schedulePath(id))
	if os.IsNotExist(err) {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return err
}

// ---- Cancellation markers ----

func (s *fileStore) cancelPath(jobID string) string {
	return filepath.Join(s.root, "cancel", jobID)
}

func (s *fileStore) MarkCancel(ctx context.Context, jobID string) error {
	_ = ctx
	if !ValidID(jobID) {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.cancelPath(jobID), os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

func (s *fileStore) CancelMarked(ctx context.Context, jobID string) (bool, error) {
	_ = ctx
	if !ValidID(jobID) {
		return false, ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := os.Stat(s.cancelPath(jobID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *fileStore) ClearCancel(ctx context.Context, jobID string) error {
	_ = ctx
	if !ValidID(jobID) {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.cancelPath(jobID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ---- Lock record ----

func (s *fileStore) lockPath() string { return filepath.Join(s.root, "lock.json") }

func (s *fileStore) ReadLock(ctx context.Context) (*LockRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec LockRecord
	err := readDoc(s.lockPath(), &rec)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ClaimLock creates lock.json with O_EXCL so that the existence check and
// the create happen in one filesystem operation. A competing process that
// wins the race leaves us with ErrLockHeld instead of a silent overwrite.
func (s *fileStore) ClaimLock(ctx context.Context, rec *LockRecord) error {
	_ = ctx
	if rec == nil {
		return errors.New("nil lock record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.lockPath(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return ErrLockHeld
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *fileStore) TouchLock(ctx context.Context, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec LockRecord
	if err := readDoc(s.lockPath(), &rec); err != nil {
		return err
	}
	rec.HeartbeatAt = at
	return writeDoc(s.lockPath(), &rec)
}

func (s *fileStore) ClearLock(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.lockPath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ---- Audit ----

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}
