package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"stashd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Jobs ----

func (s *sqliteStore) CreateJob(ctx context.Context, job *Job) error {
	if job == nil || !ValidID(job.ID) {
		return ErrInvalidID
	}
	doc, err := json.Marshal(job)
	if err != nil {
		return err
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE id = ?`, job.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrDuplicateID)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, collection, doc) VALUES(?,?,?)`,
		job.ID, string(CollectionQueued), string(doc))
	return err
}

func (s *sqliteStore) GetJob(ctx context.Context, id string) (*Job, Collection, error) {
	if !ValidID(id) {
		return nil, "", ErrInvalidID
	}
	var coll, doc string
	err := s.db.QueryRowContext(ctx, `SELECT collection, doc FROM jobs WHERE id = ?`, id).Scan(&coll, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, "", err
	}
	var job Job
	if err := json.Unmarshal([]byte(doc), &job); err != nil {
		return nil, "", err
	}
	return &job, Collection(coll), nil
}

func (s *sqliteStore) ListJobs(ctx context.Context, c Collection) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM jobs WHERE collection = ? ORDER BY id`, string(c))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var job Job
		if err := json.Unmarshal([]byte(doc), &job); err != nil {
			s.log.Warn("skipping undecodable job row", logx.Err(err))
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

func (s *sqliteStore) UpdateJob(ctx context.Context, c Collection, job *Job) error {
	if job == nil || !ValidID(job.ID) {
		return ErrInvalidID
	}
	doc, err := json.Marshal(job)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET doc = ? WHERE id = ? AND collection = ?`,
		string(doc), job.ID, string(c))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s in %s: %w", job.ID, c, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) MoveJob(ctx context.Context, id string, from, to Collection, mutate func(*Job)) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var doc string
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM jobs WHERE id = ? AND collection = ?`, id, string(from)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %s in %s: %w", id, from, ErrNotFound)
	}
	if err != nil {
		return err
	}
	var job Job
	if err := json.Unmarshal([]byte(doc), &job); err != nil {
		return err
	}
	if mutate != nil {
		mutate(&job)
	}
	out, err := json.Marshal(&job)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET collection = ?, doc = ? WHERE id = ?`,
		string(to), string(out), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) DeleteJob(ctx context.Context, c Collection, id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id = ? AND collection = ?`, id, string(c))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s in %s: %w", id, c, ErrNotFound)
	}
	return nil
}

// ---- Schedules ----

func (s *sqliteStore) PutSchedule(ctx context.Context, sched *Schedule) error {
	if sched == nil || !ValidID(sched.ID) {
		return ErrInvalidID
	}
	doc, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, doc) VALUES(?,?)
		 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`,
		sched.ID, string(doc))
	return err
}

func (s *sqliteStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM schedules WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var sched Schedule
	if err := json.Unmarshal([]byte(doc), &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (s *sqliteStore) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM schedules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var sched Schedule
		if err := json.Unmarshal([]byte(doc), &sched); err != nil {
			s.log.Warn("skipping undecodable schedule row", logx.Err(err))
			continue
		}
		out = append(out, &sched)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return nil
}

// ---- Cancellation markers ----

func (s *sqliteStore) MarkCancel(ctx context.Context, jobID string) error {
	if !ValidID(jobID) {
		return ErrInvalidID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cancel_marks(job_id, at) VALUES(?,?)
		 ON CONFLICT(job_id) DO NOTHING`,
		jobID, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) CancelMarked(ctx context.Context, jobID string) (bool, error) {
	if !ValidID(jobID) {
		return false, ErrInvalidID
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM cancel_marks WHERE job_id = ?`, jobID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) ClearCancel(ctx context.Context, jobID string) error {
	if !ValidID(jobID) {
		return ErrInvalidID
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM cancel_marks WHERE job_id = ?`, jobID)
	return err
}

// ---- Lock record ----

func (s *sqliteStore) ReadLock(ctx context.Context) (*LockRecord, error) {
	var rec LockRecord
	var acquired, heartbeat string
	err := s.db.QueryRowContext(ctx,
		`SELECT holder_pid, hostname, acquired_at, heartbeat_at FROM run_lock WHERE k = 1`).
		Scan(&rec.HolderPID, &rec.Hostname, &acquired, &heartbeat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.AcquiredAt, err = time.Parse(time.RFC3339Nano, acquired); err != nil {
		return nil, err
	}
	if rec.HeartbeatAt, err = time.Parse(time.RFC3339Nano, heartbeat); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ClaimLock inserts the singleton row only when it is absent. ON CONFLICT
// DO NOTHING makes the claim atomic; zero affected rows means another
// process already holds the lock.
func (s *sqliteStore) ClaimLock(ctx context.Context, rec *LockRecord) error {
	if rec == nil {
		return errors.New("nil lock record")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_lock(k, holder_pid, hostname, acquired_at, heartbeat_at) VALUES(1,?,?,?,?)
		 ON CONFLICT(k) DO NOTHING`,
		rec.HolderPID, rec.Hostname,
		rec.AcquiredAt.UTC().Format(time.RFC3339Nano),
		rec.HeartbeatAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockHeld
	}
	return nil
}

func (s *sqliteStore) TouchLock(ctx context.Context, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_lock SET heartbeat_at = ? WHERE k = 1`,
		at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run lock: %w", ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) ClearLock(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_lock WHERE k = 1`)
	return err
}

// ---- Manifest ----

func (s *sqliteStore) AppendManifest(ctx context.Context, destination string, e ManifestEntry) (int64, error) {
	if !ValidID(destination) {
		return 0, ErrInvalidID
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO manifest(destination, schedule_id, account, filename, companion, created_at)
		 VALUES(?,?,?,?,?,?)`,
		destination, e.ScheduleID, e.Account, e.Filename,
		nullStr(e.CompanionFilename), e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListManifest(ctx context.Context, destination string) ([]ManifestEntry, error) {
	if !ValidID(destination) {
		return nil, ErrInvalidID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, schedule_id, account, filename, companion, created_at
		 FROM manifest WHERE destination = ? ORDER BY seq`, destination)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ManifestEntry
	for rows.Next() {
		var e ManifestEntry
		var companion sql.NullString
		var created string
		if err := rows.Scan(&e.Seq, &e.ScheduleID, &e.Account, &e.Filename, &companion, &created); err != nil {
			return nil, err
		}
		e.CompanionFilename = companion.String
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RemoveManifest(ctx context.Context, destination, scheduleID string, filenames []string) error {
	if !ValidID(destination) {
		return ErrInvalidID
	}
	if len(filenames) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, fn := range filenames {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM manifest WHERE destination = ? AND schedule_id = ? AND filename = ?`,
			destination, scheduleID, fn); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ---- Audit ----

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, event, job_id, schedule_id, destination, account, detail)
		 VALUES(?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Event,
		nullStr(e.JobID), nullStr(e.ScheduleID), nullStr(e.Destination),
		nullStr(e.Account), nullStr(e.Detail))
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
