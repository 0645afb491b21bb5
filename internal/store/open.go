package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"stashd/pkg/logx"
)

// Store is the durable record API used by the queue processor and its
// collaborators. Implementations must keep job collection membership
// singular: a crash mid-move must never leave a job readable in zero or
// two collections.
type Store interface {
	// Jobs. CreateJob fails with ErrDuplicateID if the id exists in any
	// collection. MoveJob applies mutate to the record and relocates it in
	// one atomic step; it is the only primitive used for state transitions.
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, Collection, error)
	ListJobs(ctx context.Context, c Collection) ([]*Job, error)
	UpdateJob(ctx context.Context, c Collection, job *Job) error
	MoveJob(ctx context.Context, id string, from, to Collection, mutate func(*Job)) error
	DeleteJob(ctx context.Context, c Collection, id string) error

	// Schedules.
	PutSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	ListSchedules(ctx context.Context) ([]*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Cancellation markers (ephemeral, keyed by job id).
	MarkCancel(ctx context.Context, jobID string) error
	CancelMarked(ctx context.Context, jobID string) (bool, error)
	ClearCancel(ctx context.Context, jobID string) error

	// Run lock record. ReadLock returns (nil, nil) when absent. ClaimLock
	// creates the record only when none exists and reports ErrLockHeld
	// otherwise; the check and the create are a single atomic step.
	ReadLock(ctx context.Context) (*LockRecord, error)
	ClaimLock(ctx context.Context, rec *LockRecord) error
	TouchLock(ctx context.Context, at time.Time) error
	ClearLock(ctx context.Context) error

	// Manifest ledger, append-only per destination.
	AppendManifest(ctx context.Context, destination string, e ManifestEntry) (int64, error)
	ListManifest(ctx context.Context, destination string) ([]ManifestEntry, error)
	RemoveManifest(ctx context.Context, destination, scheduleID string, filenames []string) error

	// Audit trail, append-only.
	AppendAudit(ctx context.Context, e AuditEntry) error

	Close() error
}

// Open initializes the configured store. The "file" driver is the default.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// ValidID reports whether id is safe for direct use as a filesystem or key
// identifier: alphanumerics plus '-', '_' and '.', not starting with a dot.
func ValidID(id string) bool {
	if id == "" || len(id) > 200 || id[0] == '.' {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}
