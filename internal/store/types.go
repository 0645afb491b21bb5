package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicateID = errors.New("duplicate id")
	ErrInvalidID   = errors.New("invalid id")
	ErrLockHeld    = errors.New("lock record already exists")
)

// Config configures the persistence layer.
//
// Driver values:
//   - "file": directory-per-collection JSON documents (default)
//   - "sqlite": single SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Collection names a job collection. A job lives in exactly one collection
// at any moment; moves between collections are atomic.
type Collection string

const (
	CollectionQueued    Collection = "queued"
	CollectionRunning   Collection = "running"
	CollectionCompleted Collection = "completed"
)

// Collections lists the job collections in scan order.
var Collections = []Collection{CollectionQueued, CollectionRunning, CollectionCompleted}

type JobType string

const (
	JobBackup  JobType = "backup"
	JobRestore JobType = "restore"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ManualScheduleID tags jobs and manifest entries created outside any
// schedule. Manual artifacts are exempt from retention pruning.
const ManualScheduleID = "_manual"

// AccountSet is a tagged account selection: either an explicit ordered list,
// or "all accounts the owner can access", resolved freshly when needed.
type AccountSet struct {
	All   bool     `json:"all,omitempty"`
	Names []string `json:"names,omitempty"`
}

func ExplicitAccounts(names ...string) AccountSet { return AccountSet{Names: names} }

func AllAccounts() AccountSet { return AccountSet{All: true} }

// Progress tracks fractional completion of a multi-account job.
// AccountsCompleted is non-decreasing while the job is processing.
type Progress struct {
	AccountsTotal     int `json:"accounts_total"`
	AccountsCompleted int `json:"accounts_completed"`
}

// AccountResult is the per-account outcome, retained for reporting even when
// the job as a whole finalizes failed.
type AccountResult struct {
	Account string `json:"account"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Job is a unit of backup/restore work.
type Job struct {
	ID            string     `json:"id"`
	Type          JobType    `json:"type"`
	Accounts      AccountSet `json:"accounts"`
	DestinationID string     `json:"destination_id"`
	Owner         string     `json:"owner"`
	CreatedAt     time.Time  `json:"created_at"`

	Status     Status `json:"status"`
	ScheduleID string `json:"schedule_id"`
	Retention  int    `json:"retention"`

	Progress Progress        `json:"progress"`
	Results  []AccountResult `json:"results,omitempty"`
	Error    string          `json:"error,omitempty"`

	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Frequency is a schedule recurrence class.
type Frequency string

const (
	FreqHourly  Frequency = "hourly"
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// Schedule is a recurrence definition that produces jobs.
type Schedule struct {
	ID            string     `json:"id"`
	Owner         string     `json:"owner"`
	Accounts      AccountSet `json:"accounts"`
	DestinationID string     `json:"destination_id"`

	Frequency     Frequency `json:"frequency"`
	PreferredHour int       `json:"preferred_hour"`
	DayOfWeek     int       `json:"day_of_week"` // 0=Sunday..6=Saturday, weekly only
	Retention     int       `json:"retention"`   // artifacts kept per account; 0 = unlimited
	Enabled       bool      `json:"enabled"`

	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run,omitzero"`
}

// LockRecord is the singleton processing lock. Validity is decided by the
// lock manager (liveness first, age ceiling as fallback), not by the store.
type LockRecord struct {
	HolderPID   int       `json:"holder_pid"`
	Hostname    string    `json:"hostname"`
	AcquiredAt  time.Time `json:"acquired_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// LastTouched returns the most recent liveness signal on the record.
func (l LockRecord) LastTouched() time.Time {
	if l.HeartbeatAt.After(l.AcquiredAt) {
		return l.HeartbeatAt
	}
	return l.AcquiredAt
}

// ManifestEntry records one produced backup artifact. Seq is assigned by the
// store on append and preserves insertion order for deterministic tie-breaks.
type ManifestEntry struct {
	Seq               int64     `json:"seq"`
	ScheduleID        string    `json:"schedule_id"`
	Account           string    `json:"account"`
	Filename          string    `json:"filename"`
	CompanionFilename string    `json:"companion_filename,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// AuditEntry records a scheduler-level event. Keep it compact and
// schema-stable.
type AuditEntry struct {
	At          time.Time `json:"at"`
	Event       string    `json:"event"`
	JobID       string    `json:"job_id,omitempty"`
	ScheduleID  string    `json:"schedule_id,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Account     string    `json:"account,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}
