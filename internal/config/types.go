package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage selects the persistence driver for jobs, schedules, the run
	// lock and the artifact manifests.
	Storage StorageConfig `json:"storage"`

	// Scheduler controls the daemon's trigger behavior and the pass-level
	// knobs (lock staleness ceiling, prune rate).
	Scheduler SchedulerConfig `json:"scheduler"`

	// Runner is the external backup/restore tool invoked once per account.
	Runner RunnerConfig `json:"runner"`

	// Destinations are the named storage targets jobs and schedules refer
	// to by id.
	Destinations map[string]DestinationConfig `json:"destinations"`

	// Owners maps a principal to the accounts it may operate on. Wildcard
	// schedules resolve against this on every pass.
	Owners map[string][]string `json:"owners"`

	Notify    *NotifyConfig    `json:"notify,omitempty"`
	StatusAPI *StatusAPIConfig `json:"status_api,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "/var/lib/stashd" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls when passes run and how a pass behaves.
//
// All durations are Go duration strings (e.g. "10s", "1m").
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Cron is the trigger spec for daemon mode. Default: "*/5 * * * *".
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// LockStaleCeiling is how old an unverifiable run lock may grow before
	// it is discarded. Verifiably-alive holders are never timed out.
	// Default: "1h".
	LockStaleCeiling string `json:"lock_stale_ceiling,omitempty"`

	// PruneRatePerSec caps artifact deletions per second. 0 = unlimited.
	PruneRatePerSec int `json:"prune_rate_per_sec,omitempty"`
}

// RunnerConfig describes the external per-account tool.
//
// Command supports the placeholders {type}, {account}, {destination} and
// {root}. The tool's last stdout line names the produced artifact.
type RunnerConfig struct {
	Command []string `json:"command"`
}

type DestinationConfig struct {
	Kind    string            `json:"kind"` // "localdir" is built in
	Root    string            `json:"root"`
	Enabled bool              `json:"enabled"`
	Options map[string]string `json:"options,omitempty"`
}

// NotifyConfig controls the async telegram notification pipeline. Omitting
// the section disables notifications entirely.
type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// StatusAPIConfig controls the read-only HTTP status server.
//
// Security note: prefer binding to localhost; the server is unauthenticated.
type StatusAPIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8320"

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
