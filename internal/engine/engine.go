// Package engine declares the external collaborators the queue processor
// delegates to: the backup/restore execution tool, the storage transport,
// the account-access resolver and the audit sink. The core only ever sees
// these interfaces; concrete adapters live alongside them.
package engine

import (
	"context"
	"time"

	"stashd/internal/store"
)

// Destination is a named storage target for backup artifacts.
type Destination struct {
	ID      string
	Kind    string // "localdir" is built in
	Root    string
	Enabled bool
	Options map[string]string
}

// Operation describes one per-account unit of work handed to the Runner.
type Operation struct {
	Type        store.JobType
	Account     string
	Destination Destination
	Options     map[string]string
}

// Result is the Runner's per-account outcome. Artifact carries the produced
// backup filename (relative to the destination) so the caller can record it
// in the manifest; Companion names an optional secondary artifact (e.g. a
// database dump) pruned together with the primary one.
type Result struct {
	OK        bool
	Message   string
	Artifact  string
	Companion string
}

// Runner invokes the opaque, long-running backup/restore tool for a single
// account. Called exactly once per account per job; the core never retries.
// The context is cancelled only on process shutdown, not on job
// cancellation: an in-flight unit always runs to completion.
type Runner interface {
	RunAccount(ctx context.Context, op Operation) (Result, error)
}

// Object is one stored artifact as seen by the Transport.
type Object struct {
	Name       string
	Size       int64
	ModifiedAt time.Time
}

// Transport moves bytes against a destination. The scheduler core uses only
// Delete (pruning) and List (enumeration).
type Transport interface {
	Delete(ctx context.Context, path string, dest Destination) error
	List(ctx context.Context, prefix string, dest Destination) ([]Object, error)
}

// AccessResolver returns the accounts a principal may operate on. Wildcard
// schedules consult it freshly on every pass so newly created accounts are
// picked up automatically; implementations must not cache across passes.
type AccessResolver interface {
	AccessibleAccounts(ctx context.Context, owner string) ([]string, error)
}

// AuditSink receives fire-and-forget lifecycle events. Implementations must
// never block the pass; recording failures are swallowed.
type AuditSink interface {
	Record(ctx context.Context, e store.AuditEntry)
}
