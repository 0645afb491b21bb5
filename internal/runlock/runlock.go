// Package runlock guards the single-flight processing pass with a durable
// lock record. A lock is considered valid while its holder is verifiably
// alive, regardless of age: long backups must not get their lock stolen by
// an age-based timeout. Only when liveness cannot be determined does an
// age ceiling apply.
package runlock

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"stashd/internal/store"
	"stashd/pkg/logx"
)

// ErrContention means another valid holder owns the lock. Callers treat it
// as a normal "skipped, already running" outcome, not a failure.
var ErrContention = errors.New("run lock held by another process")

// LivenessResult classifies a holder process.
type LivenessResult int

const (
	// LivenessUnknown means no usable liveness primitive (e.g. the holder
	// lives on another host). The age ceiling decides.
	LivenessUnknown LivenessResult = iota
	LivenessAlive
	LivenessDead
)

// Liveness checks whether a lock holder process is alive. Injected so tests
// can simulate alive/dead/undeterminable holders.
type Liveness interface {
	Check(rec store.LockRecord) LivenessResult
}

// DefaultStaleCeiling is how old an unverifiable lock may grow before it is
// discarded. Verifiably-alive locks never hit this path.
const DefaultStaleCeiling = time.Hour

// Manager acquires, heartbeats and releases the run lock.
type Manager struct {
	st       store.Store
	liveness Liveness
	log      logx.Logger

	pid      int
	hostname string
	ceiling  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	onTouch func()
}

type Option func(*Manager)

// WithStaleCeiling overrides the unverifiable-lock age ceiling.
func WithStaleCeiling(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ceiling = d
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIdentity overrides the recorded holder identity (tests).
func WithIdentity(pid int, hostname string) Option {
	return func(m *Manager) {
		m.pid = pid
		m.hostname = hostname
	}
}

func New(st store.Store, liveness Liveness, log logx.Logger, opts ...Option) *Manager {
	host, _ := os.Hostname()
	m := &Manager{
		st:       st,
		liveness: liveness,
		log:      log,
		pid:      os.Getpid(),
		hostname: host,
		ceiling:  DefaultStaleCeiling,
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.liveness == nil {
		m.liveness = ProcessLiveness{}
	}
	return m
}

// SetOnTouch installs a callback invoked after every successful heartbeat
// write. The daemon uses it to pet the systemd watchdog while a pass runs.
func (m *Manager) SetOnTouch(fn func()) {
	m.mu.Lock()
	m.onTouch = fn
	m.mu.Unlock()
}

// Acquire takes the lock or reports ErrContention.
//
// Decision order for an existing record:
//  1. Holder verifiably alive: contention, no matter how old the lock is.
//  2. Holder verifiably dead: orphaned lock, removed unconditionally.
//  3. Liveness unknown: provisionally valid until the age ceiling, then
//     discarded.
//
// The returned release func always clears the lock; callers must invoke it
// via defer so the lock is released even when the pass errors.
func (m *Manager) Acquire(ctx context.Context) (release func(), err error) {
	rec, err := m.st.ReadLock(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()

	if rec != nil {
		switch m.liveness.Check(*rec) {
		case LivenessAlive:
			return nil, ErrContention
		case LivenessDead:
			m.log.Warn("removing orphaned run lock",
				logx.Int("holder_pid", rec.HolderPID),
				logx.String("hostname", rec.Hostname),
				logx.Time("acquired_at", rec.AcquiredAt))
			if err := m.st.ClearLock(ctx); err != nil {
				return nil, err
			}
		case LivenessUnknown:
			age := now.Sub(rec.LastTouched())
			if age <= m.ceiling {
				return nil, ErrContention
			}
			m.log.Warn("discarding unverifiable stale run lock",
				logx.Int("holder_pid", rec.HolderPID),
				logx.String("hostname", rec.Hostname),
				logx.Duration("age", age))
			if err := m.st.ClearLock(ctx); err != nil {
				return nil, err
			}
		}
	}

	// The claim is create-if-absent, so a competitor that slipped in after
	// the read above loses or wins atomically instead of being overwritten.
	err = m.st.ClaimLock(ctx, &store.LockRecord{
		HolderPID:   m.pid,
		Hostname:    m.hostname,
		AcquiredAt:  now,
		HeartbeatAt: now,
	})
	if errors.Is(err, store.ErrLockHeld) {
		return nil, ErrContention
	}
	if err != nil {
		return nil, err
	}

	return func() {
		// Release must not depend on the pass context still being alive.
		if err := m.st.ClearLock(context.Background()); err != nil {
			m.log.Error("run lock release failed", logx.Err(err))
		}
	}, nil
}

// Heartbeat records forward progress on the held lock. External monitors use
// it to distinguish "still working" from "stuck".
func (m *Manager) Heartbeat(ctx context.Context) {
	if err := m.st.TouchLock(ctx, m.now()); err != nil {
		m.log.Warn("lock heartbeat failed", logx.Err(err))
		return
	}
	m.mu.Lock()
	fn := m.onTouch
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}
