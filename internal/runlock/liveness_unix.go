//go:build unix

package runlock

import (
	"errors"
	"os"
	"syscall"

	"stashd/internal/store"
)

// ProcessLiveness checks the holder pid with signal 0. It can only vouch for
// processes on this host; records written elsewhere come back Unknown so the
// age-ceiling fallback decides.
type ProcessLiveness struct{}

func (ProcessLiveness) Check(rec store.LockRecord) LivenessResult {
	host, err := os.Hostname()
	if err != nil || rec.Hostname != host {
		return LivenessUnknown
	}
	if rec.HolderPID <= 0 {
		return LivenessDead
	}
	proc, err := os.FindProcess(rec.HolderPID)
	if err != nil {
		return LivenessDead
	}
	err = proc.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return LivenessAlive
	case errors.Is(err, syscall.EPERM):
		// Exists but owned by someone else.
		return LivenessAlive
	case errors.Is(err, syscall.ESRCH), errors.Is(err, os.ErrProcessDone):
		return LivenessDead
	default:
		return LivenessUnknown
	}
}
