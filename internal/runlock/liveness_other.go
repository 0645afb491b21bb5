//go:build !unix

package runlock

import "stashd/internal/store"

// ProcessLiveness has no portable liveness primitive on this platform, so
// every check defers to the age-ceiling fallback.
type ProcessLiveness struct{}

func (ProcessLiveness) Check(rec store.LockRecord) LivenessResult {
	return LivenessUnknown
}
