package store

import (
	"time"

	"github.com/google/uuid"
)

// NewJobID returns a fresh job id: a UTC timestamp prefix for lexical
// queue ordering plus a uuid fragment so ids are never reused, even for
// jobs created within the same second.
func NewJobID(now time.Time) string {
	return now.UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
}
