// Package store persists stashd's durable records: job collections
// (queued/running/completed), schedules, cancellation markers, the run lock,
// the per-destination manifest ledgers, and the audit trail.
//
// It currently supports:
//   - "file": one JSON document per record, atomic-rename moves (default)
//   - "sqlite": single database file, transactional moves
package store
