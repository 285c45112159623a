// Package ledger defines the boundary to the persistent record store: the
// engine reads raw order records from it and writes batched status updates
// back. The storage format behind the interface is not the engine's
// concern; the SQLite implementation in this package is one backend.
package ledger

import "context"

// Record is one raw row from the source, a loose field-name to value
// mapping. Rows are heterogeneous: optional fields may be missing and
// unknown fields are carried through untouched.
type Record map[string]string

// StatusUpdate is the new state for a single item after a dispatch cycle.
type StatusUpdate struct {
	Status string
	Error  string
}

// StatusBatch maps item identifiers to their new status. The reconciler
// produces exactly one batch per cycle so the ledger receives one bounded
// write call instead of one call per item.
type StatusBatch map[string]StatusUpdate

// Ledger is the persistent record/status store.
//
// WriteStatusBatch must be idempotent: replaying the same batch after a
// crash yields the same stored state. SentFingerprints and AddFingerprints
// persist the delivered-content set across process restarts.
type Ledger interface {
	ReadRecords(ctx context.Context) ([]Record, error)
	WriteStatusBatch(ctx context.Context, batch StatusBatch) error
	SentFingerprints(ctx context.Context) ([]string, error)
	AddFingerprints(ctx context.Context, fps []string) error
}
