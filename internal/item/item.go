// Package item holds the authoritative in-memory view of order items for
// the current dispatch cycle, including the closed status state machine
// that governs every status change.
package item

import (
	"fmt"
)

// Status is the delivery status of one item. The set is closed; anything
// else read from the ledger is a malformed record, not a new state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// ParseStatus maps a raw ledger value onto the closed status set.
// An empty value means the row has never been dispatched.
func ParseStatus(raw string) (Status, error) {
	switch raw {
	case "", string(StatusPending):
		return StatusPending, nil
	case string(StatusInProgress):
		return StatusInProgress, nil
	case string(StatusSent):
		return StatusSent, nil
	case string(StatusFailed):
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

// legalTransitions is the explicit transition table. A self-transition is
// always legal and is a no-op, which is what makes outcome replay
// idempotent. `sent` is terminal: nothing moves an item out of it short of
// a fresh load from the ledger.
var legalTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusInProgress: true,
		StatusSent:       true, // dedup path: content already delivered in an earlier cycle
		StatusFailed:     true, // render failures never reach delivery
	},
	StatusInProgress: {
		StatusSent:   true,
		StatusFailed: true,
	},
	StatusFailed: {
		StatusInProgress: true, // re-attempt in a later cycle
		StatusSent:       true, // replayed delivered outcome after a partial reconcile
	},
	StatusSent: {},
}

// CanTransition reports whether from → to is allowed by the table.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return legalTransitions[from][to]
}

// TransitionError reports an attempted illegal status transition.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition for item %s: %s -> %s", e.ID, e.From, e.To)
}

// Failure records why an item's last dispatch attempt did not deliver.
// Class is one of the engine's error classifications.
type Failure struct {
	Class   string
	Message string
}

// Item is one order/shipment line tracked through the status lifecycle.
// Status is mutated only through Store.Transition.
type Item struct {
	ID          string
	Seller      string
	OrderNumber string
	Product     string
	Quantity    int
	Status      Status
	LastError   *Failure
	// Revision is the opaque ledger value used for staleness checks.
	Revision string
	// Fields is the full raw source row, available to template rendering.
	Fields map[string]string

	selected bool
}

// Selected reports whether the item is a candidate for the current
// dispatch cycle. Selection never implies a status change.
func (it *Item) Selected() bool {
	return it.selected
}
