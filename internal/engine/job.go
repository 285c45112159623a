package engine

import "time"

// JobState tracks a dispatch job through the delivery state machine.
//
// The legal path is Queued → Opening → Sending → Closing → Done, with any
// pre-Closing state able to drop to Failed. Closing never fails a job: the
// message is already out, and an untidy transport is not a delivery error.
type JobState int8

const (
	StateQueued JobState = iota
	StateOpening
	StateSending
	StateClosing
	StateDone
	StateFailed
)

var stateNames = map[JobState]string{
	StateQueued:  "queued",
	StateOpening: "opening",
	StateSending: "sending",
	StateClosing: "closing",
	StateDone:    "done",
	StateFailed:  "failed",
}

func (s JobState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Job is one outbound message bound to a destination, covering one or more
// items of a single seller. Jobs are built fresh each cycle and never
// persisted; the durable record of their outcome is the item status in the
// ledger plus the fingerprint of delivered content.
type Job struct {
	// ID is a per-cycle unique token for logs and reports.
	ID string

	// Seller is the display name the group was keyed on.
	Seller string

	// Destination is the resolved channel destination for the seller.
	Destination string

	// Message is the fully rendered outbound text.
	Message string

	// Fingerprint is the content digest of the member items. It enters
	// the sent set only after confirmed delivery.
	Fingerprint string

	// ItemIDs are the members covered by this message, sorted.
	ItemIDs []string

	// Attempts counts transmissions tried so far. Opening the destination
	// is not an attempt; only Send calls are.
	Attempts int

	CreatedAt time.Time

	state JobState
}

// State returns the job's current delivery state.
func (j *Job) State() JobState { return j.state }

// Outcome is the delivery verdict for one job. Every job handed to the
// deliverer produces exactly one outcome, delivered or not; reconciliation
// consumes outcomes in dispatch order.
type Outcome struct {
	JobID       string
	Fingerprint string
	ItemIDs     []string

	Delivered bool

	// Class and Reason are set only when Delivered is false.
	Class  Classification
	Reason string

	Attempts int
	At       time.Time
}
