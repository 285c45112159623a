package engine

import (
	"errors"
	"fmt"
)

// Classification categorizes why an item or job did not deliver. Every
// failure carries exactly one classification; the classification is also
// what decides retry shape, since fingerprints of failed jobs never enter
// the sent set and a later cycle may rebuild the same content.
type Classification string

const (
	// ClassMalformedRecord marks a source row dropped during load.
	ClassMalformedRecord Classification = "malformed-record"

	// ClassUngroupableItem marks an item whose grouping key is empty.
	// Excluded from dispatch, never silently discarded.
	ClassUngroupableItem Classification = "ungroupable-item"

	// ClassRenderFailure marks items whose outbound message could not be
	// rendered. Rendering is deterministic, so it is never retried until
	// the template or the data changes.
	ClassRenderFailure Classification = "render-failure"

	// ClassChannelUnreachable marks a destination that could not be
	// resolved or opened within the bounded wait.
	ClassChannelUnreachable Classification = "channel-unreachable"

	// ClassSendError marks a transmit failure that survived the retry
	// budget.
	ClassSendError Classification = "send-error"

	// ClassMaxRetries marks a job that hit its per-job attempt cap.
	ClassMaxRetries Classification = "max-retries-exceeded"

	// ClassInternalError wraps an unexpected fault caught at the delivery
	// state machine boundary, so one job's bug cannot abort the cycle.
	ClassInternalError Classification = "internal-error"
)

// FlushError reports that the ledger rejected the cycle's status batch.
// The engine holds the batch in memory and retries it at the start of the
// next cycle, before any new work.
type FlushError struct {
	Items int
	Err   error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("ledger write-back failed for %d items: %v", e.Items, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// IsFlushError reports whether err is a deferred write-back failure.
// Uses errors.As to handle wrapped errors.
func IsFlushError(err error) bool {
	var fe *FlushError
	return errors.As(err, &fe)
}
