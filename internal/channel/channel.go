// Package channel models the delivery transport: a stateful external chat
// application that can open a named destination, transmit text into it and
// close it again. The transport is exclusive - only one destination may be
// mid-open at a time - and offers no transactional guarantees, which is
// why the engine drives it one job at a time with bounded waits.
package channel

import (
	"context"
	"errors"
)

// ErrUnavailable marks the channel as not worth calling right now, e.g.
// the circuit breaker is open after repeated destination-resolution
// failures. The engine maps it to the channel-unreachable classification.
var ErrUnavailable = errors.New("chat channel unavailable")

// ErrNotOpen is returned by Send when the destination was never opened,
// a protocol violation by the caller rather than a transport fault.
var ErrNotOpen = errors.New("destination not open")

// Channel is the delivery transport contract.
//
// Open resolves and opens the named destination; Send transmits text into
// an open destination; Close is best-effort cleanup whose failure must not
// be treated as a delivery failure. All blocking calls take a context that
// carries the bounded wait - exceeding it is a failure, never a hang.
type Channel interface {
	Open(ctx context.Context, destination string) error
	Send(ctx context.Context, destination, text string) error
	Close(destination string) error
}
