package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker wraps a Channel with a circuit breaker on the Open step. When a
// run of consecutive destination resolutions fails - the chat application
// is down, not one seller misnamed - further jobs fail fast with
// ErrUnavailable instead of each burning the full open timeout.
//
// Send and Close pass through: once a destination opened, the transport is
// evidently alive and the per-call timeout is protection enough.
type Breaker struct {
	inner Channel
	cb    *gobreaker.CircuitBreaker
}

// WithBreaker wraps inner. A zero threshold defaults to 3 consecutive
// open failures before the breaker trips; it half-opens after cooldown.
func WithBreaker(inner Channel, threshold uint32, cooldown time.Duration) *Breaker {
	if threshold == 0 {
		threshold = 3
	}
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "chat-channel",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("chat channel breaker state changed", "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Open resolves the destination through the breaker.
func (b *Breaker) Open(ctx context.Context, destination string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.Open(ctx, destination)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("%w: breaker open", ErrUnavailable)
	}
	return err
}

// Send transmits through the wrapped channel.
func (b *Breaker) Send(ctx context.Context, destination, text string) error {
	return b.inner.Send(ctx, destination, text)
}

// Close closes through the wrapped channel.
func (b *Breaker) Close(destination string) error {
	return b.inner.Close(destination)
}
