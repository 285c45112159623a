package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/swatchline/dispatch/internal/channel"
)

// DeliveryConfig bounds the delivery state machine. Zero values take the
// defaults below.
type DeliveryConfig struct {
	// OpenTimeout bounds destination resolution. Default 10s.
	OpenTimeout time.Duration
	// SendTimeout bounds one transmission. Default 15s.
	SendTimeout time.Duration
	// SendRetries is how many extra transmissions a failed send gets
	// before the job fails with send-error. Default 1.
	SendRetries int
	// RetryBackoff is the pause before a retry transmission. Default 300ms.
	RetryBackoff time.Duration
	// MaxAttempts is the hard cap on transmissions per job, checked before
	// every send. Default 3. Set to 1 to forbid retries entirely.
	MaxAttempts int
}

func (c *DeliveryConfig) normalize() {
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.SendRetries <= 0 {
		c.SendRetries = 1
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 300 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
}

// Deliverer drives one job at a time through the channel. The exclusivity
// contract lives here: Deliver is never called concurrently, and a job
// that entered the state machine runs to termination on its own timeouts
// rather than being aborted mid-transmit by the cycle's context.
type Deliverer struct {
	channel channel.Channel
	cfg     DeliveryConfig

	sleep func(time.Duration)
	now   func() time.Time
}

// NewDeliverer wires a deliverer over the channel.
func NewDeliverer(ch channel.Channel, cfg DeliveryConfig) *Deliverer {
	cfg.normalize()
	return &Deliverer{
		channel: ch,
		cfg:     cfg,
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

// Deliver runs one job to termination and returns its outcome. Every job
// produces exactly one outcome; a panic anywhere inside the state machine
// is caught and converted into a failed outcome so the cycle survives.
func (d *Deliverer) Deliver(ctx context.Context, job *Job) (out Outcome) {
	out = Outcome{JobID: job.ID, Fingerprint: job.Fingerprint, ItemIDs: job.ItemIDs}

	defer func() {
		if r := recover(); r != nil {
			job.state = StateFailed
			out.Delivered = false
			out.Class = ClassInternalError
			out.Reason = fmt.Sprintf("panic during delivery: %v", r)
			out.Attempts = job.Attempts
			out.At = d.now()
			slog.Error("delivery panicked", "job", job.ID, "seller", job.Seller, "panic", r)
		}
	}()

	// Cancellation is honored between jobs, not mid-flight: once a job
	// starts it finishes on its own per-call timeouts.
	base := context.WithoutCancel(ctx)

	job.state = StateOpening
	if err := d.open(base, job.Destination); err != nil {
		return d.fail(job, out, ClassChannelUnreachable,
			fmt.Sprintf("open %q: %v", job.Destination, err), false)
	}

	job.state = StateSending
	for try := 0; ; try++ {
		if job.Attempts >= d.cfg.MaxAttempts {
			return d.fail(job, out, ClassMaxRetries,
				fmt.Sprintf("attempt cap %d reached", d.cfg.MaxAttempts), true)
		}
		job.Attempts++

		err := d.send(base, job.Destination, job.Message)
		if err == nil {
			break
		}
		if try >= d.cfg.SendRetries {
			return d.fail(job, out, ClassSendError,
				fmt.Sprintf("send to %q: %v", job.Destination, err), true)
		}
		slog.Warn("send failed, retrying", "job", job.ID, "seller", job.Seller,
			"attempt", job.Attempts, "err", err)
		d.sleep(d.cfg.RetryBackoff)
	}

	// The message is out. A close failure is logged and forgotten; it must
	// never downgrade a delivered job.
	job.state = StateClosing
	if err := d.channel.Close(job.Destination); err != nil {
		slog.Warn("close failed after delivery", "job", job.ID, "destination", job.Destination, "err", err)
	}

	job.state = StateDone
	out.Delivered = true
	out.Attempts = job.Attempts
	out.At = d.now()
	slog.Info("job delivered", "job", job.ID, "seller", job.Seller,
		"items", len(job.ItemIDs), "attempts", job.Attempts)
	return out
}

// fail terminates the job with a classification. When the destination was
// opened, it is closed best-effort on the way out.
func (d *Deliverer) fail(job *Job, out Outcome, class Classification, reason string, closeAfter bool) Outcome {
	if closeAfter {
		if err := d.channel.Close(job.Destination); err != nil {
			slog.Warn("close failed after delivery failure", "job", job.ID, "err", err)
		}
	}
	job.state = StateFailed
	out.Delivered = false
	out.Class = class
	out.Reason = reason
	out.Attempts = job.Attempts
	out.At = d.now()
	slog.Warn("job failed", "job", job.ID, "seller", job.Seller, "class", class, "reason", reason)
	return out
}

func (d *Deliverer) open(ctx context.Context, destination string) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.OpenTimeout)
	defer cancel()
	return d.channel.Open(ctx, destination)
}

func (d *Deliverer) send(ctx context.Context, destination, text string) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	return d.channel.Send(ctx, destination, text)
}
