package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swatchline/dispatch/internal/channel"
)

func testJob() *Job {
	return &Job{
		ID:          "job-1",
		Seller:      "alpha textile",
		Destination: "alpha-room",
		Message:     "hello",
		Fingerprint: "fp-1",
		ItemIDs:     []string{"a1", "a2"},
	}
}

func quietDeliverer(ch channel.Channel, cfg DeliveryConfig) *Deliverer {
	d := NewDeliverer(ch, cfg)
	d.sleep = func(time.Duration) {}
	return d
}

func TestDeliver_HappyPath(t *testing.T) {
	script := channel.NewScript()
	d := quietDeliverer(script, DeliveryConfig{})

	job := testJob()
	out := d.Deliver(context.Background(), job)

	assert.True(t, out.Delivered)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, StateDone, job.State())
	assert.Equal(t, []string{"a1", "a2"}, out.ItemIDs)

	transcript := script.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, "alpha-room", transcript[0].Destination)
	assert.Equal(t, "hello", transcript[0].Text)
}

func TestDeliver_OpenFailure(t *testing.T) {
	script := channel.NewScript()
	script.FailOpen("alpha-room")
	d := quietDeliverer(script, DeliveryConfig{})

	job := testJob()
	out := d.Deliver(context.Background(), job)

	assert.False(t, out.Delivered)
	assert.Equal(t, ClassChannelUnreachable, out.Class)
	assert.Equal(t, StateFailed, job.State())
	assert.Zero(t, out.Attempts, "nothing was transmitted")
	assert.Empty(t, script.Transcript())
}

func TestDeliver_SendRetrySucceeds(t *testing.T) {
	script := channel.NewScript()
	script.FailSends("alpha-room", 1)
	d := quietDeliverer(script, DeliveryConfig{})

	job := testJob()
	out := d.Deliver(context.Background(), job)

	assert.True(t, out.Delivered)
	assert.Equal(t, 2, out.Attempts, "one failure, one retry that succeeded")
	require.Len(t, script.Transcript(), 1)
}

func TestDeliver_SendRetriesExhausted(t *testing.T) {
	script := channel.NewScript()
	script.FailSends("alpha-room", 10)
	d := quietDeliverer(script, DeliveryConfig{})

	job := testJob()
	out := d.Deliver(context.Background(), job)

	assert.False(t, out.Delivered)
	assert.Equal(t, ClassSendError, out.Class)
	assert.Equal(t, 2, out.Attempts)
	assert.Empty(t, script.Transcript())
}

func TestDeliver_AttemptCap(t *testing.T) {
	script := channel.NewScript()
	script.FailSends("alpha-room", 10)
	d := quietDeliverer(script, DeliveryConfig{SendRetries: 10, MaxAttempts: 2})

	job := testJob()
	out := d.Deliver(context.Background(), job)

	assert.False(t, out.Delivered)
	assert.Equal(t, ClassMaxRetries, out.Class)
	assert.Equal(t, 2, out.Attempts)
}

func TestDeliver_CloseFailureStillDelivered(t *testing.T) {
	script := channel.NewScript()
	script.FailClose("alpha-room")
	d := quietDeliverer(script, DeliveryConfig{})

	job := testJob()
	out := d.Deliver(context.Background(), job)

	assert.True(t, out.Delivered, "close trouble must not downgrade a delivered job")
	assert.Equal(t, StateDone, job.State())
	require.Len(t, script.Transcript(), 1)
}

// panicChannel blows up on Send to exercise the recovery boundary.
type panicChannel struct{ channel.Channel }

func (p panicChannel) Send(context.Context, string, string) error {
	panic("transport bug")
}

func TestDeliver_PanicBecomesInternalError(t *testing.T) {
	d := quietDeliverer(panicChannel{channel.NewScript()}, DeliveryConfig{})

	job := testJob()
	out := d.Deliver(context.Background(), job)

	assert.False(t, out.Delivered)
	assert.Equal(t, ClassInternalError, out.Class)
	assert.Contains(t, out.Reason, "transport bug")
	assert.Equal(t, StateFailed, job.State())
}

func TestDeliver_IgnoresParentCancellationMidJob(t *testing.T) {
	script := channel.NewScript()
	d := quietDeliverer(script, DeliveryConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled; the job still runs to completion

	out := d.Deliver(ctx, testJob())
	assert.True(t, out.Delivered)
	require.Len(t, script.Transcript(), 1)
}
