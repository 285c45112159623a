package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScript_OpenSendClose(t *testing.T) {
	s := NewScript()
	ctx := context.Background()

	require.NoError(t, s.Open(ctx, "한길섬유"))
	require.NoError(t, s.Send(ctx, "한길섬유", "안녕하세요"))
	require.NoError(t, s.Close("한길섬유"))

	transcript := s.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, "한길섬유", transcript[0].Destination)
	assert.Equal(t, "안녕하세요", transcript[0].Text)
}

func TestScript_SendRequiresOpen(t *testing.T) {
	s := NewScript()
	err := s.Send(context.Background(), "ghost", "hi")
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestScript_ProgrammedFailures(t *testing.T) {
	s := NewScript()
	ctx := context.Background()

	s.FailOpen("closed-shop")
	require.Error(t, s.Open(ctx, "closed-shop"))

	s.FailSends("flaky", 1)
	require.NoError(t, s.Open(ctx, "flaky"))
	require.Error(t, s.Send(ctx, "flaky", "first"))
	require.NoError(t, s.Send(ctx, "flaky", "second"), "failure budget exhausted")

	s.FailClose("flaky")
	require.Error(t, s.Close("flaky"))
}

func TestScript_HonorsContextDeadline(t *testing.T) {
	s := NewScript()
	s.SetLatency(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Open(ctx, "slow")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBreaker_TripsAfterConsecutiveOpenFailures(t *testing.T) {
	inner := NewScript()
	inner.FailOpen("gone")
	b := WithBreaker(inner, 2, time.Minute)
	ctx := context.Background()

	// First failures pass through as ordinary errors.
	require.Error(t, b.Open(ctx, "gone"))
	require.Error(t, b.Open(ctx, "gone"))

	// Breaker now open: fail fast with ErrUnavailable.
	err := b.Open(ctx, "gone")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	inner := NewScript()
	b := WithBreaker(inner, 2, time.Minute)
	ctx := context.Background()

	inner.FailOpen("gone")
	require.Error(t, b.Open(ctx, "gone"))
	require.NoError(t, b.Open(ctx, "alive"))
	require.Error(t, b.Open(ctx, "gone"))

	// Still no trip: failures were not consecutive.
	err := b.Open(ctx, "alive")
	require.NoError(t, err)
}

func TestBreaker_SendAndClosePassThrough(t *testing.T) {
	inner := NewScript()
	b := WithBreaker(inner, 0, 0)
	ctx := context.Background()

	require.NoError(t, b.Open(ctx, "dest"))
	require.NoError(t, b.Send(ctx, "dest", "text"))
	require.NoError(t, b.Close("dest"))
	assert.Len(t, inner.Transcript(), 1)
}
