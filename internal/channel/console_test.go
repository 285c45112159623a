package channel

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsole_WritesFramedBlocks(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	ctx := context.Background()

	require.NoError(t, c.Open(ctx, "alpha-room"))
	require.NoError(t, c.Send(ctx, "alpha-room", "hello"))
	require.NoError(t, c.Close("alpha-room"))

	out := buf.String()
	assert.Contains(t, out, "alpha-room")
	assert.Contains(t, out, "hello")
}

func TestConsole_EnforcesOpenProtocol(t *testing.T) {
	c := NewConsole(&bytes.Buffer{})
	err := c.Send(context.Background(), "never-opened", "hi")
	require.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, c.Open(context.Background(), "room"))
	require.NoError(t, c.Close("room"))
	err = c.Send(context.Background(), "room", "hi")
	require.ErrorIs(t, err, ErrNotOpen)
}
