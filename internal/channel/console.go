package channel

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Console is a Channel that writes messages to an io.Writer, one framed
// block per transmission. It is the CLI's stand-in transport when no chat
// application is wired up: the operator reads the blocks and relays them.
// It enforces the same open-before-send protocol as a real transport so
// the engine is exercised honestly.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	open map[string]bool
}

// NewConsole creates a console channel writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, open: make(map[string]bool)}
}

// Open marks the destination open.
func (c *Console) Open(ctx context.Context, destination string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open[destination] = true
	return nil
}

// Send writes the message block.
func (c *Console) Send(ctx context.Context, destination, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open[destination] {
		return fmt.Errorf("%w: %s", ErrNotOpen, destination)
	}
	_, err := fmt.Fprintf(c.w, "──── %s ────\n%s\n────\n", destination, text)
	if err != nil {
		return fmt.Errorf("write message for %q: %w", destination, err)
	}
	return nil
}

// Close marks the destination closed.
func (c *Console) Close(destination string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.open, destination)
	return nil
}
