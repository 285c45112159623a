package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Message is one transmission recorded by the Script channel.
type Message struct {
	Destination string
	Text        string
	At          time.Time
}

// Script is an in-process Channel with programmable failures. It backs dry
// runs and tests: instead of driving the real chat application it logs and
// records every transmission, the way the original operator tool behaved
// outside its production environment.
//
// Script also watches the exclusivity contract: it counts concurrent
// calls, and MaxConcurrent lets tests assert that no two jobs ever touched
// the transport at the same time.
type Script struct {
	mu sync.Mutex

	unknown    map[string]bool // destinations that fail to resolve
	sendFails  map[string]int  // remaining send failures per destination
	closeFails map[string]bool
	latency    time.Duration

	open       map[string]bool
	transcript []Message

	inFlight      int
	maxConcurrent int
}

// NewScript creates a Script channel where every destination resolves and
// every send succeeds until told otherwise.
func NewScript() *Script {
	return &Script{
		unknown:    make(map[string]bool),
		sendFails:  make(map[string]int),
		closeFails: make(map[string]bool),
		open:       make(map[string]bool),
	}
}

// FailOpen makes Open fail for the destination.
func (s *Script) FailOpen(destination string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unknown[destination] = true
}

// FailSends makes the next n Send calls to the destination fail.
func (s *Script) FailSends(destination string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendFails[destination] = n
}

// FailClose makes Close fail for the destination.
func (s *Script) FailClose(destination string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFails[destination] = true
}

// SetLatency makes every call take at least d, for timeout tests.
func (s *Script) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

func (s *Script) enter() {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxConcurrent {
		s.maxConcurrent = s.inFlight
	}
	s.mu.Unlock()
}

func (s *Script) leave() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
}

func (s *Script) wait(ctx context.Context) error {
	s.mu.Lock()
	d := s.latency
	s.mu.Unlock()
	if d == 0 {
		// Still honor an already-expired context.
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Open resolves the destination.
func (s *Script) Open(ctx context.Context, destination string) error {
	s.enter()
	defer s.leave()

	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unknown[destination] {
		return fmt.Errorf("destination %q not found", destination)
	}
	s.open[destination] = true
	slog.Debug("script channel opened destination", "destination", destination)
	return nil
}

// Send transmits text into an open destination.
func (s *Script) Send(ctx context.Context, destination, text string) error {
	s.enter()
	defer s.leave()

	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open[destination] {
		return fmt.Errorf("%w: %s", ErrNotOpen, destination)
	}
	if n := s.sendFails[destination]; n > 0 {
		s.sendFails[destination] = n - 1
		return fmt.Errorf("transmit to %q failed", destination)
	}

	s.transcript = append(s.transcript, Message{Destination: destination, Text: text, At: time.Now()})
	slog.Info("script channel delivered message", "destination", destination, "chars", len(text))
	return nil
}

// Close closes the destination. Best-effort per the Channel contract.
func (s *Script) Close(destination string) error {
	s.enter()
	defer s.leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, destination)
	if s.closeFails[destination] {
		return fmt.Errorf("close %q failed", destination)
	}
	return nil
}

// Transcript returns the delivered messages in order.
func (s *Script) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// MaxConcurrent returns the highest number of simultaneous channel calls
// observed. The delivery contract keeps it at 1.
func (s *Script) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConcurrent
}
