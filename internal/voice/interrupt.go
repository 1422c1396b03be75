package voice

import (
	"context"
	"sync"
	"time"

	"github.com/yuxilabs/voicegate/internal/session"
)

// turnHandle is the cancellation surface of one in-flight turn.
type turnHandle struct {
	cancel context.CancelFunc
	done   <-chan struct{}
}

// InterruptCoordinator owns barge-in handling for one connection: it
// cancels the in-flight turn, waits a bounded grace period for it to
// unwind, clears the audio input buffer, and in end-to-end mode restarts
// the upstream session instead of a local pipeline.
type InterruptCoordinator struct {
	mu      sync.Mutex
	turn    *turnHandle
	restart func()
	grace   time.Duration
}

func NewInterruptCoordinator(grace time.Duration) *InterruptCoordinator {
	if grace <= 0 {
		grace = 500 * time.Millisecond
	}
	return &InterruptCoordinator{grace: grace}
}

// SetRestart arms the upstream-restart hook. Pass nil to disarm. The hook
// runs on the next Interrupt with an active turn.
func (c *InterruptCoordinator) SetRestart(fn func()) {
	c.mu.Lock()
	c.restart = fn
	c.mu.Unlock()
}

// Begin registers a new turn, implicitly interrupting any previous one so
// at most one turn is ever in flight. done must be closed when the turn
// goroutine exits.
func (c *InterruptCoordinator) Begin(buf *session.AudioBuffer, cancel context.CancelFunc, done <-chan struct{}) {
	c.Interrupt(buf)
	c.mu.Lock()
	c.turn = &turnHandle{cancel: cancel, done: done}
	c.mu.Unlock()
}

// Finish clears the registered turn if it is still the one that owns done.
func (c *InterruptCoordinator) Finish(done <-chan struct{}) {
	c.mu.Lock()
	if c.turn != nil && c.turn.done == done {
		c.turn = nil
	}
	c.mu.Unlock()
}

// Busy reports whether a turn is currently in flight.
func (c *InterruptCoordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn != nil
}

// Interrupt cancels the in-flight turn and clears the audio buffer.
// Invoked with no in-flight turn it is a no-op apart from the buffer
// clear. It never blocks past the grace period waiting for the cancelled
// turn to finish.
func (c *InterruptCoordinator) Interrupt(buf *session.AudioBuffer) bool {
	c.mu.Lock()
	turn := c.turn
	c.turn = nil
	restart := c.restart
	c.mu.Unlock()

	if buf != nil {
		buf.Reset()
	}
	if turn == nil {
		return false
	}

	turn.cancel()
	if turn.done != nil {
		timer := time.NewTimer(c.grace)
		select {
		case <-turn.done:
		case <-timer.C:
		}
		timer.Stop()
	}
	if restart != nil {
		restart()
	}
	return true
}
