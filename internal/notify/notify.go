// Package notify abstracts the external notification primitives the
// dispatcher signals (doorbell) and watches (interrupt injection). On Linux
// hosts the handles are eventfds; the Channel implementation keeps the rest
// of the module host-independent and testable.
package notify

import (
	"errors"
	"sync"
)

// ErrClosed is returned when signaling a handle that has been closed.
var ErrClosed = errors.New("notify: handle closed")

// Notifier is the signal-only side of a notification handle, all the
// doorbell client needs.
type Notifier interface {
	Signal() error
	Close() error
}

// Watchable extends Notifier with the two conditions the interrupt server
// watches for. Signaled delivers coalesced edge events; Hangup is closed
// exactly once when the peer releases the handle.
type Watchable interface {
	Notifier
	Signaled() <-chan struct{}
	Hangup() <-chan struct{}
}

// Channel is an in-process Watchable backed by Go channels.
type Channel struct {
	mu       sync.Mutex
	closed   bool
	signaled chan struct{}
	hangup   chan struct{}
}

// NewChannel returns an open in-process notification handle.
func NewChannel() *Channel {
	return &Channel{
		signaled: make(chan struct{}, 1),
		hangup:   make(chan struct{}),
	}
}

// Signal implements Notifier. Signals are coalesced: signaling an
// already-signaled handle is a no-op, matching eventfd counter semantics
// from the watcher's point of view.
func (c *Channel) Signal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.signaled <- struct{}{}:
	default:
	}
	return nil
}

// Close implements Notifier and raises Hangup for any watcher.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.hangup)
	return nil
}

// Signaled implements Watchable.
func (c *Channel) Signaled() <-chan struct{} { return c.signaled }

// Hangup implements Watchable.
func (c *Channel) Hangup() <-chan struct{} { return c.hangup }

var _ Watchable = (*Channel)(nil)
