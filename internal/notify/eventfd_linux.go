package notify

import (
	"fmt"
	"sync"

	"gvisor.dev/gvisor/pkg/eventfd"
)

// Eventfd is a Watchable backed by a host eventfd. A pump goroutine turns
// blocking reads into Signaled events; a read failure while the handle is
// still open means the peer released its side and raises Hangup.
type Eventfd struct {
	mu     sync.Mutex
	efd    eventfd.Eventfd
	closed bool
	hungup bool

	signaled chan struct{}
	hangup   chan struct{}
	pumpDone chan struct{}
}

// NewEventfd creates a fresh host eventfd and starts watching it.
func NewEventfd() (*Eventfd, error) {
	efd, err := eventfd.Create()
	if err != nil {
		return nil, fmt.Errorf("notify: create eventfd: %w", err)
	}
	return watchEventfd(efd), nil
}

// WrapEventfd adopts a descriptor handed in by the control surface. The
// caller gives up ownership; Close releases it.
func WrapEventfd(fd int) *Eventfd {
	return watchEventfd(eventfd.Wrap(fd))
}

func watchEventfd(efd eventfd.Eventfd) *Eventfd {
	e := &Eventfd{
		efd:      efd,
		signaled: make(chan struct{}, 1),
		hangup:   make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	go e.pump()
	return e
}

// pump reads the eventfd until the handle is closed locally or the
// descriptor fails. The descriptor stays open until the pump has exited,
// so a blocking read can never race the close.
func (e *Eventfd) pump() {
	defer close(e.pumpDone)
	for {
		err := e.efd.Wait()

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		if err != nil {
			e.hungup = true
			e.mu.Unlock()
			close(e.hangup)
			return
		}
		e.mu.Unlock()

		select {
		case e.signaled <- struct{}{}:
		default:
		}
	}
}

// Signal implements Notifier.
func (e *Eventfd) Signal() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.efd.Write(1)
}

// Close implements Notifier. The eventfd is written once to wake the pump,
// then released after the pump has stopped reading it.
func (e *Eventfd) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if !e.hungup {
		// Wake the pump out of its blocking read.
		e.efd.Write(1)
	}
	e.mu.Unlock()

	<-e.pumpDone
	return e.efd.Close()
}

// Signaled implements Watchable.
func (e *Eventfd) Signaled() <-chan struct{} { return e.signaled }

// Hangup implements Watchable.
func (e *Eventfd) Hangup() <-chan struct{} { return e.hangup }

var _ Watchable = (*Eventfd)(nil)
