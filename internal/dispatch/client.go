package dispatch

import (
	"log/slog"
	"sync"

	"github.com/baovirt/remio/internal/hyp"
	"github.com/baovirt/remio/internal/ioqueue"
	"github.com/baovirt/remio/internal/rangeset"
)

// Handler processes one I/O request on behalf of an in-process client. The
// request may be mutated (reads fill in Value); on nil return the dispatcher
// completes it through the hypervisor boundary.
type Handler func(c *IOClient, req *hyp.Request) error

// waitState is the reason Attach wakes up.
type waitState int

const (
	waitEmpty waitState = iota
	waitReady
	waitStopped
)

// IOClient is a named consumer of I/O requests for one device model. It owns
// the address ranges it serves and a FIFO of routed requests. Control
// clients are drained by an external caller through Attach/NextRequest;
// handler-bearing clients run their own worker goroutine.
type IOClient struct {
	name      string
	dm        *DeviceModel
	isControl bool
	handler   Handler

	rangesMu sync.RWMutex
	ranges   *rangeset.Set

	queue *ioqueue.Queue

	mu         sync.Mutex
	cond       *sync.Cond
	destroying bool
	stopped    bool

	// done is closed when the worker goroutine exits. Nil for control
	// clients, which have no worker.
	done chan struct{}
}

// newIOClient creates a client and registers it with the device model. A
// non-control client must carry a handler: it has no external consumer, so
// the handler-driven worker is its only way to make progress.
func newIOClient(dm *DeviceModel, handler Handler, isControl bool, name string) (*IOClient, error) {
	if handler == nil && !isControl {
		return nil, ErrInvalidConfig
	}

	c := &IOClient{
		name:      name,
		dm:        dm,
		isControl: isControl,
		handler:   handler,
		ranges:    rangeset.New(),
		queue:     ioqueue.New(),
	}
	c.cond = sync.NewCond(&c.mu)

	dm.clientsMu.Lock()
	dm.clients = append(dm.clients, c)
	if isControl {
		dm.control = c
	} else {
		dm.doorbell = c
	}
	dm.clientsMu.Unlock()

	if handler != nil {
		c.done = make(chan struct{})
		go c.run()
	}

	// Replay any requests already buffered at the boundary. This covers the
	// race where the backend attaches after the frontend has issued
	// accesses.
	if isControl {
		for {
			remaining, err := dm.dispatchOne()
			if err != nil || remaining <= 0 {
				break
			}
		}
	}

	return c, nil
}

// Name returns the client name.
func (c *IOClient) Name() string { return c.name }

func (c *IOClient) stateLocked() waitState {
	if c.destroying || (c.stopped && !c.isControl) {
		return waitStopped
	}
	if c.queue.Len() > 0 {
		return waitReady
	}
	return waitEmpty
}

// Attach suspends the caller until the client has pending requests, and
// returns ErrDetached once the client is destroying or stopped. Destruction
// takes precedence over pending data. This is the only blocking call exposed
// to an external consumer.
func (c *IOClient) Attach() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		switch c.stateLocked() {
		case waitStopped:
			return ErrDetached
		case waitReady:
			return nil
		}
		c.cond.Wait()
	}
}

// NextRequest pops the oldest routed request. The second return is false
// when the queue is empty.
func (c *IOClient) NextRequest() (hyp.Request, bool) {
	return c.queue.Pop()
}

// Pending returns the number of queued requests.
func (c *IOClient) Pending() int { return c.queue.Len() }

// push hands a request to the client and wakes its consumer. Called by the
// dispatcher with the DM client set held transiently.
func (c *IOClient) push(req hyp.Request) {
	c.mu.Lock()
	c.queue.Push(req)
	c.cond.Broadcast()
	c.mu.Unlock()
}

// stop raises the external stop signal for an in-process client.
func (c *IOClient) stop() {
	c.mu.Lock()
	c.stopped = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// markDestroying flips the client into the detached state and wakes any
// blocked Attach caller.
func (c *IOClient) markDestroying() {
	c.mu.Lock()
	c.destroying = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// RangeAdd registers [start, end] as owned by this client.
func (c *IOClient) RangeAdd(start, end uint64) error {
	c.rangesMu.Lock()
	defer c.rangesMu.Unlock()
	if err := c.ranges.Add(start, end); err != nil {
		return ErrInvalidConfig
	}
	return nil
}

// RangeDel removes [start, end] if registered.
func (c *IOClient) RangeDel(start, end uint64) {
	c.rangesMu.Lock()
	c.ranges.Remove(start, end)
	c.rangesMu.Unlock()
}

func (c *IOClient) ownsRange(addr, width uint64) bool {
	c.rangesMu.RLock()
	defer c.rangesMu.RUnlock()
	return c.ranges.Contains(addr, width)
}

func (c *IOClient) clearRanges() {
	c.rangesMu.Lock()
	c.ranges = rangeset.New()
	c.rangesMu.Unlock()
}

// run is the worker loop of a handler-bearing client: attach, drain the
// queue through the handler, complete each request at the boundary, repeat
// until detached. A handler failure abandons the current batch and
// re-attaches.
func (c *IOClient) run() {
	defer close(c.done)
	for {
		if err := c.Attach(); err != nil {
			return
		}
		for {
			req, ok := c.queue.Pop()
			if !ok {
				break
			}
			if err := c.handler(c, &req); err != nil {
				slog.Error("dispatch: client handler failed",
					"client", c.name, "addr", req.Addr, "error", err)
				break
			}
			if err := c.dm.transport.Complete(req); err != nil {
				slog.Error("dispatch: complete request failed",
					"client", c.name, "addr", req.Addr, "error", err)
			}
		}
	}
}
