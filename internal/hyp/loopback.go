package hyp

import (
	"errors"
	"sync"
)

// ErrNoPending is returned by Loopback.Ask when the DM has no buffered
// requests. A real boundary reports this as a negative return code.
var ErrNoPending = errors.New("hyp: no pending request")

// Loopback is an in-memory Transport. It buffers injected requests per DM
// and records completions and notifies, which makes it usable both as a test
// double and as the self-drive backend of the demo daemon.
type Loopback struct {
	mu        sync.Mutex
	pending   map[uint32][]Request
	completed []Request
	notified  map[uint32]int
	onArrival func(dmID uint32)
}

// NewLoopback returns an empty loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{
		pending:  make(map[uint32][]Request),
		notified: make(map[uint32]int),
	}
}

// SetArrivalFunc installs a callback invoked (without locks held) every time
// a request is injected. Dispatcher triggers hook their kick here.
func (l *Loopback) SetArrivalFunc(fn func(dmID uint32)) {
	l.mu.Lock()
	l.onArrival = fn
	l.mu.Unlock()
}

// Inject buffers a request at the boundary, as if the frontend had trapped
// an MMIO access.
func (l *Loopback) Inject(req Request) {
	l.mu.Lock()
	l.pending[req.DMID] = append(l.pending[req.DMID], req)
	fn := l.onArrival
	l.mu.Unlock()
	if fn != nil {
		fn(req.DMID)
	}
}

// Ask implements Transport.
func (l *Loopback) Ask(dmID uint32) (Request, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.pending[dmID]
	if len(q) == 0 {
		return Request{}, 0, ErrNoPending
	}
	req := q[0]
	l.pending[dmID] = q[1:]
	return req, len(q) - 1, nil
}

// Complete implements Transport.
func (l *Loopback) Complete(req Request) error {
	l.mu.Lock()
	l.completed = append(l.completed, req)
	l.mu.Unlock()
	return nil
}

// Notify implements Transport.
func (l *Loopback) Notify(dmID uint32) error {
	l.mu.Lock()
	l.notified[dmID]++
	l.mu.Unlock()
	return nil
}

// Completed returns a copy of all completions recorded so far.
func (l *Loopback) Completed() []Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Request, len(l.completed))
	copy(out, l.completed)
	return out
}

// Notified returns how many notify calls were issued for a DM.
func (l *Loopback) Notified(dmID uint32) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notified[dmID]
}

// PendingLen returns the number of buffered requests for a DM.
func (l *Loopback) PendingLen(dmID uint32) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending[dmID])
}

var _ Transport = (*Loopback)(nil)
