// Package hyp defines the synchronous call boundary between the dispatcher
// and the hypervisor's remote I/O system. The transport is opaque: requests
// are pulled with Ask, finished with Complete, and virtual interrupts are
// raised with Notify.
package hyp

import "errors"

// ErrNoTransport indicates an operation was attempted without a transport.
var ErrNoTransport = errors.New("hyp: no transport configured")

// Op is the operation carried by an I/O request.
type Op uint64

const (
	OpWrite  Op = 0x0
	OpRead   Op = 0x1
	OpAsk    Op = 0x2
	OpNotify Op = 0x3
)

func (op Op) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	case OpAsk:
		return "ask"
	case OpNotify:
		return "notify"
	}
	return "unknown"
}

// Request is one MMIO access trapped on behalf of a frontend VM. It is a
// value type: it moves by copy through queues and is never shared after it
// has been popped by a consumer.
type Request struct {
	DMID        uint32
	Addr        uint64
	Op          Op
	Value       uint64
	AccessWidth uint64
	RequestID   uint64
	Ret         int32
}

// Transport is the hypervisor call boundary. All calls are synchronous and
// non-cancellable from this layer's point of view.
type Transport interface {
	// Ask pulls the next pending I/O request scoped to a DM. The returned
	// count is the number of requests still pending at the boundary after
	// this pull.
	Ask(dmID uint32) (Request, int, error)

	// Complete signals completion of a request previously pulled with Ask,
	// carrying any mutated value (for reads) back to the frontend.
	Complete(req Request) error

	// Notify raises the DM's virtual interrupt in the frontend. One-way:
	// there is no request/response pairing.
	Notify(dmID uint32) error
}
