// Package ioqueue provides the per-client FIFO of pending I/O requests.
// Push and Pop are safe to call concurrently; blocking for a non-empty queue
// is implemented by the client on top of this package.
package ioqueue

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/baovirt/remio/internal/hyp"
)

// Queue is a thread-safe FIFO of hyp.Request values.
type Queue struct {
	mu   sync.Mutex
	ring *queue.Queue
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{ring: queue.New()}
}

// Push appends a request to the tail.
func (q *Queue) Push(req hyp.Request) {
	q.mu.Lock()
	q.ring.Add(req)
	q.mu.Unlock()
}

// Pop removes and returns the head request. It never blocks; the second
// return is false when the queue is empty.
func (q *Queue) Pop() (hyp.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ring.Length() == 0 {
		return hyp.Request{}, false
	}
	return q.ring.Remove().(hyp.Request), true
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.Length()
}
