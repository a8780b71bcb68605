// Package sendqueue implements the bounded producer/consumer queue that
// decouples receivers (producers) from the sender pool (consumers).
package sendqueue

import (
	"sync"

	"github.com/dritz/meshy/internal/connection"
	"github.com/dritz/meshy/internal/wire"
)

// Capacity is the maximum number of resident entries.
const Capacity = 100

type entry struct {
	packet wire.Packet
	origin *connection.Conn
}

// Queue is a fixed-capacity circular buffer guarded by a mutex and two
// condition variables, a direct rendition of the original's bounded
// producer/consumer ring rather than a channel, so the blocking-above/below
// capacity contract is explicit rather than hidden inside a channel's
// internal buffer.
type Queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	buf        [Capacity]entry
	readIdx    int
	writeIdx   int
	size       int
}

// New builds an empty send queue.
func New() *Queue {
	q := &Queue{}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Add enqueues (pkt, origin), taking a reference on origin (if non-nil) on
// behalf of the queue slot. pkt is a value type, so it is already an independent copy;
// the caller's own copy is untouched. Blocks while the queue is full.
func (q *Queue) Add(pkt wire.Packet, origin *connection.Conn) {
	q.mu.Lock()
	for q.size == Capacity {
		q.notFull.Wait()
	}

	if origin != nil {
		origin.Own()
	}
	q.buf[q.writeIdx] = entry{packet: pkt, origin: origin}
	q.writeIdx = (q.writeIdx + 1) % Capacity
	q.size++

	q.mu.Unlock()
	q.notEmpty.Signal()
}

// Get blocks until an entry is available, then removes and returns it.
// Ownership of both the packet and the origin reference transfers to the
// caller.
func (q *Queue) Get() (wire.Packet, *connection.Conn) {
	q.mu.Lock()
	for q.size == 0 {
		q.notEmpty.Wait()
	}

	e := q.buf[q.readIdx]
	q.buf[q.readIdx] = entry{}
	q.readIdx = (q.readIdx + 1) % Capacity
	q.size--

	q.mu.Unlock()
	q.notFull.Signal()

	return e.packet, e.origin
}

// Len reports the current number of resident entries, for metrics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
