package engine

import (
	"sync"

	"github.com/roach88/yardcam/internal/region"
)

// Observation is one raw occupancy reading from a camera worker, or with
// Reset set, a marker that restarts the region's debounce run.
type Observation struct {
	Camera   string
	Region   region.ID
	Occupied bool
	Reset    bool
}

// compactAt is the consumed prefix length after which the backing array is
// shifted down.
const compactAt = 256

// eventQueue is the unbounded FIFO between camera workers and the Run loop.
// Producers never block. The consumer waits on a 1-buffered signal channel
// that is closed by Close.
type eventQueue struct {
	mu     sync.Mutex
	buf    []Observation
	head   int
	peak   int
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		buf:    make([]Observation, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends o. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(o Observation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.buf = append(q.buf, o)
	if n := len(q.buf) - q.head; n > q.peak {
		q.peak = n
	}

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the oldest observation without blocking.
func (q *eventQueue) TryDequeue() (Observation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.buf) {
		return Observation{}, false
	}
	o := q.buf[q.head]
	q.buf[q.head] = Observation{}
	q.head++

	switch {
	case q.head == len(q.buf):
		q.buf = q.buf[:0]
		q.head = 0
	case q.head >= compactAt:
		n := copy(q.buf, q.buf[q.head:])
		clear(q.buf[n:])
		q.buf = q.buf[:n]
		q.head = 0
	}
	return o, true
}

// Wait returns the signal channel. A receive means the queue may be
// non-empty or has been closed; the caller re-checks with TryDequeue.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued observations.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf) - q.head
}

// Peak returns the largest Len seen so far.
func (q *eventQueue) Peak() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peak
}

// Close rejects further observations and wakes the consumer. Idempotent.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.signal)
	}
}

func (q *eventQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
