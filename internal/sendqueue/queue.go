// Package sendqueue implements the bounded FIFO send queue and its
// background worker: batches are encoded and framed off the caller's
// goroutine, one dedicated worker per socket instance.
package sendqueue

import (
	"net"
	"sync"
	"time"

	"github.com/minor-way/perfectsock/internal/batch"
)

// Entry is one pending outbound message, queued by SendTo and consumed by
// the worker.
type Entry struct {
	Data        []byte
	Addr        net.Addr
	Params      batch.Params
	EnqueueTime time.Time
}

// Queue is a bounded FIFO of Entry values backed by a buffered channel.
type Queue struct {
	ch chan Entry
}

// NewQueue returns a Queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 200
	}
	return &Queue{ch: make(chan Entry, capacity)}
}

// errFull is the type of ErrFull, signalling a full non-blocking enqueue.
type errFull struct{}

func (errFull) Error() string { return "sendqueue: queue full" }

// ErrFull is returned by TryEnqueue when the queue has no free capacity.
var ErrFull error = errFull{}

// TryEnqueue attempts a non-blocking enqueue, returning ErrFull if the
// queue is at capacity.
func (q *Queue) TryEnqueue(e Entry) error {
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrFull
	}
}

// Enqueue blocks until space is available.
func (q *Queue) Enqueue(e Entry) {
	q.ch <- e
}

// Len reports the current (advisory) queue depth.
func (q *Queue) Len() int { return len(q.ch) }

// Close closes the underlying channel; no further Enqueue calls may be made.
func (q *Queue) Close() { close(q.ch) }

// BatchIDAllocator hands out 32-bit batch ids that wrap at 2^32, protected
// by a mutex so concurrent senders never hand out the same id twice.
type BatchIDAllocator struct {
	mu      sync.Mutex
	counter uint32
}

// Next returns the next batch id for this allocator.
func (a *BatchIDAllocator) Next() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counter++
	return a.counter
}
