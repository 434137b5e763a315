package runtime

import (
	"sync"
	"time"
)

// DequeueResult reports how a Dequeue call returned. ShutDown is distinct
// from TimedOut: a timed-out caller may retry, a shut-down caller must stop.
type DequeueResult int

const (
	Delivered DequeueResult = iota
	TimedOut
	ShutDown
)

// Infinite makes Dequeue block until a value arrives or the queue shuts down.
const Infinite time.Duration = -1

// SignalQueue is a shutdown-aware FIFO hand-off between producers on
// arbitrary goroutines and a blocking consumer. Enqueue never blocks;
// Dequeue blocks up to a timeout. Once shut down, every blocked and future
// Dequeue returns ShutDown immediately and Enqueue becomes a no-op.
type SignalQueue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []T
	closed bool

	outCh chan T // dispatcher hands values to consumers here
	done  chan struct{}
}

func NewSignalQueue[T any]() *SignalQueue[T] {
	q := &SignalQueue[T]{
		outCh: make(chan T),
		done:  make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.dispatch()
	return q
}

// Enqueue appends to the in-memory queue and wakes the dispatcher.
// It has no effect after Shutdown.
func (q *SignalQueue[T]) Enqueue(v T) {
	q.mu.Lock()
	if !q.closed {
		q.queue = append(q.queue, v)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// Dequeue waits up to timeout for a value. A negative timeout (Infinite)
// waits forever. Values still queued at shutdown are discarded.
func (q *SignalQueue[T]) Dequeue(timeout time.Duration) (T, DequeueResult) {
	var zero T

	// Shutdown wins over anything still in flight.
	select {
	case <-q.done:
		return zero, ShutDown
	default:
	}

	if timeout < 0 {
		select {
		case v := <-q.outCh:
			return v, Delivered
		case <-q.done:
			return zero, ShutDown
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-q.outCh:
		return v, Delivered
	case <-q.done:
		return zero, ShutDown
	case <-timer.C:
		return zero, TimedOut
	}
}

// Shutdown is idempotent. It wakes every blocked Dequeue and stops the
// dispatcher; queued values are dropped.
func (q *SignalQueue[T]) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.queue = nil
	q.cond.Broadcast()
	q.mu.Unlock()
	close(q.done)
}

func (q *SignalQueue[T]) dispatch() {
	for {
		q.mu.Lock()
		for !q.closed && len(q.queue) == 0 {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		v := q.queue[0]
		// pop
		copy(q.queue, q.queue[1:])
		q.queue = q.queue[:len(q.queue)-1]
		q.mu.Unlock()

		select {
		case q.outCh <- v:
		case <-q.done:
			return
		}
	}
}
