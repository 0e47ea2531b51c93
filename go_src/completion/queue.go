package completion

import (
	"sync"
	"time"
)

// Status describes how a drain cycle ended.
type Status int

const (
	Started Status = iota
	Finished
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Started:
		return "started"
	case Finished:
		return "finished"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Queue collects the items produced for a single request until the producer
// marks it finished or the consumer gives up waiting.
// Push and Finish never block, so they are safe to call from the gateway event loop.
// A queue is drained once and then discarded.
type Queue[T any] struct {
	mu       sync.Mutex
	pending  []T
	finished bool
	wake     chan struct{}
	status   Status
}

// New returns an empty queue in the Started state.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		wake:   make(chan struct{}, 1),
		status: Started,
	}
}

// Push appends an item. Items pushed after Finish are dropped.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	if q.finished {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, item)
	q.mu.Unlock()
	q.signal()
}

// Finish pushes the terminal sentinel.
func (q *Queue[T]) Finish() {
	q.mu.Lock()
	q.finished = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Drain blocks until the sentinel arrives or no item arrives for timeout.
// The timeout applies to each pull, so a steady stream of items keeps the drain alive.
// Whatever was received is returned in arrival order in both cases.
func (q *Queue[T]) Drain(timeout time.Duration) ([]T, Status) {
	var received []T

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		finished := q.finished
		q.mu.Unlock()

		received = append(received, batch...)
		if finished {
			q.setStatus(Finished)
			return received, Finished
		}
		if len(batch) > 0 {
			timer.Reset(timeout)
		}

		select {
		case <-q.wake:
		case <-timer.C:
			// Items may have landed between the last check and the deadline.
			q.mu.Lock()
			received = append(received, q.pending...)
			q.pending = nil
			finished = q.finished
			q.mu.Unlock()
			if finished {
				q.setStatus(Finished)
				return received, Finished
			}
			q.setStatus(TimedOut)
			return received, TimedOut
		}
	}
}

func (q *Queue[T]) setStatus(s Status) {
	q.mu.Lock()
	q.status = s
	q.mu.Unlock()
}

// Status reports the outcome of the last drain.
func (q *Queue[T]) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// TimedOut reports whether the last drain gave up waiting.
func (q *Queue[T]) TimedOut() bool {
	return q.Status() == TimedOut
}
