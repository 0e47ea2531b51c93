package download

import "sync"

// LogQueue carries the log lines of one download from the worker to the poller.
// Put never blocks. Get blocks until a line is available or the queue is closed.
type LogQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	lines  []string
	closed bool
}

// NewLogQueue returns an open, empty queue.
func NewLogQueue() *LogQueue {
	q := &LogQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends a line. Lines put after Close are dropped.
func (q *LogQueue) Put(line string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.lines = append(q.lines, line)
	q.cond.Signal()
}

// Close marks the end of the stream. Lines already queued are still delivered.
func (q *LogQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Get returns the next line, or false once the queue is closed and empty.
func (q *LogQueue) Get() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.lines) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.lines) == 0 {
		return "", false
	}
	line := q.lines[0]
	q.lines = q.lines[1:]
	return line, true
}

// Poller drains a LogQueue into a sink on its own goroutine.
type Poller struct {
	queue *LogQueue
	sink  func(string)
}

// NewPoller creates a poller. A nil sink discards lines.
func NewPoller(queue *LogQueue, sink func(string)) *Poller {
	if sink == nil {
		sink = func(string) {}
	}
	return &Poller{queue: queue, sink: sink}
}

// Start begins draining. The returned channel is closed after the queue has
// been closed and every line has reached the sink.
func (p *Poller) Start() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			line, ok := p.queue.Get()
			if !ok {
				return
			}
			p.sink(line)
		}
	}()
	return done
}
