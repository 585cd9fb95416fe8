package nfc

import (
	"log"
	"os"
	"sync"
)

// Dispatcher serializes work onto one execution context. The controller mutates
// state only from functions it dispatches.
type Dispatcher interface {
	Dispatch(fn func())
}

// MainQueue runs dispatched functions in FIFO order on a single goroutine.
type MainQueue struct {
	logger   *log.Logger
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	stopped  bool
	started  bool
	workerWg sync.WaitGroup
}

// NewMainQueue creates a queue. Call Start before dispatching. A nil logger
// logs to stderr.
func NewMainQueue(logger *log.Logger) *MainQueue {
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	q := &MainQueue{logger: logger}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the worker goroutine. Calling Start twice is a no-op.
func (q *MainQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true
	q.workerWg.Add(1)
	go q.worker()
}

// Stop drains pending work, stops the worker and waits for it to finish.
// Functions dispatched after Stop are dropped.
func (q *MainQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.workerWg.Wait()
}

// Dispatch enqueues fn. It never blocks on the running work.
func (q *MainQueue) Dispatch(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		q.logger.Println("Main queue stopped, dropping dispatched work")
		return
	}
	q.queue = append(q.queue, fn)
	q.cond.Signal()
}

func (q *MainQueue) worker() {
	defer q.workerWg.Done()
	for {
		q.mu.Lock()
		for len(q.queue) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if len(q.queue) == 0 && q.stopped {
			q.mu.Unlock()
			return
		}
		fn := q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.mu.Unlock()

		fn()
	}
}

// InlineDispatcher runs work on the calling goroutine. Work dispatched while
// another item is running, from the same or another goroutine, is queued and
// run by the goroutine already draining, after the current item returns.
type InlineDispatcher struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (d *InlineDispatcher) Dispatch(fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()
		next()
		d.mu.Lock()
	}
	d.running = false
	d.mu.Unlock()
}
