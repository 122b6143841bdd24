package commit

import (
	"sync"
)

// Executor runs submitted tasks asynchronously
type Executor interface {
	Execute(task func()) error
}

// SerialExecutor runs tasks one at a time in submission order on a single
// goroutine, giving each shard a strictly ordered commit stream.
type SerialExecutor struct {
	mu      sync.RWMutex
	tasks   chan func()
	stopped bool
	started bool
	wg      sync.WaitGroup
}

// NewSerialExecutor creates an executor with the given queue capacity
func NewSerialExecutor(queueSize int) *SerialExecutor {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &SerialExecutor{tasks: make(chan func(), queueSize)}
}

// Start launches the worker goroutine
func (e *SerialExecutor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.stopped {
		return
	}
	e.started = true
	e.wg.Add(1)
	go e.run()
}

// Stop rejects new tasks, runs the ones already queued, and waits for the
// worker to exit
func (e *SerialExecutor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.tasks)
	started := e.started
	e.mu.Unlock()

	if !started {
		for task := range e.tasks {
			task()
		}
		return
	}
	e.wg.Wait()
}

// Execute queues a task, blocking while the queue is full
func (e *SerialExecutor) Execute(task func()) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return ErrExecutorStopped
	}
	e.tasks <- task
	return nil
}

func (e *SerialExecutor) run() {
	defer e.wg.Done()
	for task := range e.tasks {
		task()
	}
}

// GoExecutor runs every task on its own goroutine
type GoExecutor struct{}

// Execute starts task in a new goroutine
func (GoExecutor) Execute(task func()) error {
	go task()
	return nil
}
