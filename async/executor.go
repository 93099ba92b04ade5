package async

import (
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// ErrExecutorClosed is reported by Submit after Close.
var ErrExecutorClosed = errors.New("executor closed")

// Executor runs submitted tasks sequentially on a single goroutine. All
// state owned by an executor is mutated from that goroutine only, so tasks
// need no locking against each other.
type Executor struct {
	mux    sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewExecutor creates an executor and starts its loop.
func NewExecutor() *Executor {
	e := &Executor{done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mux)
	go e.run()
	return e
}

func (e *Executor) run() {
	defer close(e.done)
	for {
		e.mux.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mux.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue = e.queue[1:]
		e.mux.Unlock()

		fn()
	}
}

// Submit enqueues fn. The queue is unbounded: Submit never blocks on task
// execution, only fails after Close.
func (e *Executor) Submit(fn func()) error {
	e.mux.Lock()
	defer e.mux.Unlock()
	if e.closed {
		return ErrExecutorClosed
	}
	e.queue = append(e.queue, fn)
	e.cond.Signal()
	return nil
}

// Timer is a cancellable one-shot task handle.
type Timer struct {
	t *time.Timer
}

// Cancel stops the timer. A no-op if the task already ran or was submitted.
func (t *Timer) Cancel() {
	t.t.Stop()
}

// Schedule runs fn on the executor after d. If the executor closes before
// the delay elapses, fn is dropped.
func (e *Executor) Schedule(d time.Duration, fn func()) *Timer {
	return &Timer{t: time.AfterFunc(d, func() {
		_ = e.Submit(fn)
	})}
}

// Close stops accepting tasks, drains the already queued ones and waits for
// the loop to exit. Safe to call more than once, but must not be called
// from the executor's own goroutine.
func (e *Executor) Close() error {
	e.mux.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mux.Unlock()

	<-e.done
	return nil
}
