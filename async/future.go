// Package async provides the completion and executor primitives the stream
// encoder's shutdown protocol is built on: write-once futures, a
// single-goroutine task loop and cancellable one-shot timers.
package async

import (
	"context"
	"sync"
)

// Future is the read side of an asynchronous completion. It settles exactly
// once, with a nil or non-nil error.
type Future struct {
	mux       sync.Mutex
	settled   bool
	err       error
	done      chan struct{}
	callbacks []func(error)
}

// Done is closed when the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether the future has settled.
func (f *Future) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the settled result. Valid only after the future settled;
// a pending future reports nil.
func (f *Future) Err() error {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.err
}

// Wait blocks until the future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnDone registers fn to run when the future settles. If it already has,
// fn runs immediately on the calling goroutine; otherwise it runs on the
// goroutine that settles the future.
func (f *Future) OnDone(fn func(err error)) {
	f.mux.Lock()
	if f.settled {
		err := f.err
		f.mux.Unlock()
		fn(err)
		return
	}
	f.callbacks = append(f.callbacks, fn)
	f.mux.Unlock()
}

// Promise is the write side of a Future.
type Promise struct {
	fut *Future
}

// NewPromise creates an unsettled promise.
func NewPromise() *Promise {
	return &Promise{fut: &Future{done: make(chan struct{})}}
}

// Future returns the read side.
func (p *Promise) Future() *Future {
	return p.fut
}

// Resolve settles the promise. Only the first call wins; later calls are
// no-ops and report false.
func (p *Promise) Resolve(err error) bool {
	f := p.fut
	f.mux.Lock()
	if f.settled {
		f.mux.Unlock()
		return false
	}
	f.settled = true
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mux.Unlock()

	for _, fn := range callbacks {
		fn(err)
	}
	return true
}

// Resolved returns an already settled future.
func Resolved(err error) *Future {
	p := NewPromise()
	p.Resolve(err)
	return p.Future()
}

// Cascade settles p with the outcome of f once f settles.
func Cascade(f *Future, p *Promise) {
	f.OnDone(func(err error) {
		p.Resolve(err)
	})
}
