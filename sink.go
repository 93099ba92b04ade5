package bzpipe

import (
	"io"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xuwei6688/bzpipe/async"
)

// Sink is the owning resource the encoded stream is forwarded to. Writes
// settle asynchronously; the sink takes ownership of the passed slice.
type Sink interface {
	Write(p []byte) *async.Future
	Close() *async.Future
}

// WriterSink adapts an io.WriteCloser into a Sink. Writes are serialized on
// a dedicated loop so a stalled underlying writer never blocks the caller;
// Close acts out of band and, for a net.Conn-like target, unblocks an
// in-flight write.
type WriterSink struct {
	wc   io.WriteCloser
	loop *async.Executor

	closeOnce sync.Once
	closeFut  *async.Future
}

// NewWriterSink creates a sink over wc.
func NewWriterSink(wc io.WriteCloser) *WriterSink {
	return &WriterSink{
		wc:   wc,
		loop: async.NewExecutor(),
	}
}

// Write queues p for writing. The future settles when the underlying write
// returns.
func (s *WriterSink) Write(p []byte) *async.Future {
	pr := async.NewPromise()
	err := s.loop.Submit(func() {
		n, err := s.wc.Write(p)
		if err != nil {
			pr.Resolve(errors.Wrap(err, "write"))
			return
		}
		if n != len(p) {
			pr.Resolve(errors.Wrap(io.ErrShortWrite, "wrote less than expected"))
			return
		}
		pr.Resolve(nil)
	})
	if err != nil {
		pr.Resolve(errors.Wrap(err, "submit"))
	}
	return pr.Future()
}

// Close closes the underlying writer exactly once and settles with its
// result. Repeated calls return the same future.
func (s *WriterSink) Close() *async.Future {
	s.closeOnce.Do(func() {
		pr := async.NewPromise()
		s.closeFut = pr.Future()
		go func() {
			err := s.wc.Close()
			if err != nil {
				err = errors.Wrap(err, "close")
			}
			pr.Resolve(err)
			// Drain queued writes; they fail fast now that the
			// target is closed.
			_ = s.loop.Close()
		}()
	})
	return s.closeFut
}
