package bzpipe

import (
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xuwei6688/bzpipe/async"
	"github.com/xuwei6688/bzpipe/internal/bits"
)

// DefaultCloseTimeout bounds how long Close waits for the footer write
// before the sink is closed forcibly.
const DefaultCloseTimeout = 10 * time.Second

// Stream binds an Encoder to a Sink on a single-goroutine executor. All
// encoder state is touched on that executor only; Write, Finish and Close
// may be called from any goroutine and marshal themselves onto it.
type Stream struct {
	lg   *zap.Logger
	enc  *Encoder
	sink Sink

	loop    *async.Executor
	ownLoop bool

	closeTimeout time.Duration

	// Owned by the loop goroutine.
	buf       bits.Buffer
	finishFut *async.Future

	closeOnce    sync.Once
	closePromise *async.Promise

	sinkCloseOnce sync.Once
	sinkCloseFut  *async.Future
}

// StreamOptions for NewStream.
type StreamOptions struct {
	// BlockSizeMultiplier is passed to the encoder, see Options.
	BlockSizeMultiplier int
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
	// CloseTimeout is the forced-closure delay, DefaultCloseTimeout when
	// zero.
	CloseTimeout time.Duration
	// Executor optionally supplies the owning executor. When nil the
	// stream starts one of its own and shuts it down after Close.
	Executor *async.Executor
}

func (o *StreamOptions) setDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.CloseTimeout == 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
}

// NewStream creates a stream writing the encoded output to sink.
func NewStream(sink Sink, opt StreamOptions) (*Stream, error) {
	opt.setDefaults()
	enc, err := New(Options{
		BlockSizeMultiplier: opt.BlockSizeMultiplier,
		Logger:              opt.Logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encoder")
	}
	s := &Stream{
		lg:           opt.Logger,
		enc:          enc,
		sink:         sink,
		loop:         opt.Executor,
		closeTimeout: opt.CloseTimeout,
	}
	if s.loop == nil {
		s.loop = async.NewExecutor()
		s.ownLoop = true
	}
	return s, nil
}

// Write encodes p and forwards any produced output to the sink. The future
// settles once the sink write settles; chunks that only accumulate inside
// the current block settle immediately.
func (s *Stream) Write(p []byte) *async.Future {
	pr := async.NewPromise()
	// The caller may reuse p after Write returns.
	data := append([]byte(nil), p...)
	s.submit(pr, func() {
		s.buf.Reset()
		if err := s.enc.Encode(&s.buf, data); err != nil {
			pr.Resolve(errors.Wrap(err, "encode"))
			return
		}
		if s.buf.Len() == 0 {
			pr.Resolve(nil)
			return
		}
		out := append([]byte(nil), s.buf.Buf...)
		async.Cascade(s.sink.Write(out), pr)
	})
	return pr.Future()
}

// Finish finalizes the stream and writes the footer to the sink. Repeated
// calls settle with the first call's outcome; the footer is emitted once.
func (s *Stream) Finish() *async.Future {
	pr := async.NewPromise()
	s.submit(pr, func() {
		async.Cascade(s.finishOnLoop(), pr)
	})
	return pr.Future()
}

// finishOnLoop runs the finish protocol. Loop goroutine only.
func (s *Stream) finishOnLoop() *async.Future {
	if s.finishFut != nil {
		return s.finishFut
	}
	s.buf.Reset()
	if err := s.enc.Finish(&s.buf); err != nil {
		s.finishFut = async.Resolved(errors.Wrap(err, "finish"))
		return s.finishFut
	}
	out := append([]byte(nil), s.buf.Buf...)
	s.finishFut = s.sink.Write(out)
	return s.finishFut
}

// Close finishes the stream and closes the sink. If the footer write does
// not settle within the close timeout, the sink is closed forcibly; either
// way the sink closes exactly once and the returned future settles once.
//
// Safe to call from any goroutine; repeated calls return the same future.
func (s *Stream) Close() *async.Future {
	s.closeOnce.Do(func() {
		s.closePromise = async.NewPromise()
		pr := s.closePromise
		if err := s.loop.Submit(func() {
			f := s.finishOnLoop()
			if f.Resolved() {
				s.closeSink(f.Err(), pr)
				return
			}
			timer := s.loop.Schedule(s.closeTimeout, func() {
				s.lg.Warn("Footer write did not settle, closing sink forcibly",
					zap.Duration("timeout", s.closeTimeout))
				s.closeSink(nil, pr)
			})
			f.OnDone(func(err error) {
				timer.Cancel()
				s.closeSink(err, pr)
			})
		}); err != nil {
			pr.Resolve(errors.Wrap(err, "submit"))
		}
		if s.ownLoop {
			pr.Future().OnDone(func(error) {
				// Off the loop: resolution may happen on a loop task.
				go func() { _ = s.loop.Close() }()
			})
		}
	})
	return s.closePromise.Future()
}

// closeSink closes the sink and settles pr with the finish error, if any,
// joined with the close error. Both the graceful and the forced path land
// here; the sink is closed at most once and the promise's first-settle-wins
// rule makes the second arrival a no-op.
func (s *Stream) closeSink(finishErr error, pr *async.Promise) {
	s.sinkCloseOnce.Do(func() {
		s.sinkCloseFut = s.sink.Close()
	})
	s.sinkCloseFut.OnDone(func(closeErr error) {
		pr.Resolve(multierr.Append(finishErr, closeErr))
	})
}

// submit runs fn on the loop, failing pr if the executor is closed.
func (s *Stream) submit(pr *async.Promise, fn func()) {
	if err := s.loop.Submit(fn); err != nil {
		pr.Resolve(errors.Wrap(err, "submit"))
	}
}
