// Package bzpipe implements a streaming bzip2 stream encoder designed to be
// embedded in pipelined I/O: input arrives in chunks of arbitrary size, the
// encoder partitions it into blocks and appends compressed output to the
// caller's buffer without ever blocking.
package bzpipe

import (
	mathbits "math/bits"

	"github.com/go-faster/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/xuwei6688/bzpipe/internal/bits"
	"github.com/xuwei6688/bzpipe/internal/bzblock"
)

const (
	// BaseBlockSize is the unit of the block size multiplier.
	BaseBlockSize = 100_000

	// MinBlockSizeMultiplier and MaxBlockSizeMultiplier bound the block
	// size multiplier of the container format.
	MinBlockSizeMultiplier = 1
	MaxBlockSizeMultiplier = 9

	streamMagic = "BZh"

	// End of stream sentinel, split into two 24 bit fields on the wire.
	endOfStreamMagic1 = 0x177245
	endOfStreamMagic2 = 0x385090
)

// blockCompressor is the per-block collaborator driven by the encoder.
// The concrete implementation is bzblock.Compressor; tests inject fakes.
type blockCompressor interface {
	Write(p []byte) int
	Available() int
	Full() bool
	Empty() bool
	CRC() uint32
	Close(b *bits.Buffer) error
}

// Encoder compresses one unbounded byte stream into the bzip2 container
// format. It is not safe for concurrent use: exactly one goroutine (or
// executor) must own it, see Stream.
type Encoder struct {
	lg *zap.Logger

	state     State
	writer    bits.Writer
	blockSize int
	streamCRC uint32
	block     blockCompressor

	finished        atomic.Bool
	lateWriteLogged bool

	newBlock func(w *bits.Writer, blockSize int) blockCompressor
}

// Options for Encoder.
type Options struct {
	// BlockSizeMultiplier scales the block capacity in units of 100,000
	// bytes. Valid range is 1 to 9; larger blocks need more memory but
	// compress better. Defaults to 9.
	BlockSizeMultiplier int
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

func (o *Options) setDefaults() {
	if o.BlockSizeMultiplier == 0 {
		o.BlockSizeMultiplier = MaxBlockSizeMultiplier
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// New creates a stream encoder.
func New(opt Options) (*Encoder, error) {
	opt.setDefaults()
	if opt.BlockSizeMultiplier < MinBlockSizeMultiplier || opt.BlockSizeMultiplier > MaxBlockSizeMultiplier {
		return nil, errors.Errorf("block size multiplier %d (expected: %d-%d)",
			opt.BlockSizeMultiplier, MinBlockSizeMultiplier, MaxBlockSizeMultiplier)
	}
	return &Encoder{
		lg:        opt.Logger,
		state:     StateInit,
		blockSize: opt.BlockSizeMultiplier * BaseBlockSize,
		newBlock: func(w *bits.Writer, blockSize int) blockCompressor {
			return bzblock.New(w, blockSize)
		},
	}, nil
}

// combineCRC folds a finished block's checksum into the stream checksum.
// The rotate-then-xor rule is fixed by the container format and is order
// sensitive: blocks must be folded in finalization order.
func combineCRC(streamCRC, blockCRC uint32) uint32 {
	return mathbits.RotateLeft32(streamCRC, 1) ^ blockCRC
}

// Encode consumes p and appends any compressed output produced by it to
// out. It returns once p is fully consumed; output for a partially filled
// block stays pending until the block fills or Finish is called.
//
// After Finish the input is passed through to out unchanged.
func (e *Encoder) Encode(out *bits.Buffer, p []byte) error {
	if e.finished.Load() {
		if len(p) > 0 && !e.lateWriteLogged {
			// Kept byte-for-byte passthrough so a late writer cannot
			// corrupt the closed container, but make it visible.
			e.lg.Warn("Encode after finish, passing input through", zap.Int("bytes", len(p)))
			e.lateWriteLogged = true
		}
		out.PutRaw(p)
		return nil
	}
	// Zero-length chunks are a no-op: even the stream header waits for
	// the first byte of data.
	if len(p) == 0 {
		return nil
	}

	for {
		switch e.state {
		case StateInit:
			e.writeStreamHeader(out)
			e.state = StateInitBlock

		case StateInitBlock:
			e.block = e.newBlock(&e.writer, e.blockSize)
			e.state = StateWriteData

		case StateWriteData:
			if len(p) == 0 {
				return nil
			}
			n := len(p)
			if a := e.block.Available(); a < n {
				n = a
			}
			// The block may accept less than offered near run
			// boundaries, so fullness is polled after every feed.
			accepted := e.block.Write(p[:n])
			p = p[accepted:]
			if !e.block.Full() {
				if len(p) == 0 {
					return nil
				}
				continue
			}
			e.state = StateCloseBlock

		case StateCloseBlock:
			if err := e.closeBlock(out); err != nil {
				return errors.Wrap(err, "close block")
			}
			e.state = StateInitBlock

		default:
			return errors.Errorf("encode in state %s", e.state)
		}
	}
}

func (e *Encoder) writeStreamHeader(out *bits.Buffer) {
	out.PutString(streamMagic)
	out.PutByte(byte('0' + e.blockSize/BaseBlockSize))
}

// closeBlock finalizes the active block, if any content was written to it,
// and folds its checksum into the stream checksum.
func (e *Encoder) closeBlock(out *bits.Buffer) error {
	if e.block.Empty() {
		return nil
	}
	if err := e.block.Close(out); err != nil {
		return errors.Wrap(err, "block")
	}
	blockCRC := e.block.CRC()
	e.streamCRC = combineCRC(e.streamCRC, blockCRC)
	if ce := e.lg.Check(zap.DebugLevel, "Block closed"); ce != nil {
		ce.Write(
			zap.Uint32("block_crc", blockCRC),
			zap.Uint32("stream_crc", e.streamCRC),
		)
	}
	return nil
}

// Finished reports whether the end of the compressed stream was written.
func (e *Encoder) Finished() bool {
	return e.finished.Load()
}

// Finish finalizes any partial block and appends the stream footer to out:
// the end of stream sentinels, the combined checksum and zero padding up to
// the byte boundary. Idempotent: repeated calls append nothing.
func (e *Encoder) Finish(out *bits.Buffer) error {
	if !e.finished.CAS(false, true) {
		return nil
	}

	// A stream that was finished before any Encode call still gets a
	// well-formed container: header plus empty-stream footer.
	if e.state == StateInit {
		e.writeStreamHeader(out)
	}
	if e.block != nil {
		err := e.closeBlock(out)
		e.block = nil
		if err != nil {
			return errors.Wrap(err, "final block")
		}
	}
	e.state = StateFinished

	w := &e.writer
	w.WriteBits(out, 24, endOfStreamMagic1)
	w.WriteBits(out, 24, endOfStreamMagic2)
	w.WriteUInt32(out, e.streamCRC)
	w.Flush(out)

	if ce := e.lg.Check(zap.DebugLevel, "Stream finished"); ce != nil {
		ce.Write(zap.Uint32("stream_crc", e.streamCRC))
	}
	return nil
}
