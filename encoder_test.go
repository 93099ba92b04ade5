package bzpipe

import (
	"bytes"
	stdbzip2 "compress/bzip2"
	"io"
	"math/rand"
	"os"
	"testing"

	dsbzip2 "github.com/dsnet/compress/bzip2"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"

	"github.com/xuwei6688/bzpipe/internal/bits"
	"github.com/xuwei6688/bzpipe/internal/gold"
)

func TestMain(m *testing.M) {
	// Explicitly registering flags for golden files.
	gold.Init()

	os.Exit(m.Run())
}

func TestNew(t *testing.T) {
	for m := MinBlockSizeMultiplier; m <= MaxBlockSizeMultiplier; m++ {
		e, err := New(Options{BlockSizeMultiplier: m})
		require.NoError(t, err)
		require.Equal(t, m*BaseBlockSize, e.blockSize)
	}
	for _, m := range []int{-1, 10, 100} {
		_, err := New(Options{BlockSizeMultiplier: m})
		require.Error(t, err, "multiplier %d", m)
	}

	// Zero value selects the maximum block size.
	e, err := New(Options{})
	require.NoError(t, err)
	require.Equal(t, MaxBlockSizeMultiplier*BaseBlockSize, e.blockSize)
}

func TestCombineCRC(t *testing.T) {
	require.Equal(t, uint32(1), combineCRC(0x80000000, 0), "rotate wraps")
	require.Equal(t, uint32(0xff), combineCRC(0, 0xff))

	// Order sensitivity: folding [a, b] differs from [b, a].
	a, b := uint32(0xdeadbeef), uint32(0x12345678)
	ab := combineCRC(combineCRC(0, a), b)
	ba := combineCRC(combineCRC(0, b), a)
	require.NotEqual(t, ab, ba)
}

// fakeBlock is an injected block compressor that counts interactions.
type fakeBlock struct {
	capacity int
	written  int
	crc      uint32
	closeErr error

	closes *int
	total  *int
}

func (f *fakeBlock) Write(p []byte) int {
	n := f.capacity - f.written
	if n > len(p) {
		n = len(p)
	}
	f.written += n
	if f.total != nil {
		*f.total += n
	}
	return n
}

func (f *fakeBlock) Available() int { return f.capacity - f.written }
func (f *fakeBlock) Full() bool     { return f.written >= f.capacity }
func (f *fakeBlock) Empty() bool    { return f.written == 0 }
func (f *fakeBlock) CRC() uint32    { return f.crc }

func (f *fakeBlock) Close(b *bits.Buffer) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	if f.closes != nil {
		*f.closes++
	}
	b.PutString("<block>")
	return nil
}

// withFakeBlocks replaces the encoder's block factory.
func withFakeBlocks(e *Encoder, closes, total *int, crcs ...uint32) {
	i := 0
	e.newBlock = func(w *bits.Writer, blockSize int) blockCompressor {
		f := &fakeBlock{capacity: blockSize, closes: closes, total: total}
		if i < len(crcs) {
			f.crc = crcs[i]
			i++
		}
		return f
	}
}

func TestEncodeBlockBoundary(t *testing.T) {
	// 100,000 bytes in chunks of 40k/40k/20k hit exactly one block
	// boundary, at the end of input aggregation.
	e, err := New(Options{BlockSizeMultiplier: 1})
	require.NoError(t, err)

	var closes, total int
	withFakeBlocks(e, &closes, &total)

	var out bits.Buffer
	for _, n := range []int{40_000, 40_000, 20_000} {
		require.NoError(t, e.Encode(&out, make([]byte, n)))
	}
	require.Equal(t, 100_000, total, "no bytes dropped or duplicated")
	require.Equal(t, 1, closes, "exactly one block finalized before finish")

	require.NoError(t, e.Finish(&out))
	require.Equal(t, 1, closes, "finish found an empty follow-up block")
}

func TestEncodeHeaderOnce(t *testing.T) {
	e, err := New(Options{BlockSizeMultiplier: 3})
	require.NoError(t, err)

	var closes, total int
	withFakeBlocks(e, &closes, &total)

	var out bits.Buffer
	require.NoError(t, e.Encode(&out, []byte("hello")))
	require.Equal(t, []byte("BZh3"), out.Buf, "magic and multiplier digit")

	require.NoError(t, e.Encode(&out, []byte("world")))
	require.Equal(t, []byte("BZh3"), out.Buf, "multiplier byte written exactly once")
}

func TestEncodeZeroLengthChunk(t *testing.T) {
	e, err := New(Options{BlockSizeMultiplier: 1})
	require.NoError(t, err)

	var out bits.Buffer
	require.NoError(t, e.Encode(&out, nil))
	require.Zero(t, out.Len(), "no-op before header state runs on data")
}

func TestEncodeCRCFoldOrder(t *testing.T) {
	newWith := func(crcs ...uint32) (*Encoder, *bits.Buffer) {
		e, err := New(Options{BlockSizeMultiplier: 1})
		require.NoError(t, err)
		var closes, total int
		withFakeBlocks(e, &closes, &total, crcs...)
		return e, new(bits.Buffer)
	}

	a, b := uint32(0xdeadbeef), uint32(0x12345678)
	chunk := make([]byte, 2*BaseBlockSize)

	e1, out1 := newWith(a, b)
	require.NoError(t, e1.Encode(out1, chunk))
	require.Equal(t, combineCRC(combineCRC(0, a), b), e1.streamCRC)

	e2, out2 := newWith(b, a)
	require.NoError(t, e2.Encode(out2, chunk))
	require.NotEqual(t, e1.streamCRC, e2.streamCRC, "fold is order sensitive")
}

func TestFinishIdempotent(t *testing.T) {
	e, err := New(Options{BlockSizeMultiplier: 1})
	require.NoError(t, err)

	var out bits.Buffer
	require.NoError(t, e.Finish(&out))
	n := out.Len()
	require.NotZero(t, n)
	require.True(t, e.Finished())

	require.NoError(t, e.Finish(&out))
	require.Equal(t, n, out.Len(), "footer emitted exactly once")
}

func TestFinishBlockCloseError(t *testing.T) {
	e, err := New(Options{BlockSizeMultiplier: 1})
	require.NoError(t, err)

	errClose := errors.New("finalize failed")
	e.newBlock = func(w *bits.Writer, blockSize int) blockCompressor {
		return &fakeBlock{capacity: blockSize, closeErr: errClose}
	}

	var out bits.Buffer
	require.NoError(t, e.Encode(&out, []byte("partial block")))
	require.ErrorIs(t, e.Finish(&out), errClose, "finalize failure surfaces from Finish")
}

func TestEncodeBlockCloseError(t *testing.T) {
	e, err := New(Options{BlockSizeMultiplier: 1})
	require.NoError(t, err)

	errClose := errors.New("finalize failed")
	e.newBlock = func(w *bits.Writer, blockSize int) blockCompressor {
		return &fakeBlock{capacity: blockSize, closeErr: errClose}
	}

	// Enough input to fill and finalize the first block.
	var out bits.Buffer
	require.ErrorIs(t, e.Encode(&out, make([]byte, 2*BaseBlockSize)), errClose)
}

func TestEncodePassthroughAfterFinish(t *testing.T) {
	e, err := New(Options{BlockSizeMultiplier: 1})
	require.NoError(t, err)

	var out bits.Buffer
	require.NoError(t, e.Finish(&out))
	out.Reset()

	require.NoError(t, e.Encode(&out, []byte("plain")))
	require.Equal(t, []byte("plain"), out.Buf)

	require.NoError(t, e.Encode(&out, nil))
	require.Equal(t, []byte("plain"), out.Buf)
}

func TestFinishEmptyStreamGolden(t *testing.T) {
	e, err := New(Options{BlockSizeMultiplier: 1})
	require.NoError(t, err)

	var out bits.Buffer
	require.NoError(t, e.Finish(&out))
	gold.Bytes(t, out.Buf, "empty_stream.bz2")
}

func encodeAll(t *testing.T, multiplier int, data []byte, chunkSize int) []byte {
	t.Helper()

	e, err := New(Options{BlockSizeMultiplier: multiplier})
	require.NoError(t, err)

	var out bits.Buffer
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		require.NoError(t, e.Encode(&out, data[:n]))
		data = data[n:]
	}
	require.NoError(t, e.Finish(&out))
	return out.Buf
}

func TestEncoderRoundtrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	random := make([]byte, 250_000)
	_, _ = r.Read(random)

	for _, tt := range []struct {
		name       string
		multiplier int
		chunk      int
		data       []byte
	}{
		{"Empty", 1, 512, nil},
		{"Text", 9, 11, bytes.Repeat([]byte("the quick brown fox "), 300)},
		{"MultiBlockRandom", 1, 64 * 1024, random},
		{"MultiBlockRuns", 1, 77_777, bytes.Repeat([]byte{0}, 300_000)},
		{"Periodic", 2, 4096, bytes.Repeat([]byte("0123456789abcdef"), 20_000)},
	} {
		t.Run(tt.name, func(t *testing.T) {
			stream := encodeAll(t, tt.multiplier, tt.data, tt.chunk)

			got, err := io.ReadAll(stdbzip2.NewReader(bytes.NewReader(stream)))
			require.NoError(t, err)
			require.True(t, bytes.Equal(tt.data, got), "stdlib decode mismatch")

			dr, err := dsbzip2.NewReader(bytes.NewReader(stream), nil)
			require.NoError(t, err)
			got, err = io.ReadAll(dr)
			require.NoError(t, err)
			require.NoError(t, dr.Close())
			require.True(t, bytes.Equal(tt.data, got), "dsnet decode mismatch")
		})
	}
}
