// Package bzblock implements compression of a single bzip2 block: initial
// run-length intake, block CRC, Burrows-Wheeler transform, move-to-front and
// Huffman stages.
package bzblock

import (
	"github.com/xuwei6688/bzpipe/internal/bits"
)

const (
	// blockMagic marks the start of a compressed block, split into two
	// 24 bit fields on the wire.
	blockMagic1 = 0x314159
	blockMagic2 = 0x265359

	// A run shorter than this is stored verbatim; longer runs are cut to
	// four literals plus a count byte.
	rleRunThreshold = 4
	// Longest run one count byte can express: 4 literals + 251.
	rleMaxRun = 255

	// Intake headroom: finishing a pending run in Close may append up to
	// five bytes past the last accepted write.
	rleHeadroom = 6
)

// Compressor accumulates raw bytes for one block and, on Close, emits the
// compressed block payload through the shared bit writer.
type Compressor struct {
	w *bits.Writer

	crc   crc
	block []byte
	limit int

	used [256]bool

	rleValue  byte
	rleLength int
}

// New creates a block compressor for a single block of at most blockSize
// bytes of run-length encoded content.
func New(w *bits.Writer, blockSize int) *Compressor {
	return &Compressor{
		w:     w,
		crc:   newCRC(),
		block: make([]byte, 0, blockSize),
		limit: blockSize - rleHeadroom,
	}
}

// Write feeds p into the block and reports how many bytes were accepted.
// Intake stops early when the block fills; run coalescing means the block
// may accept fewer bytes than Available suggests, so callers must poll Full
// after every write.
func (c *Compressor) Write(p []byte) int {
	n := 0
	for _, v := range p {
		if !c.writeByte(v) {
			break
		}
		n++
	}
	return n
}

func (c *Compressor) writeByte(v byte) bool {
	if c.Full() {
		return false
	}
	switch {
	case c.rleLength == 0:
		c.rleValue = v
		c.rleLength = 1
	case c.rleLength == rleMaxRun:
		c.writeRun(c.rleValue, rleMaxRun)
		c.rleValue = v
		c.rleLength = 1
	case v == c.rleValue:
		c.rleLength++
	default:
		c.writeRun(c.rleValue, c.rleLength)
		c.rleValue = v
		c.rleLength = 1
	}
	c.crc.UpdateByte(v)
	return true
}

// writeRun flushes a pending run into the block buffer.
func (c *Compressor) writeRun(v byte, length int) {
	c.used[v] = true
	if length < rleRunThreshold {
		for i := 0; i < length; i++ {
			c.block = append(c.block, v)
		}
		return
	}
	c.block = append(c.block, v, v, v, v)
	count := byte(length - rleRunThreshold)
	c.used[count] = true
	c.block = append(c.block, count)
}

// Available returns an upper bound on how many more bytes Write may accept.
func (c *Compressor) Available() int {
	if c.Full() {
		return 0
	}
	return c.limit - len(c.block) + 1
}

// Full reports whether the block cannot accept further writes.
func (c *Compressor) Full() bool {
	return len(c.block) > c.limit
}

// Empty reports whether no byte was ever accepted.
func (c *Compressor) Empty() bool {
	return len(c.block) == 0 && c.rleLength == 0
}

// CRC returns the checksum of the bytes accepted so far, before run-length
// encoding.
func (c *Compressor) CRC() uint32 {
	return c.crc.Sum32()
}

// Close compresses the accumulated content and writes the block to b. The
// compressor must not be used afterwards.
func (c *Compressor) Close(b *bits.Buffer) error {
	if c.rleLength > 0 {
		c.writeRun(c.rleValue, c.rleLength)
		c.rleLength = 0
	}

	last, origPtr := bwTransform(c.block)

	values := make([]byte, 0, 256)
	for v := 0; v < 256; v++ {
		if c.used[v] {
			values = append(values, byte(v))
		}
	}
	syms, freq := mtfEncode(last, values)

	w := c.w
	w.WriteBits(b, 24, blockMagic1)
	w.WriteBits(b, 24, blockMagic2)
	w.WriteUInt32(b, c.CRC())
	w.WriteBool(b, false) // deprecated "randomised" flag
	w.WriteBits(b, 24, uint64(origPtr))
	c.writeSymbolMap(b)
	writeHuffmanStage(w, b, syms, freq)

	c.block = nil
	return nil
}

// writeSymbolMap emits the two-level bitmap of byte values present in the
// block: one bit per 16-value range, then 16 bits per occupied range.
func (c *Compressor) writeSymbolMap(b *bits.Buffer) {
	var ranges uint64
	for r := 0; r < 16; r++ {
		for v := 0; v < 16; v++ {
			if c.used[r*16+v] {
				ranges |= 1 << (15 - r)
				break
			}
		}
	}
	c.w.WriteBits(b, 16, ranges)
	for r := 0; r < 16; r++ {
		if ranges&(1<<(15-r)) == 0 {
			continue
		}
		var m uint64
		for v := 0; v < 16; v++ {
			if c.used[r*16+v] {
				m |= 1 << (15 - v)
			}
		}
		c.w.WriteBits(b, 16, m)
	}
}
