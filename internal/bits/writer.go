package bits

// Writer packs sub-byte-width fields into a Buffer, most significant bit
// first, as required by the bzip2 container. Whole bytes are appended to the
// destination buffer as soon as they are complete; up to 7 bits stay pending
// until the next write or Flush.
type Writer struct {
	pending uint64
	count   uint
}

// WriteBits writes the n least significant bits of v, 0 < n <= 32.
func (w *Writer) WriteBits(b *Buffer, n uint, v uint64) {
	w.pending = w.pending<<n | v&(1<<n-1)
	w.count += n
	for w.count >= 8 {
		w.count -= 8
		b.PutByte(byte(w.pending >> w.count))
	}
}

// WriteBool writes a single bit.
func (w *Writer) WriteBool(b *Buffer, v bool) {
	if v {
		w.WriteBits(b, 1, 1)
	} else {
		w.WriteBits(b, 1, 0)
	}
}

// WriteUnary writes v as v one-bits terminated by a zero bit.
func (w *Writer) WriteUnary(b *Buffer, v int) {
	for i := 0; i < v; i++ {
		w.WriteBits(b, 1, 1)
	}
	w.WriteBits(b, 1, 0)
}

// WriteUInt32 writes a fixed-width 32 bit value.
func (w *Writer) WriteUInt32(b *Buffer, v uint32) {
	w.WriteBits(b, 32, uint64(v))
}

// Flush pads the pending bits with zeroes up to the next byte boundary and
// writes them out. A no-op if the writer is already byte aligned.
func (w *Writer) Flush(b *Buffer) {
	if w.count == 0 {
		return
	}
	b.PutByte(byte(w.pending << (8 - w.count)))
	w.pending = 0
	w.count = 0
}

// Aligned reports whether the writer is at a byte boundary.
func (w *Writer) Aligned() bool {
	return w.count == 0
}
