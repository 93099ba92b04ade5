// Package bits implements the byte buffer and bit-level writer used to
// assemble bzip2 streams.
package bits

import "io"

// Buffer accumulates encoded output.
type Buffer struct {
	Buf []byte
}

// PutRaw writes v as raw bytes to buffer.
func (b *Buffer) PutRaw(v []byte) {
	b.Buf = append(b.Buf, v...)
}

// PutByte writes single byte to buffer.
func (b *Buffer) PutByte(v byte) {
	b.Buf = append(b.Buf, v)
}

// PutString writes s as raw bytes to buffer.
func (b *Buffer) PutString(s string) {
	b.Buf = append(b.Buf, s...)
}

// Reset buffer to zero length.
func (b *Buffer) Reset() {
	b.Buf = b.Buf[:0]
}

// Len returns current buffer length.
func (b *Buffer) Len() int {
	return len(b.Buf)
}

// Read implements io.Reader.
func (b *Buffer) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(b.Buf) == 0 {
		return 0, io.EOF
	}
	n = copy(p, b.Buf)
	b.Buf = b.Buf[n:]
	return n, nil
}
