package bzblock

// bzip2 uses a non-reflected CRC-32 (polynomial 0x04C11DB7, most significant
// bit first), which hash/crc32 cannot be configured to produce.

var crcTable = func() (t [256]uint32) {
	const poly = 0x04c11db7
	for i := range t {
		c := uint32(i) << 24
		for bit := 0; bit < 8; bit++ {
			if c&0x80000000 != 0 {
				c = c<<1 ^ poly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// crc is an incremental digest of the block's uncompressed content.
type crc struct {
	value uint32
}

func newCRC() crc {
	return crc{value: 0xffffffff}
}

func (c *crc) UpdateByte(b byte) {
	c.value = c.value<<8 ^ crcTable[byte(c.value>>24)^b]
}

func (c *crc) Update(p []byte) {
	for _, b := range p {
		c.UpdateByte(b)
	}
}

// Sum32 returns the current checksum.
func (c *crc) Sum32() uint32 {
	return ^c.value
}
