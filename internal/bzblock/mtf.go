package bzblock

// Symbols of the MTF/RLE2 stage alphabet. Zero runs are coded in bijective
// base 2 over RUNA/RUNB, every other MTF value v is transmitted as v+1, and
// the alphabet ends with a dedicated end-of-block symbol.
const (
	symRunA = 0
	symRunB = 1
)

// mtfEncode applies the move-to-front and zero run-length stages to the
// BWT output. values lists the byte values present in the block, ascending.
// It returns the symbol stream (end-of-block symbol included) and the
// per-symbol frequencies over the alphabet of len(values)+2 symbols.
func mtfEncode(bwt []byte, values []byte) (syms []uint16, freq []int32) {
	alphaSize := len(values) + 2
	eob := uint16(alphaSize - 1)

	var index [256]int
	for i, v := range values {
		index[v] = i
	}
	list := make([]int, len(values))
	for i := range list {
		list[i] = i
	}

	freq = make([]int32, alphaSize)
	syms = make([]uint16, 0, len(bwt)+1)

	emit := func(s uint16) {
		syms = append(syms, s)
		freq[s]++
	}
	var run int
	flushRun := func() {
		for run > 0 {
			if run&1 == 1 {
				emit(symRunA)
				run = (run - 1) / 2
			} else {
				emit(symRunB)
				run = (run - 2) / 2
			}
		}
	}

	for _, b := range bwt {
		target := index[b]
		pos := 0
		for list[pos] != target {
			pos++
		}
		copy(list[1:pos+1], list[:pos])
		list[0] = target

		if pos == 0 {
			run++
			continue
		}
		flushRun()
		emit(uint16(pos + 1))
	}
	flushRun()
	emit(eob)

	return syms, freq
}
