package bzblock

import (
	"github.com/xuwei6688/bzpipe/internal/bits"
)

const (
	minHuffmanGroups = 2
	maxHuffmanGroups = 6

	// groupRunLength symbols share one selector entry.
	groupRunLength = 50

	// maxCodeLength is what the container format permits; encoders
	// traditionally stay at 17 to keep decode tables small.
	maxCodeLength       = 20
	encodeMaxCodeLength = 17

	// refinement passes reassigning groups to their cheapest table.
	huffmanPasses = 4

	costLesser  = 0
	costGreater = 15
)

// huffmanGroupCount mirrors the reference encoder's table count thresholds.
func huffmanGroupCount(nSyms int) int {
	switch {
	case nSyms < 200:
		return 2
	case nSyms < 600:
		return 3
	case nSyms < 1200:
		return 4
	case nSyms < 2400:
		return 5
	default:
		return 6
	}
}

// writeHuffmanStage codes the MTF/RLE2 symbol stream: table count, selector
// list, delta-coded canonical code lengths per table, then the symbols.
func writeHuffmanStage(w *bits.Writer, b *bits.Buffer, syms []uint16, freq []int32) {
	alphaSize := len(freq)
	nGroups := huffmanGroupCount(len(syms))
	nSelectors := (len(syms) + groupRunLength - 1) / groupRunLength

	lengths := initialTables(freq, alphaSize, nGroups, len(syms))
	selectors := make([]uint8, nSelectors)

	// Iteratively re-split the stream: each 50-symbol group picks the
	// cheapest table, then every table is rebuilt from the frequencies of
	// the groups that chose it.
	for pass := 0; pass < huffmanPasses; pass++ {
		rfreq := make([][]int32, nGroups)
		for t := range rfreq {
			rfreq[t] = make([]int32, alphaSize)
		}
		for g := 0; g*groupRunLength < len(syms); g++ {
			lo := g * groupRunLength
			hi := lo + groupRunLength
			if hi > len(syms) {
				hi = len(syms)
			}
			best, bestCost := 0, int64(1)<<62
			for t := 0; t < nGroups; t++ {
				var cost int64
				for _, s := range syms[lo:hi] {
					cost += int64(lengths[t][s])
				}
				if cost < bestCost {
					best, bestCost = t, cost
				}
			}
			selectors[g] = uint8(best)
			for _, s := range syms[lo:hi] {
				rfreq[best][s]++
			}
		}
		for t := 0; t < nGroups; t++ {
			lengths[t] = makeCodeLengths(rfreq[t], encodeMaxCodeLength)
		}
	}

	codes := make([][]uint32, nGroups)
	for t := range codes {
		codes[t] = assignCodes(lengths[t])
	}

	w.WriteBits(b, 3, uint64(nGroups))
	w.WriteBits(b, 15, uint64(nSelectors))

	// Selectors are move-to-front coded over the table indices and written
	// in unary.
	mtf := make([]uint8, nGroups)
	for i := range mtf {
		mtf[i] = uint8(i)
	}
	for _, sel := range selectors {
		pos := 0
		for mtf[pos] != sel {
			pos++
		}
		copy(mtf[1:pos+1], mtf[:pos])
		mtf[0] = sel
		w.WriteUnary(b, pos)
	}

	for t := 0; t < nGroups; t++ {
		curr := int(lengths[t][0])
		w.WriteBits(b, 5, uint64(curr))
		for _, l := range lengths[t] {
			for curr < int(l) {
				w.WriteBits(b, 2, 2) // 10: increment
				curr++
			}
			for curr > int(l) {
				w.WriteBits(b, 2, 3) // 11: decrement
				curr--
			}
			w.WriteBits(b, 1, 0)
		}
	}

	for g := 0; g*groupRunLength < len(syms); g++ {
		lo := g * groupRunLength
		hi := lo + groupRunLength
		if hi > len(syms) {
			hi = len(syms)
		}
		t := selectors[g]
		for _, s := range syms[lo:hi] {
			w.WriteBits(b, uint(lengths[t][s]), uint64(codes[t][s]))
		}
	}
}

// initialTables seeds nGroups code length tables by slicing the symbol
// alphabet into runs of roughly equal frequency mass, marking in-range
// symbols cheap and the rest expensive.
func initialTables(freq []int32, alphaSize, nGroups, nSyms int) [][]uint8 {
	lengths := make([][]uint8, nGroups)
	remaining := int32(nSyms)
	gs := 0
	for part := nGroups; part > 0; part-- {
		target := remaining / int32(part)
		ge := gs - 1
		var acc int32
		for acc < target && ge < alphaSize-1 {
			ge++
			acc += freq[ge]
		}
		table := make([]uint8, alphaSize)
		for i := range table {
			if i >= gs && i <= ge {
				table[i] = costLesser
			} else {
				table[i] = costGreater
			}
		}
		lengths[nGroups-part] = table
		gs = ge + 1
		remaining -= acc
	}
	return lengths
}

// assignCodes builds the canonical codes for a table: codes are handed out
// in order of ascending length, ties broken by symbol value.
func assignCodes(lengths []uint8) []uint32 {
	minLen, maxLen := uint8(32), uint8(0)
	for _, l := range lengths {
		if l < minLen {
			minLen = l
		}
		if l > maxLen {
			maxLen = l
		}
	}
	codes := make([]uint32, len(lengths))
	code := uint32(0)
	for n := minLen; n <= maxLen; n++ {
		for i, l := range lengths {
			if l == n {
				codes[i] = code
				code++
			}
		}
		code <<= 1
	}
	return codes
}

// makeCodeLengths builds Huffman code lengths for the given frequencies,
// limited to maxLen bits. Overlong trees are handled the way the reference
// encoder does it: halve the weights and rebuild until the tree fits.
func makeCodeLengths(freq []int32, maxLen int) []uint8 {
	weights := make([]int64, len(freq))
	for i, f := range freq {
		if f == 0 {
			weights[i] = 1
		} else {
			weights[i] = int64(f)
		}
	}
	for {
		lengths := buildTreeLengths(weights)
		over := false
		for _, l := range lengths {
			if int(l) > maxLen {
				over = true
				break
			}
		}
		if !over {
			return lengths
		}
		for i := range weights {
			weights[i] = weights[i]/2 + 1
		}
	}
}

// buildTreeLengths runs plain Huffman construction over the weights and
// returns the depth of every leaf.
func buildTreeLengths(weights []int64) []uint8 {
	n := len(weights)
	type node struct {
		weight      int64
		left, right int // -1 for leaves
	}
	nodes := make([]node, n, 2*n)
	for i, w := range weights {
		nodes[i] = node{weight: w, left: -1, right: -1}
	}

	// Index heap ordered by node weight; stable on index to keep the
	// construction deterministic.
	heap := make([]int, n)
	for i := range heap {
		heap[i] = i
	}
	less := func(a, b int) bool {
		if nodes[a].weight != nodes[b].weight {
			return nodes[a].weight < nodes[b].weight
		}
		return a < b
	}
	down := func(i int) {
		for {
			c := 2*i + 1
			if c >= len(heap) {
				return
			}
			if c+1 < len(heap) && less(heap[c+1], heap[c]) {
				c++
			}
			if less(heap[i], heap[c]) {
				return
			}
			heap[i], heap[c] = heap[c], heap[i]
			i = c
		}
	}
	up := func(i int) {
		for i > 0 {
			p := (i - 1) / 2
			if less(heap[p], heap[i]) {
				return
			}
			heap[i], heap[p] = heap[p], heap[i]
			i = p
		}
	}
	pop := func() int {
		top := heap[0]
		heap[0] = heap[len(heap)-1]
		heap = heap[:len(heap)-1]
		down(0)
		return top
	}
	for i := len(heap)/2 - 1; i >= 0; i-- {
		down(i)
	}

	for len(heap) > 1 {
		a, b := pop(), pop()
		nodes = append(nodes, node{weight: nodes[a].weight + nodes[b].weight, left: a, right: b})
		heap = append(heap, len(nodes)-1)
		up(len(heap) - 1)
	}

	lengths := make([]uint8, n)
	type frame struct {
		idx   int
		depth uint8
	}
	stack := []frame{{heap[0], 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nd := nodes[f.idx]
		if nd.left == -1 {
			lengths[f.idx] = f.depth
			continue
		}
		stack = append(stack, frame{nd.left, f.depth + 1}, frame{nd.right, f.depth + 1})
	}
	return lengths
}
