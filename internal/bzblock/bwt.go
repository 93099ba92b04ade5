package bzblock

import "sort"

// bwTransform computes the Burrows-Wheeler transform of data: the last
// column of the sorted rotation matrix and the row index of the original
// data. Rotations are ordered by prefix doubling over cyclic ranks, which
// keeps repetitive blocks (the common case for bzip2 input) out of the
// quadratic regime a naive comparison sort would hit.
//
// Ties between identical rotations are left unresolved: equal rotations
// contribute equal last-column bytes, so the transform is unaffected.
func bwTransform(data []byte) (last []byte, origPtr uint32) {
	n := len(data)
	if n == 1 {
		return []byte{data[0]}, 0
	}

	sa := make([]int, n)
	rank := make([]int, n)
	next := make([]int, n)
	for i := range sa {
		sa[i] = i
		rank[i] = int(data[i])
	}

	for k := 1; ; k <<= 1 {
		key := func(i int) (int, int) {
			j := i + k
			if j >= n {
				j -= n
			}
			return rank[i], rank[j]
		}
		sort.Slice(sa, func(a, b int) bool {
			a1, a2 := key(sa[a])
			b1, b2 := key(sa[b])
			if a1 != b1 {
				return a1 < b1
			}
			return a2 < b2
		})

		next[sa[0]] = 0
		for i := 1; i < n; i++ {
			p1, p2 := key(sa[i-1])
			c1, c2 := key(sa[i])
			next[sa[i]] = next[sa[i-1]]
			if p1 != c1 || p2 != c2 {
				next[sa[i]]++
			}
		}
		rank, next = next, rank

		if rank[sa[n-1]] == n-1 || k >= n {
			break
		}
	}

	last = make([]byte, n)
	for i, p := range sa {
		if p == 0 {
			origPtr = uint32(i)
			last[i] = data[n-1]
		} else {
			last[i] = data[p-1]
		}
	}
	return last, origPtr
}
