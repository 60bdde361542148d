package bmm

import "math/bits"

// bitmap tracks block usage, one bit per block. A set bit means in use.
// It is not safe for concurrent use; the Manager serializes access.
type bitmap struct {
	words    []uint64
	total    uint64
	free     uint64
	lastWord int
}

func newBitmap(total uint64) *bitmap {
	return &bitmap{
		words: make([]uint64, (total+63)/64),
		total: total,
		free:  total,
	}
}

// alloc finds n clear bits, sets them and returns their indexes. It is
// all-or-nothing: on shortage nothing is set and ok is false.
func (b *bitmap) alloc(n uint64) (ids []uint64, ok bool) {
	if n > b.free {
		return nil, false
	}
	ids = make([]uint64, 0, n)

	// Resume scanning where the last allocation stopped so that freshly
	// freed low blocks are not reused before the rest of the pool is touched.
	for scanned := 0; scanned < len(b.words) && uint64(len(ids)) < n; scanned++ {
		wi := (b.lastWord + scanned) % len(b.words)
		for b.words[wi] != ^uint64(0) && uint64(len(ids)) < n {
			bit := bits.TrailingZeros64(^b.words[wi])
			idx := uint64(wi)*64 + uint64(bit)
			if idx >= b.total {
				break
			}
			b.words[wi] |= 1 << uint(bit)
			ids = append(ids, idx)
		}
		b.lastWord = wi
	}

	if uint64(len(ids)) < n {
		// Only reachable if free accounting drifted; undo and report shortage.
		b.free -= uint64(len(ids))
		b.clear(ids)
		return nil, false
	}
	b.free -= n
	return ids, true
}

// clear releases the given bits. Bits that are already clear are ignored.
func (b *bitmap) clear(ids []uint64) {
	for _, idx := range ids {
		if idx >= b.total {
			continue
		}
		wi, bit := idx/64, idx%64
		if b.words[wi]&(1<<bit) == 0 {
			continue
		}
		b.words[wi] &^= 1 << bit
		b.free++
	}
}

func (b *bitmap) isSet(idx uint64) bool {
	if idx >= b.total {
		return false
	}
	return b.words[idx/64]&(1<<(idx%64)) != 0
}
