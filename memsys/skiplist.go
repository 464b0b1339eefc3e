package memsys

import "math/bits"

// bitset is a hint skiplist: one bit per bin, 1 meaning "this bin might be
// non-empty". It is lossy by construction (spec.md invariant 6): a set bit
// does not guarantee a non-empty bin, but a clear bit guarantees an empty
// one. Callers that find a set bit pointing at an empty bin are expected to
// clear it themselves (see nextSet's callers in medium.go / slabbins.go).
type bitset struct {
	words []uint32
	n     int
}

func newBitset(n int) bitset {
	return bitset{words: make([]uint32, (n+31)/32), n: n}
}

func (b *bitset) set(i int)   { b.words[i/32] |= 1 << uint(i%32) }
func (b *bitset) clear(i int) { b.words[i/32] &^= 1 << uint(i%32) }
func (b *bitset) test(i int) bool {
	return b.words[i/32]&(1<<uint(i%32)) != 0
}

// nextSet returns the smallest set bit index >= from, or -1 if none exists.
// This is the "scan algorithm" of spec.md section 4.3: load the word
// covering the start bin, mask off bits below start, and repeatedly take the
// lowest set bit; advance to the next word once the current one is
// exhausted.
func (b *bitset) nextSet(from int) int {
	if from < 0 {
		from = 0
	}
	if from >= b.n {
		return -1
	}
	wi := from / 32
	word := b.words[wi] &^ ((uint32(1) << uint(from%32)) - 1)
	for {
		if word != 0 {
			idx := wi*32 + bits.TrailingZeros32(word)
			if idx >= b.n {
				return -1
			}
			return idx
		}
		wi++
		if wi >= len(b.words) {
			return -1
		}
		word = b.words[wi]
	}
}
