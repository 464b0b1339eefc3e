package memsys

import "fmt"

// Check walks every slab bin, small-bin, and medium-bin and verifies the
// invariants of spec.md section 3 / section 8. It is never invoked
// implicitly by Allocate/Release/Resize/ZeroAllocate -- spec.md section 1
// keeps the heap-consistency checker out of scope except at the property
// level, and this is that property level exposed as a real library call
// callers may run outside a debug build (e.g. between test steps).
func (h *Heap) Check() error {
	if err := h.checkSlabBins(); err != nil {
		return err
	}
	if err := h.checkSmallBins(); err != nil {
		return err
	}
	if err := h.checkMediumBins(); err != nil {
		return err
	}
	return nil
}

// checkSlabBins verifies invariant 5 (bin membership), invariant 7
// (bin-127 ascending order), and invariant 6 (skiplist is a lower bound on
// non-emptiness) for the free-slab registry.
func (h *Heap) checkSlabBins() error {
	for i := 0; i < numSegSlabBins; i++ {
		for a := h.slabs.heads[i]; a != 0; a = *regionNextPtr(a) {
			if n := regionNumSlabs(a); n != i+1 {
				return newInvariantError("bin-membership",
					"slab region at %#x has %d slabs, not in bin %d", a, n, i)
			}
			if !h.slabs.skip.test(i) {
				return newInvariantError("skiplist-lower-bound",
					"bin %d is non-empty but skiplist bit is 0", i)
			}
		}
	}
	if h.slabs.heads[overflowBin] != 0 && !h.slabs.skip.test(overflowBin) {
		return newInvariantError("skiplist-lower-bound",
			"overflow bin is non-empty but skiplist bit is 0")
	}
	prev := -1
	for a := h.slabs.heads[overflowBin]; a != 0; a = *regionNextPtr(a) {
		n := regionNumSlabs(a)
		if n <= maxSegSlabSz {
			return newInvariantError("bin-membership",
				"slab region at %#x has %d slabs, too small for overflow bin", a, n)
		}
		if n < prev {
			return newInvariantError("bin-127-order",
				"overflow bin not ascending: %d before %d", prev, n)
		}
		prev = n
	}
	return nil
}

// checkSmallBins verifies that every slab linked into a small-bin is a
// packed slab of that bin's class with at least one free block. Packed
// slabs that are not linked into any bin are not visited.
func (h *Heap) checkSmallBins() error {
	for classIdx := 0; classIdx < numSmallBins; classIdx++ {
		cls := h.small.classes[classIdx]
		for a := h.small.heads[classIdx]; a != 0; a = *tinyNextPtr(a) {
			if !slabIsPacked(a) {
				return newInvariantError("bin-membership",
					"small-bin %d holds non-packed slab %#x", classIdx, a)
			}
			if int(*classIdxPtr(a)) != classIdx {
				return newInvariantError("bin-membership",
					"slab %#x in small-bin %d has class %d", a, classIdx, *classIdxPtr(a))
			}
			if _, free := findFreeBlock(a, cls); !free {
				return newInvariantError("bin-membership",
					"slab %#x in small-bin %d has no free block", a, classIdx)
			}
		}
	}
	return nil
}

// checkMediumBins verifies that every block linked into a medium-bin is
// free and has exactly that bin's size, and that every non-empty bin has its
// skiplist bit set. Free blocks that are not linked into any bin are not
// visited.
func (h *Heap) checkMediumBins() error {
	for i := 0; i < numMediumBins; i++ {
		size := minMediumBlockSz + i*Align
		if h.medium.heads[i] != 0 && !h.medium.skip.test(i) {
			return newInvariantError("skiplist-lower-bound",
				"medium-bin %d is non-empty but skiplist bit is 0", i)
		}
		for a := h.medium.heads[i]; a != 0; a = *mediumFreeNextPtr(a) {
			slab := ptrToSlab(a)
			idx := blockIndexInSlab(slab, a)
			if blockIsAlloc(slab, idx) {
				return newInvariantError("bin-membership",
					"medium-bin %d holds allocated block %#x", i, a)
			}
			if bs := blockSize(slab, idx); bs != size {
				return newInvariantError("bin-membership",
					"medium-bin %d holds block %#x of size %d", i, a, bs)
			}
		}
	}
	return nil
}

// String implements fmt.Stringer for debugging output.
func (h *Heap) String() string {
	s := h.Stats()
	return fmt.Sprintf("heap{allocs=%d releases=%d resizes=%d ooms=%d slabs=%d bytesLive=%d}",
		s.Allocs.Load(), s.Releases.Load(), s.Resizes.Load(), s.OOMs.Load(), s.SlabsUsed.Load(), s.BytesLive.Load())
}
