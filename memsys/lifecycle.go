package memsys

import "github.com/golang/glog"

// acquireSlabs hands the caller a contiguous, newly-allocated run of exactly
// n slabs, preferring to recycle a free region already on the heap (spec.md
// section 4.4's "first-fit, then grow" policy) before asking the HeapSource
// for fresh address space. A free region touching the end of the heap is
// grown in place rather than left stranded next to freshly committed memory.
func acquireSlabs(h *Heap, n int) (uintptr, bool) {
	if n <= maxSegSlabSz {
		if addr, have, ok := h.slabs.findFit(slabBinIndex(n)); ok {
			h.slabs.unlinkSlabBin(addr, have)
			return splitSlabRegion(h, addr, have, n), true
		}
	}
	if addr, have, ok := h.slabs.smallestOverflow(); ok && have >= n {
		h.slabs.unlinkSlabBin(addr, have)
		return splitSlabRegion(h, addr, have, n), true
	}
	return growHeap(h, n)
}

// splitSlabRegion carves the first n slabs out of a have-slab free region at
// addr for allocation, re-linking whatever remains as a fresh (smaller) free
// region. It returns the address of the carved-out, now-allocated run.
func splitSlabRegion(h *Heap, addr uintptr, have, n int) uintptr {
	if have > n {
		remAddr := addr + uintptr(n)*SlabSize
		remN := have - n
		initFreeRegion(remAddr, remN, true)
		h.slabs.linkSlabBin(remAddr, remN)
		if h.lastRunAddr == addr {
			h.lastRunAddr, h.lastRunLen = remAddr, remN
		}
	} else if end := addr + uintptr(n)*SlabSize; end < h.heapEnd {
		setPrevAlloc(end, true)
	} else if h.lastRunAddr == addr {
		h.lastRunAlloc = true
	}
	markSlabRunAllocated(addr, n)
	h.stats.SlabsUsed.Add(int64(n))
	return addr
}

// growHeap extends the heap through the HeapSource, absorbing a trailing
// free region first if one exists.
func growHeap(h *Heap, n int) (uintptr, bool) {
	if !h.lastRunAlloc && h.lastRunLen > 0 {
		addr, have := h.lastRunAddr, h.lastRunLen
		h.slabs.unlinkSlabBin(addr, have)
		need := n - have
		if need > 0 {
			newAddr, ok := h.source.ExtendHeap(need)
			if !ok {
				h.slabs.linkSlabBin(addr, have)
				h.stats.OOMs.Inc()
				return 0, false
			}
			h.heapEnd = newAddr + uintptr(need)*SlabSize
		}
		markSlabRunAllocated(addr, n)
		h.lastRunAddr, h.lastRunLen, h.lastRunAlloc = addr, n, true
		h.stats.SlabsUsed.Add(int64(n))
		return addr, true
	}

	prevAlloc := h.lastRunAlloc
	addr, ok := h.source.ExtendHeap(n)
	if !ok {
		h.stats.OOMs.Inc()
		if glog.V(3) {
			glog.Infof("memsys: heap source exhausted requesting %d slabs", n)
		}
		return 0, false
	}
	if h.heapBase == 0 {
		h.heapBase = addr
	}
	h.heapEnd = addr + uintptr(n)*SlabSize
	setSlabFlags(addr, flagAlloc|boolFlag(prevAlloc, flagPrevAlloc))
	h.lastRunAddr, h.lastRunLen, h.lastRunAlloc = addr, n, true
	h.stats.SlabsUsed.Add(int64(n))
	return addr, true
}

// releaseSlabs returns a contiguous run of n slabs starting at addr to the
// heap's free-region bookkeeping, coalescing with any free physical
// neighbors (spec.md invariant "coalescing"). addr must be a run's own
// boundary slab -- the one markSlabRunAllocated wrote the flag byte on --
// since this also coalesces left, into whatever physically precedes addr.
func releaseSlabs(h *Heap, addr uintptr, n int) {
	release(h, addr, n, false)
}

// releaseSlabsSkipPrev is releaseSlabs without the predecessor-coalesce
// step, for freeing the trailing slabs of a block that is still live: addr
// here is an interior slab of that block's run, not a run boundary, so its
// flag byte was never written by markSlabRunAllocated and cannot be trusted
// to say whether the physically preceding slab is free (spec.md section
// 4.4's release_remainder_at). The still-allocated predecessor is left
// completely untouched; only the successor-coalesce and free-region init
// happen here.
func releaseSlabsSkipPrev(h *Heap, addr uintptr, n int) {
	release(h, addr, n, true)
}

func release(h *Heap, addr uintptr, n int, skipPrev bool) {
	start := addr
	end := addr + uintptr(n)*SlabSize

	if end < h.heapEnd && !slabIsAlloc(end) {
		flen := regionNumSlabs(end)
		h.slabs.unlinkSlabBin(end, flen)
		end += uintptr(flen) * SlabSize
	}
	if !skipPrev && start != h.heapBase {
		if pstart, plen, ok := prevPhysicalFree(start); ok {
			h.slabs.unlinkSlabBin(pstart, plen)
			start = pstart
		}
	}

	total := int((end - start) / SlabSize)
	prevAlloc := skipPrev || slabIsPrevAlloc(start)
	initFreeRegion(start, total, prevAlloc)
	h.slabs.linkSlabBin(start, total)

	if end == h.heapEnd {
		h.lastRunAddr, h.lastRunLen, h.lastRunAlloc = start, total, false
	} else {
		setPrevAlloc(end, false)
	}
	h.stats.SlabsUsed.Sub(int64(n))
}

// markSlabRunAllocated sets the ALLOC bit on the run's first slab, leaving
// whatever PREV_ALLOC bit was already recorded there untouched.
func markSlabRunAllocated(addr uintptr, n int) {
	f := *flagsPtr(addr)
	*flagsPtr(addr) = flagAlloc | (f & flagPrevAlloc)
}

func boolFlag(b bool, bit uint8) uint8 {
	if b {
		return bit
	}
	return 0
}
