package memsys

import (
	"github.com/golang/glog"

	"github.com/nvaistore-labs/slaballoc/cmn"
)

// Top-level dispatch (spec.md section 4.1): route a request by size into
// the regime that owns it, and implement the four public operations on top
// of the three regime engines.

type regime int

const (
	regimeTiny regime = iota
	regimeMedium
	regimeLarge
)

func classify(size int) regime {
	switch {
	case size <= maxTinyBlockSz:
		return regimeTiny
	case size <= maxMediumBlockSz:
		return regimeMedium
	default:
		return regimeLarge
	}
}

// Allocate implements the classical malloc() entry point: size 0 returns
// the null sentinel, everything else is aligned up to 16 bytes and routed
// to its regime.
func (h *Heap) Allocate(size int) uintptr {
	if size <= 0 {
		return 0
	}
	size = alignUp16(size)

	var ptr uintptr
	switch classify(size) {
	case regimeTiny:
		adj := adjTiny(size)
		ptr = allocPacked(h, smallBinIndex(adj))
	case regimeMedium:
		ptr = allocMedium(h, size)
	default:
		ptr = allocLarge(h, size)
	}
	if ptr == 0 {
		if glog.V(2) {
			glog.Infof("memsys: allocate(%d) failed, heap source exhausted", size)
		}
		return 0
	}
	h.stats.Allocs.Inc()
	return ptr
}

// Release implements free(): the null sentinel is a no-op.
func (h *Heap) Release(ptr uintptr) {
	if ptr == 0 {
		return
	}
	slab := ptrToSlab(ptr)
	if slabIsPacked(slab) {
		freePacked(h, ptr)
	} else {
		freeLarge(h, ptr)
	}
	h.stats.Releases.Inc()
}

// ZeroAllocate implements calloc(): allocate n*size bytes and zero them.
// Overflow of n*size is the caller's concern, matching the source contract
// literally (spec.md section 6 and the Open Questions in section 9).
func (h *Heap) ZeroAllocate(n, size int) uintptr {
	total := n * size
	ptr := h.Allocate(total)
	if ptr == 0 {
		return 0
	}
	if total > 0 {
		buf := bytesAt(ptr, alignUp16(total))
		for i := range buf {
			buf[i] = 0
		}
	}
	return ptr
}

// Resize implements realloc() (spec.md section 4.5): a null source behaves
// as Allocate, a zero size behaves as Release. Otherwise it tries in-place
// extension/shrinking before falling back to allocate-copy-release. On OOM
// during the forced-migrate path the original block remains live and the
// null sentinel is returned (spec.md's Open Question on resize/OOM
// ordering: attempt the new allocation first, release only on success).
func (h *Heap) Resize(ptr uintptr, size int) uintptr {
	if ptr == 0 {
		return h.Allocate(size)
	}
	if size <= 0 {
		h.Release(ptr)
		return 0
	}
	size = alignUp16(size)
	h.stats.Resizes.Inc()

	slab := ptrToSlab(ptr)
	if slabIsPacked(slab) {
		return h.resizePacked(ptr, size)
	}
	return h.resizeLarge(ptr, size)
}

func (h *Heap) resizePacked(ptr uintptr, size int) uintptr {
	cur := tinyBlockSize(ptr)
	if classify(size) == regimeTiny && adjTiny(size) == cur {
		return ptr
	}
	return h.migrate(ptr, cur, size)
}

// resizeLarge handles a source block that is currently medium or large. It
// tries in-place extension/shrinking first (spec.md section 4.5) and falls
// back to a forced migrate when neither is possible.
func (h *Heap) resizeLarge(ptr uintptr, size int) uintptr {
	slab := ptrToSlab(ptr)
	idx := blockIndexInSlab(slab, ptr)
	cur := blockSize(slab, idx)

	if size < minMediumBlockSz {
		return h.migrate(ptr, cur, size)
	}
	if cur >= SlabSize {
		return h.resizeLargeSpan(ptr, slab, size, cur)
	}
	return h.resizeMediumInPlace(ptr, slab, idx, size, cur)
}

// resizeMediumInPlace handles a 1-slab medium block, trying to grow into or
// shrink away from its right physical neighbor within the same slab.
func (h *Heap) resizeMediumInPlace(ptr, slab uintptr, idx, size, cur int) uintptr {
	if size <= cur {
		if cur-size < minMediumBlockSz {
			return ptr // keep unchanged: remainder too small to be useful
		}
		splitOff := ptr + uintptr(size)
		insertBlockAfter(slab, idx, splitOff)
		h.medium.push(cur-size, splitOff)
		h.stats.BytesLive.Add(int64(size - cur))
		return ptr
	}
	if size > maxMediumBlockSz {
		return h.migrate(ptr, cur, size)
	}
	n := largeNumBlocks(slab)
	if idx+1 < n && !blockIsAlloc(slab, idx+1) {
		rsz := blockSize(slab, idx+1)
		if cur+rsz >= size {
			h.medium.unlink(rsz, blockStart(slab, idx+1))
			leftover := cur + rsz - size
			if leftover < minMediumBlockSz {
				removeBlockAt(slab, idx+1)
				h.stats.BytesLive.Add(int64(blockSize(slab, idx) - cur))
			} else {
				newBound := ptr + uintptr(size)
				setBlockStart(slab, idx+1, newBound)
				h.medium.push(leftover, newBound)
				h.stats.BytesLive.Add(int64(size - cur))
			}
			return ptr
		}
	}
	return h.migrate(ptr, cur, size)
}

// resizeLargeSpan handles a multi-slab large block: extend by consuming a
// free physical neighbor or heap growth, shrink by releasing trailing slabs
// when the deadweight bound allows it.
func (h *Heap) resizeLargeSpan(ptr, slab uintptr, size, cur int) uintptr {
	slabs := largeNumSlabs(slab)
	if size > cur {
		remainder := size - cur
		needSlabs := cmn.DivCeil(remainder, SlabSize)
		deadweight := needSlabs*SlabSize - remainder
		if deadweight > reallocMaxDeadweight {
			return h.migrate(ptr, cur, size)
		}
		end := slab + uintptr(slabs)*SlabSize
		if end == h.heapEnd {
			if _, ok := h.source.ExtendHeap(needSlabs); !ok {
				return h.migrate(ptr, cur, size)
			}
			h.heapEnd = end + uintptr(needSlabs)*SlabSize
			*sizeSlabsPtr(slab) = uint64(slabs + needSlabs)
			h.stats.SlabsUsed.Add(int64(needSlabs))
			h.stats.BytesLive.Add(int64(needSlabs * SlabSize))
			return ptr
		}
		if !slabIsAlloc(end) && regionNumSlabs(end) >= needSlabs {
			h.slabs.unlinkSlabBin(end, regionNumSlabs(end))
			have := regionNumSlabs(end)
			if have > needSlabs {
				remAddr := end + uintptr(needSlabs)*SlabSize
				remN := have - needSlabs
				initFreeRegion(remAddr, remN, true)
				h.slabs.linkSlabBin(remAddr, remN)
				if h.lastRunAddr == end {
					h.lastRunAddr, h.lastRunLen = remAddr, remN
				}
			} else if next := end + uintptr(have)*SlabSize; next < h.heapEnd {
				setPrevAlloc(next, true)
			} else {
				h.lastRunAddr, h.lastRunLen, h.lastRunAlloc = slab, slabs+needSlabs, true
			}
			*sizeSlabsPtr(slab) = uint64(slabs + needSlabs)
			h.stats.SlabsUsed.Add(int64(needSlabs))
			h.stats.BytesLive.Add(int64(needSlabs * SlabSize))
			return ptr
		}
		return h.migrate(ptr, cur, size)
	}

	// shrinking
	hangover := cur % SlabSize
	if size <= hangover {
		// collapse to a 1-slab medium block, freeing the tail slabs.
		if slabs > 1 {
			releaseSlabsSkipPrev(h, slab+SlabSize, slabs-1)
		}
		*sizeSlabsPtr(slab) = 1
		if hangover-size >= minMediumBlockSz {
			splitOff := ptr + uintptr(size)
			insertBlockAfter(slab, 0, splitOff)
			h.medium.push(hangover-size, splitOff)
		}
		h.stats.BytesLive.Add(int64(blockSize(slab, 0) - cur))
		return ptr
	}
	dropSlabs := (cur - size) / SlabSize
	deadweight := (cur - size) % SlabSize
	if dropSlabs == 0 {
		return ptr
	}
	if deadweight > reallocMaxDeadweight {
		return h.migrate(ptr, cur, size)
	}
	tailAddr := slab + uintptr(slabs-dropSlabs)*SlabSize
	releaseSlabsSkipPrev(h, tailAddr, dropSlabs)
	*sizeSlabsPtr(slab) = uint64(slabs - dropSlabs)
	h.stats.BytesLive.Sub(int64(dropSlabs * SlabSize))
	return ptr
}

// migrate is the fallback path shared by every resize case that cannot be
// satisfied in place: allocate fresh, copy what fits, release the old
// block. On OOM the original block is left untouched and null is returned.
func (h *Heap) migrate(ptr uintptr, curSize, newSize int) uintptr {
	fresh := h.Allocate(newSize)
	if fresh == 0 {
		return 0
	}
	n := cmn.MinI(curSize, newSize)
	copy(bytesAt(fresh, n), bytesAt(ptr, n))
	h.Release(ptr)
	return fresh
}
