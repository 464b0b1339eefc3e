package memsys

import (
	"math/bits"

	"github.com/nvaistore-labs/slaballoc/cmn"
	"github.com/nvaistore-labs/slaballoc/cmn/debug"
)

// Packed (tiny) engine. Every request at or below maxTinyBlockSz is first
// rounded up by adjTiny to one of numSmallBins fixed block sizes, then
// served from a single-slab "packed" layout: one bitmap of free blocks
// shared by every block in the slab, no per-block header (spec.md section
// 4.1, "Packed layout"). This keeps per-block overhead at zero bytes for
// the sizes the original allocator was built to make cheap.
//
// Two physical sub-layouts share one 24-byte fixed prefix:
//
//	offset 0:  flags
//	offset 1:  class index (which of numSmallBins this slab serves)
//	offset 2:  allocCount (uint16)
//	offset 4:  level-1 group bitmap (uint32, two-level layout only)
//	offset 8:  next (small-bin free list)
//	offset 16: prev
//	offset 24: level-2 group words (two-level) or one flat uint64 bitmap
//
// A set bit always means "free"; scanning for an allocation is a
// trailing-zero search, matching the original's __builtin_ctz idiom
// (grounded on other_examples' bitmap-based arena allocator technique).

// adjTiny buckets an arbitrary request size into one of the fixed tiny
// block sizes, trading a little internal fragmentation for far fewer
// distinct free lists to track (spec.md section 4.1).
func adjTiny(size int) int {
	switch {
	case size < 320:
		if size == 256 {
			return size + 16
		}
		return size
	case size < 416:
		return (size &^ 0x1f) + 16
	default:
		return 400 + 3*(((size+48)>>4)&^0xf)
	}
}

// smallBinIndex maps an already-adjusted tiny size to its free-list index.
func smallBinIndex(size int) int {
	switch {
	case size < 256:
		return size/16 - 1
	case size < 368:
		return size*3/64 + 3
	default:
		return (size*3+32)/128 + 11
	}
}

// classSizes[i] is the representative (adjusted) block size served by
// small-bin i, derived by sweeping adjTiny/smallBinIndex rather than
// hand-copied from the original constants.
var classSizes [numSmallBins]int

func init() {
	next := 0
	for sz := Align; sz <= maxTinyBlockSz && next < numSmallBins; sz += Align {
		a := adjTiny(sz)
		idx := smallBinIndex(a)
		if idx == next {
			classSizes[next] = a
			next++
		}
	}
	cmn.Assert(next == numSmallBins)
}

// tinyClass describes one small-bin's physical slab layout.
type tinyClass struct {
	blockSize   int
	twoLevel    bool
	numGroups   int
	blocksStart int
	capacity    int
}

func computeTinyClass(blockSize int) tinyClass {
	if blockSize <= twoLevelThreshold {
		for cap := SlabSize / blockSize; cap > 0; cap-- {
			groups := cmn.DivCeil(cap, level2GroupSize)
			header := alignUp16(twoLevelBaseFields + groups*2)
			if header+cap*blockSize <= SlabSize {
				return tinyClass{blockSize, true, groups, header, cap}
			}
		}
		cmn.Assert(false)
	}
	cap := (SlabSize - flatPackedHeaderSize) / blockSize
	cap = cmn.MinI(cap, 64)
	return tinyClass{blockSize, false, 0, flatPackedHeaderSize, cap}
}

func classIdxPtr(addr uintptr) *uint8    { return u8At(addr + 1) }
func tinyAllocCountPtr(addr uintptr) *uint16 { return u16At(addr + 2) }
func level1Ptr(addr uintptr) *uint32     { return u32At(addr + 4) }
func tinyNextPtr(addr uintptr) *uintptr  { return uintptrAt(addr + 8) }
func tinyPrevPtr(addr uintptr) *uintptr  { return uintptrAt(addr + 16) }
func flatBitmapPtr(addr uintptr) *uint64 { return u64At(addr + 24) }
func level2Ptr(addr uintptr, group int) *uint16 {
	return u16At(addr + 24 + uintptr(group)*2)
}

// initPackedSlab lays a fresh packed header over a just-acquired slab,
// marking every block free. The ALLOC/PREV_ALLOC bits set by acquireSlabs
// are preserved, not overwritten.
func initPackedSlab(addr uintptr, classIdx int, cls tinyClass) {
	f := *flagsPtr(addr)
	setSlabFlags(addr, f|flagPacked)
	*classIdxPtr(addr) = uint8(classIdx)
	*tinyAllocCountPtr(addr) = 0
	*tinyNextPtr(addr) = 0
	*tinyPrevPtr(addr) = 0

	if cls.twoLevel {
		fullGroups := cls.capacity / level2GroupSize
		rem := cls.capacity % level2GroupSize
		var l1 uint32
		for g := 0; g < cls.numGroups; g++ {
			var w uint16
			switch {
			case g < fullGroups:
				w = 0xFFFF
			case g == fullGroups && rem > 0:
				w = uint16(1<<uint(rem)) - 1
			}
			*level2Ptr(addr, g) = w
			if w != 0 {
				l1 |= 1 << uint(g)
			}
		}
		*level1Ptr(addr) = l1
		return
	}
	var w uint64
	if cls.capacity >= 64 {
		w = ^uint64(0)
	} else {
		w = (uint64(1) << uint(cls.capacity)) - 1
	}
	*flatBitmapPtr(addr) = w
}

func findFreeBlock(addr uintptr, cls tinyClass) (int, bool) {
	if cls.twoLevel {
		l1 := *level1Ptr(addr)
		for l1 != 0 {
			g := bits.TrailingZeros32(l1)
			word := *level2Ptr(addr, g)
			if word != 0 {
				return g*level2GroupSize + bits.TrailingZeros16(word), true
			}
			l1 &^= 1 << uint(g)
		}
		return 0, false
	}
	word := *flatBitmapPtr(addr)
	if word == 0 {
		return 0, false
	}
	return bits.TrailingZeros64(word), true
}

func markBlockAlloc(addr uintptr, cls tinyClass, idx int) {
	if cls.twoLevel {
		g, b := idx/level2GroupSize, idx%level2GroupSize
		w := level2Ptr(addr, g)
		*w &^= 1 << uint(b)
		if *w == 0 {
			*level1Ptr(addr) &^= 1 << uint(g)
		}
	} else {
		*flatBitmapPtr(addr) &^= 1 << uint(idx)
	}
	*tinyAllocCountPtr(addr)++
}

func markBlockFree(addr uintptr, cls tinyClass, idx int) {
	if cls.twoLevel {
		g, b := idx/level2GroupSize, idx%level2GroupSize
		*level2Ptr(addr, g) |= 1 << uint(b)
		*level1Ptr(addr) |= 1 << uint(g)
	} else {
		*flatBitmapPtr(addr) |= 1 << uint(idx)
	}
	*tinyAllocCountPtr(addr)--
}

func tinyBlockAddr(addr uintptr, cls tinyClass, idx int) uintptr {
	return addr + uintptr(cls.blocksStart) + uintptr(idx)*uintptr(cls.blockSize)
}

// smallBins is the set of per-class free lists of packed slabs with at
// least one free block (spec.md section 3, "small_bins[0..22]").
type smallBins struct {
	classes [numSmallBins]tinyClass
	heads   [numSmallBins]uintptr
}

func newSmallBins() smallBins {
	var sb smallBins
	for i, sz := range classSizes {
		sb.classes[i] = computeTinyClass(sz)
	}
	return sb
}

func (sb *smallBins) unlink(classIdx int, addr uintptr) {
	next := *tinyNextPtr(addr)
	prev := *tinyPrevPtr(addr)
	if prev != 0 {
		*tinyNextPtr(prev) = next
	} else {
		sb.heads[classIdx] = next
	}
	if next != 0 {
		*tinyPrevPtr(next) = prev
	}
}

func (sb *smallBins) pushHead(classIdx int, addr uintptr) {
	head := sb.heads[classIdx]
	*tinyNextPtr(addr) = head
	*tinyPrevPtr(addr) = 0
	if head != 0 {
		*tinyPrevPtr(head) = addr
	}
	sb.heads[classIdx] = addr
}

// allocPacked serves one block from small-bin classIdx, acquiring a fresh
// slab from the heap if the bin is currently empty.
func allocPacked(h *Heap, classIdx int) uintptr {
	cls := h.small.classes[classIdx]
	addr := h.small.heads[classIdx]
	if addr == 0 {
		slabAddr, ok := acquireSlabs(h, 1)
		if !ok {
			return 0
		}
		initPackedSlab(slabAddr, classIdx, cls)
		h.small.pushHead(classIdx, slabAddr)
		addr = slabAddr
	}

	idx, ok := findFreeBlock(addr, cls)
	debug.AssertMsg(ok, "small-bin %d head %#x has no free block", classIdx, addr)
	markBlockAlloc(addr, cls, idx)
	if int(*tinyAllocCountPtr(addr)) == cls.capacity {
		h.small.unlink(classIdx, addr)
	}
	h.stats.BytesLive.Add(int64(cls.blockSize))
	return tinyBlockAddr(addr, cls, idx)
}

// freePacked returns a block to its slab, repatriating the whole slab to
// the free-slab registry once its last live block is released.
func freePacked(h *Heap, ptr uintptr) {
	slab := ptrToSlab(ptr)
	classIdx := int(*classIdxPtr(slab))
	cls := h.small.classes[classIdx]
	idx := int(ptr-slab-uintptr(cls.blocksStart)) / cls.blockSize

	wasFull := int(*tinyAllocCountPtr(slab)) == cls.capacity
	markBlockFree(slab, cls, idx)
	h.stats.BytesLive.Sub(int64(cls.blockSize))

	if wasFull {
		h.small.pushHead(classIdx, slab)
	}
	if *tinyAllocCountPtr(slab) == 0 {
		h.small.unlink(classIdx, slab)
		releaseSlabs(h, slab, 1)
	}
}

// tinyBlockSize reports the physical block size backing ptr, for Resize.
func tinyBlockSize(ptr uintptr) int {
	slab := ptrToSlab(ptr)
	classIdx := int(*classIdxPtr(slab))
	return classSizes[classIdx]
}
