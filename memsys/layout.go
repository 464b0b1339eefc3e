package memsys

import (
	"unsafe"

	"github.com/nvaistore-labs/slaballoc/cmn"
)

// Build-time configuration (spec.md section 6). These are compile-time
// constants rather than runtime config: changing the slab size or alignment
// changes every offset computed in this package.
const (
	// SlabSize is the fixed, fixed-aligned unit of coarse allocation.
	SlabSize      = 4096
	slabSizeShift = 12 // log2(SlabSize)

	// Align is the alignment guaranteed for every pointer this package
	// returns to callers.
	Align      = 16
	alignShift = 4 // log2(Align)

	// twoLevelThreshold: packed block sizes at or below this use a
	// two-level bitmap; larger packed sizes use a single flat bitmap.
	twoLevelThreshold = 48

	// maxTinyBlockSz is the largest request routed to the packed (tiny)
	// engine. Anything larger is medium or large.
	maxTinyBlockSz = 496

	// mediumSlabPrefix / mediumHeaderSize: together they make up the
	// 32-byte large/medium slab header (see medium.go) that precedes
	// block 0 in the first slab of any medium or large run -- the
	// 8-entry offset table plus block-alloc bitmap of spec.md section
	// 3/4.3, widened to explicit byte fields per section 9's note that
	// squeezing the bit-packed layout isn't load-bearing.
	mediumSlabPrefix = Align
	mediumHeaderSize = Align

	// medium blocks: everything that doesn't fit a packed slab but still
	// fits (header included) in a single slab.
	minMediumBlockSz = maxTinyBlockSz + Align                            // 512
	maxMediumBlockSz = SlabSize - mediumSlabPrefix - mediumHeaderSize // 4064

	// large blocks: anything that needs more than one slab.
	minLargeBlockSz = SlabSize

	// slab bins: segregated by exact slab count up to numSegSlabBins,
	// with one final overflow bin (sorted ascending by size) for
	// anything larger.
	numSlabBins    = 128
	numSegSlabBins = numSlabBins - 1 // 127
	maxSegSlabSz   = numSegSlabBins  // 127
	overflowBin    = numSlabBins - 1

	// small-bins: packed-slab free lists, grouped above 256 bytes (see
	// adjTiny / smallBinIndex).
	numSmallBins = (maxTinyBlockSz / Align) - 8 // 23

	// medium-bins: exact-size free lists of medium blocks, 16-byte
	// stride from minMediumBlockSz to maxMediumBlockSz inclusive.
	numMediumBins = ((maxMediumBlockSz - minMediumBlockSz) / Align) + 1 // 223

	// reallocMaxDeadweight bounds how much unusable trailing space a
	// resize may leave behind before it is forced to migrate instead.
	reallocMaxDeadweight = maxTinyBlockSz // 496

	// flag byte bits, occupying the first byte of every slab.
	flagAlloc     = 0x1 // slab owns live blocks
	flagPrevAlloc = 0x2 // physically preceding slab is allocated
	flagPacked    = 0x4 // this slab's layout is packed tiny-block form

	// flatPackedHeaderSize is the fixed header size for packed slabs
	// whose block size is > twoLevelThreshold (flat 64-bit bitmap).
	// Block 0 begins at this offset.
	flatPackedHeaderSize = 32

	// freeRegionHeaderSize / largeHeaderSize: both free-region headers
	// and large/medium slab headers fit in the same 32 bytes as the
	// flat packed header, so block 0 of a large/medium slab also begins
	// at offset 32.
	freeRegionHeaderSize = 32
	largeHeaderSize      = 32

	// level2GroupSize is the number of blocks tracked by a single level-1
	// bit in a two-level packed bitmap.
	level2GroupSize = 16

	// twoLevelBaseFields is the fixed portion (flags, size class,
	// alloc count, level-1 word, free-list pointers) of a two-level
	// packed header, before the variable-length level-2 bitmap.
	twoLevelBaseFields = 24
)

// slabAlign masks a pointer down to the start of its containing slab.
func slabAlign(addr uintptr) uintptr {
	return addr &^ (SlabSize - 1)
}

// alignUp16 rounds n up to the next multiple of Align.
func alignUp16(n int) int {
	return cmn.AlignUp(n, Align)
}

// flagsPtr returns a pointer to the flag byte at the start of the slab at addr.
func flagsPtr(addr uintptr) *uint8 {
	return (*uint8)(unsafe.Pointer(addr))
}

func slabIsAlloc(addr uintptr) bool {
	return *flagsPtr(addr)&flagAlloc != 0
}

func slabIsPrevAlloc(addr uintptr) bool {
	return *flagsPtr(addr)&flagPrevAlloc != 0
}

func slabIsPacked(addr uintptr) bool {
	return *flagsPtr(addr)&flagPacked != 0
}

func setSlabFlags(addr uintptr, flags uint8) {
	*flagsPtr(addr) = flags
}

func setPrevAlloc(addr uintptr, prevAlloc bool) {
	f := *flagsPtr(addr)
	if prevAlloc {
		f |= flagPrevAlloc
	} else {
		f &^= flagPrevAlloc
	}
	*flagsPtr(addr) = f
}

// ptrToSlab recovers the containing slab's base address for an interior
// pointer returned to a caller.
func ptrToSlab(addr uintptr) uintptr {
	return slabAlign(addr)
}

func u64At(addr uintptr) *uint64 {
	return (*uint64)(unsafe.Pointer(addr))
}

func u32At(addr uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(addr))
}

func u16At(addr uintptr) *uint16 {
	return (*uint16)(unsafe.Pointer(addr))
}

func u8At(addr uintptr) *uint8 {
	return (*uint8)(unsafe.Pointer(addr))
}

func uintptrAt(addr uintptr) *uintptr {
	return (*uintptr)(unsafe.Pointer(addr))
}

// bytesAt returns a []byte view of n bytes starting at addr, for zeroing and
// copying payloads. It does not outlive the heap it points into.
func bytesAt(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}
