package memsys

import (
	"unsafe"

	"github.com/nvaistore-labs/slaballoc/cmn"
)

// HeapSource is the lower-level, sbrk-style primitive this package consumes
// to grow the heap. It is deliberately kept out of this package's concerns
// (spec.md section 1 names the sbrk primitive as an external collaborator):
// callers may supply their own, e.g. one backed by a real mmap reservation.
type HeapSource interface {
	// ExtendHeap grows the heap by n contiguous slabs and returns the
	// address of the first new slab. The returned region must be
	// immediately adjacent to (and start where) any previously returned
	// region ended, and must be SlabSize-aligned. ok is false when the
	// source cannot satisfy the request.
	ExtendHeap(n int) (addr uintptr, ok bool)
}

// DefaultArenaBytes is the default virtual reservation made by
// ArenaHeapSource when no explicit size is requested.
const DefaultArenaBytes = 256 << 20 // 256 MiB

// ArenaHeapSource backs the heap with a single Go-allocated byte arena,
// reserved up front and committed slab-by-slab as ExtendHeap is called. It
// stands in for a real sbrk/mmap call: addresses handed out must never move,
// so -- unlike the teacher's memsys.Slab, which grows a ring by repeatedly
// appending freshly made []byte buffers -- this type commits into one fixed
// backing array instead of ever reallocating it.
type ArenaHeapSource struct {
	raw  []byte  // keeps the backing array alive; never touched after init
	base uintptr // first slab-aligned address within raw
	cap  uintptr // total committable bytes from base
	used uintptr // bytes already committed
}

// NewArenaHeapSource reserves maxBytes (rounded down to a whole number of
// slabs) of address space for the heap to grow into.
func NewArenaHeapSource(maxBytes int) *ArenaHeapSource {
	cmn.Assert(maxBytes > 0)
	raw := make([]byte, maxBytes+SlabSize)
	rawAddr := uintptr(unsafe.Pointer(&raw[0]))
	base := uintptr(cmn.AlignUp(int(rawAddr), SlabSize))
	capBytes := uintptr(cmn.AlignDown(maxBytes, SlabSize))
	return &ArenaHeapSource{raw: raw, base: base, cap: capBytes}
}

func (a *ArenaHeapSource) ExtendHeap(n int) (uintptr, bool) {
	need := uintptr(n) * SlabSize
	if a.used+need > a.cap {
		return 0, false
	}
	addr := a.base + a.used
	a.used += need
	return addr, true
}
