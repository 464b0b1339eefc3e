package memsys

// Free-region header, written into the first slab of a maximal run of N >= 1
// contiguous free slabs (spec.md section 3, "Free slab region"):
//
//	offset 0:  flags (1 byte, low bits only; ALLOC/PACKED always clear here)
//	offset 8:  next  (uintptr, into the owning slab bin)
//	offset 16: prev  (uintptr, into the owning slab bin)
//	offset 24: numSlabs (uint64, N)
//
// A footer mirroring N is written 8 bytes before the slab just past the
// region, so the physical predecessor of any slab can be located in O(1).

func regionNextPtr(addr uintptr) *uintptr { return uintptrAt(addr + 8) }
func regionPrevPtr(addr uintptr) *uintptr { return uintptrAt(addr + 16) }
func regionNumSlabsPtr(addr uintptr) *uint64 { return u64At(addr + 24) }

func regionNumSlabs(addr uintptr) int { return int(*regionNumSlabsPtr(addr)) }

// regionFooterPtr returns the footer slot for a region of n slabs starting
// at addr: the 8 bytes immediately preceding the slab just past the region.
func regionFooterPtr(addr uintptr, n int) *uint64 {
	end := addr + uintptr(n)*SlabSize
	return u64At(end - 8)
}

// initFreeRegion writes a fresh free-region header (and footer) covering n
// slabs starting at addr. prevAlloc records whether the physically
// preceding slab is allocated, for invariant 2's bookkeeping.
func initFreeRegion(addr uintptr, n int, prevAlloc bool) {
	var flags uint8
	if prevAlloc {
		flags = flagPrevAlloc
	}
	setSlabFlags(addr, flags)
	*regionNumSlabsPtr(addr) = uint64(n)
	*regionFooterPtr(addr, n) = uint64(n)
}

// prevPhysicalFree reports whether the slab physically preceding addr is a
// free region, and if so returns its start address and length. Only valid
// to call when addr is not the first slab the heap ever owned.
func prevPhysicalFree(addr uintptr) (start uintptr, n int, ok bool) {
	if slabIsPrevAlloc(addr) {
		return 0, 0, false
	}
	footer := u64At(addr - 8)
	n = int(*footer)
	start = addr - uintptr(n)*SlabSize
	return start, n, true
}
