package memsys

import (
	"testing"
	"unsafe"
)

func fakePackedSlab(t *testing.T) uintptr {
	t.Helper()
	buf := make([]byte, 2*SlabSize)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	return (addr + SlabSize - 1) &^ (SlabSize - 1)
}

func TestPackedTwoLevelAllocFreeOrder(t *testing.T) {
	addr := fakePackedSlab(t)
	cls := computeTinyClass(16) // two-level: 16-byte blocks
	initPackedSlab(addr, 0, cls)

	seen := map[int]bool{}
	for i := 0; i < cls.capacity; i++ {
		idx, ok := findFreeBlock(addr, cls)
		if !ok {
			t.Fatalf("ran out of free blocks after %d allocations, capacity=%d", i, cls.capacity)
		}
		if seen[idx] {
			t.Fatalf("block %d allocated twice", idx)
		}
		seen[idx] = true
		markBlockAlloc(addr, cls, idx)
	}
	if _, ok := findFreeBlock(addr, cls); ok {
		t.Fatalf("slab should be completely full")
	}
	if got := int(*tinyAllocCountPtr(addr)); got != cls.capacity {
		t.Fatalf("allocCount = %d, want %d", got, cls.capacity)
	}

	// free block 0, it should be the next one handed out (lowest-bit-set)
	markBlockFree(addr, cls, 0)
	idx, ok := findFreeBlock(addr, cls)
	if !ok || idx != 0 {
		t.Fatalf("findFreeBlock after freeing 0 = (%d, %v), want (0, true)", idx, ok)
	}
}

func TestPackedFlatBitmapAllocFree(t *testing.T) {
	addr := fakePackedSlab(t)
	cls := computeTinyClass(64) // flat bitmap: block size >= 64
	if cls.twoLevel {
		t.Fatalf("64-byte class should use the flat bitmap layout")
	}
	initPackedSlab(addr, 3, cls)

	idx, ok := findFreeBlock(addr, cls)
	if !ok || idx != 0 {
		t.Fatalf("first free block = (%d, %v), want (0, true)", idx, ok)
	}
	markBlockAlloc(addr, cls, 0)
	addr0 := tinyBlockAddr(addr, cls, 0)
	if addr0 != addr+uintptr(cls.blocksStart) {
		t.Fatalf("block 0 address = %#x, want %#x", addr0, addr+uintptr(cls.blocksStart))
	}

	markBlockFree(addr, cls, 0)
	if got := int(*tinyAllocCountPtr(addr)); got != 0 {
		t.Fatalf("allocCount after free = %d, want 0", got)
	}
}

func TestSmallBinsLIFO(t *testing.T) {
	var sb smallBins
	a := fakePackedSlab(t)
	bBuf := make([]byte, 2*SlabSize)
	bAddr := uintptr(unsafe.Pointer(&bBuf[0]))
	b := (bAddr + SlabSize - 1) &^ (SlabSize - 1)

	sb.pushHead(0, a)
	sb.pushHead(0, b)
	if sb.heads[0] != b {
		t.Fatalf("head after two pushes = %#x, want %#x (most recent)", sb.heads[0], b)
	}
	sb.unlink(0, b)
	if sb.heads[0] != a {
		t.Fatalf("head after unlinking b = %#x, want %#x", sb.heads[0], a)
	}
}
