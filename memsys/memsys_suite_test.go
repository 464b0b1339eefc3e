// Package memsys provides memory management and slab allocation on top of
// a segregated slab allocator with three size regimes.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package memsys_test

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/nvaistore-labs/slaballoc/memsys"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestMemsys(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "memsys Suite")
}

func newHeap() *memsys.Heap {
	return memsys.NewHeap(memsys.NewArenaHeapSource(64<<20), memsys.Config{})
}

func bytesOf(ptr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
}

var _ = Describe("allocator round trips", func() {
	var h *memsys.Heap

	BeforeEach(func() {
		h = newHeap()
	})

	Describe("alignment", func() {
		It("every non-null pointer is 16-byte aligned, across regimes", func() {
			for _, size := range []int{1, 15, 16, 200, 496, 497, 2000, 4080, 5000, 20000} {
				p := h.Allocate(size)
				Expect(p).NotTo(BeZero(), fmt.Sprintf("size=%d", size))
				Expect(p % memsys.Align).To(BeZero(), fmt.Sprintf("size=%d", size))
				h.Release(p)
			}
		})
	})

	Describe("release(allocate(s)) round trip", func() {
		It("restores the heap to a consistent, byte-equivalent state", func() {
			for _, size := range []int{1, 64, 128, 496, 1000, 4080, 9000} {
				before := h.Stats()
				p := h.Allocate(size)
				Expect(p).NotTo(BeZero())
				h.Release(p)
				after := h.Stats()
				Expect(after.BytesLive.Load()).To(Equal(before.BytesLive.Load()))
				Expect(h.Check()).To(Succeed())
			}
		})
	})

	Describe("tiny regime", func() {
		It("packs two 1-byte allocations 16 bytes apart in the same slab", func() {
			p1 := h.Allocate(1)
			p2 := h.Allocate(1)
			Expect(p2 - p1).To(Equal(uintptr(memsys.Align)))
		})

		It("is LIFO within a packed slab", func() {
			p := h.Allocate(128)
			q := h.Allocate(128)
			h.Release(p)
			r := h.Allocate(128)
			Expect(r).To(Equal(p))
			h.Release(q)
			h.Release(r)
		})

		It("fills one packed slab, then spills into a second", func() {
			slabOf := func(p uintptr) uintptr { return p &^ (memsys.SlabSize - 1) }
			first := h.Allocate(16)
			Expect(first).NotTo(BeZero())
			home := slabOf(first)

			var ptrs []uintptr
			ptrs = append(ptrs, first)
			var spill uintptr
			for i := 0; i < 512; i++ { // capacity is well under 512 for 16-byte blocks
				p := h.Allocate(16)
				Expect(p).NotTo(BeZero())
				if slabOf(p) != home {
					spill = p
					break
				}
				ptrs = append(ptrs, p)
			}
			Expect(spill).NotTo(BeZero(), "expected a second slab to be used")
			for _, p := range ptrs {
				h.Release(p)
			}
			h.Release(spill)
		})
	})

	Describe("large regime", func() {
		It("carves a 2-slab run 32 bytes in, and coalesces both slabs on release", func() {
			p := h.Allocate(4096)
			Expect(p).NotTo(BeZero())
			slab := p &^ (memsys.SlabSize - 1)
			Expect(p - slab).To(Equal(uintptr(32)))
			h.Release(p)
			Expect(h.Check()).To(Succeed())
		})

		It("coalesces two adjacent full-slab allocations on release", func() {
			p := h.Allocate(4096)
			q := h.Allocate(4096)
			h.Release(p)
			h.Release(q)
			Expect(h.Check()).To(Succeed())
		})
	})

	Describe("resize", func() {
		It("preserves bytes 0..min(old,new) across a migrate", func() {
			p := h.Allocate(2000)
			buf := bytesOf(p, 2000)
			for i := range buf {
				buf[i] = byte(i)
			}
			q := h.Resize(p, 9000)
			Expect(q).NotTo(BeZero())
			out := bytesOf(q, 2000)
			for i := 0; i < 2000; i++ {
				Expect(out[i]).To(Equal(byte(i)))
			}
			h.Release(q)
		})

		It("returns the original pointer when shrinking only slightly", func() {
			p := h.Allocate(3000)
			q := h.Resize(p, 2990)
			Expect(q).To(Equal(p))
			h.Release(q)
		})

		It("treats a null source as allocate", func() {
			p := h.Resize(0, 128)
			Expect(p).NotTo(BeZero())
			h.Release(p)
		})

		It("treats a zero size as release and returns null", func() {
			p := h.Allocate(128)
			q := h.Resize(p, 0)
			Expect(q).To(BeZero())
		})
	})

	Describe("zero-allocate", func() {
		It("zeros the requested region", func() {
			p := h.ZeroAllocate(16, 8)
			Expect(p).NotTo(BeZero())
			for _, b := range bytesOf(p, 16*8) {
				Expect(b).To(Equal(byte(0)))
			}
			h.Release(p)
		})
	})

	Describe("out-of-memory", func() {
		It("returns the null sentinel without corrupting the heap", func() {
			small := memsys.NewHeap(memsys.NewArenaHeapSource(2*memsys.SlabSize), memsys.Config{})
			p := small.Allocate(4096)
			Expect(p).NotTo(BeZero())
			q := small.Allocate(4096)
			Expect(q).To(BeZero())
			Expect(small.Check()).To(Succeed())
			small.Release(p)
		})
	})
})
