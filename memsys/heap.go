package memsys

import (
	"sync"

	"github.com/golang/glog"
)

// Heap is a single allocator instance: one process-wide heap region (spec.md
// section 3, "Heap state") plus the free-slab, small, and medium bins that
// track it. The allocator is single-threaded by design (spec.md section 5);
// nothing here is safe for concurrent use, matching the spec's non-goal of
// thread safety.
type Heap struct {
	source HeapSource

	slabs  slabBins
	small  smallBins
	medium mediumBins

	heapBase uintptr // address of the first slab ever committed, 0 if none yet
	heapEnd  uintptr // one past the last committed slab

	// lastRun* tracks the physical run (free or allocated) butting up
	// against heapEnd, so heap growth can absorb a trailing free region
	// instead of leaving a permanent gap (spec.md section 4.4).
	lastRunAddr  uintptr
	lastRunLen   int
	lastRunAlloc bool

	stats *Stats
	cfg   Config
}

var (
	defaultHeap     *Heap
	defaultHeapOnce sync.Once
)

// DefaultHeap returns a lazily constructed, package-wide heap backed by an
// ArenaHeapSource, mirroring the teacher's DefaultPageMM()/gmm singleton
// pattern. Most programs only need one heap and can use the package-level
// Allocate/Release/Resize/ZeroAllocate instead of constructing their own.
func DefaultHeap() *Heap {
	defaultHeapOnce.Do(func() {
		cfg := loadConfig()
		defaultHeap = NewHeap(NewArenaHeapSource(cfg.ArenaBytes), cfg)
	})
	return defaultHeap
}

// NewHeap constructs a heap backed by the given source. cfg may be the zero
// value, in which case defaults apply.
func NewHeap(source HeapSource, cfg Config) *Heap {
	cfg = cfg.withDefaults()
	h := &Heap{
		source:       source,
		slabs:        newSlabBins(),
		small:        newSmallBins(),
		medium:       newMediumBins(),
		stats:        newStats(),
		cfg:          cfg,
		lastRunAlloc: true, // sentinel: heap start behaves as if preceded by an allocated run
	}
	if glog.V(2) {
		glog.Infof("memsys: new heap, arena=%d bytes", cfg.ArenaBytes)
	}
	return h
}

// Stats returns a point-in-time snapshot of allocator counters.
func (h *Heap) Stats() Stats { return h.stats.snapshot() }

func Allocate(size int) uintptr            { return DefaultHeap().Allocate(size) }
func Release(ptr uintptr)                  { DefaultHeap().Release(ptr) }
func Resize(ptr uintptr, size int) uintptr { return DefaultHeap().Resize(ptr, size) }
func ZeroAllocate(n, size int) uintptr     { return DefaultHeap().ZeroAllocate(n, size) }

// BytesAt returns a []byte view of the n bytes starting at ptr, letting a
// caller read or write an allocation's payload. ptr must be a value
// previously returned by Allocate/Resize/ZeroAllocate and not yet released;
// the returned slice is only valid until the next Release of that pointer.
func BytesAt(ptr uintptr, n int) []byte { return bytesAt(ptr, n) }
