package memsys

import "go.uber.org/atomic"

// Stats tracks cumulative allocator counters, mirroring the teacher's
// memsys.Stats (mmsa.go): a handful of atomically-updated int64 counters
// that can be read out as a plain snapshot without locking the heap itself.
// Even though Heap is single-threaded by design, stats are kept atomic so a
// caller may poll Stats() from another goroutine while the owning goroutine
// keeps allocating.
type Stats struct {
	Allocs    atomic.Int64 // successful Allocate/ZeroAllocate calls
	Releases  atomic.Int64 // Release calls
	Resizes   atomic.Int64 // Resize calls
	OOMs      atomic.Int64 // requests the HeapSource could not satisfy
	SlabsUsed atomic.Int64 // slabs currently allocated (not part of a free region)
	BytesLive atomic.Int64 // physical block bytes currently outstanding to callers
}

func newStats() *Stats { return &Stats{} }

// snapshot returns a plain copy of the counters' current values, safe to
// hand to a caller without exposing the atomics themselves.
func (s *Stats) snapshot() Stats {
	var out Stats
	out.Allocs.Store(s.Allocs.Load())
	out.Releases.Store(s.Releases.Load())
	out.Resizes.Store(s.Resizes.Load())
	out.OOMs.Store(s.OOMs.Load())
	out.SlabsUsed.Store(s.SlabsUsed.Load())
	out.BytesLive.Store(s.BytesLive.Load())
	return out
}
