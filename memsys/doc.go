// Package memsys implements a segregated slab allocator on top of a
// monotonically growing, page-aligned heap region. It exposes the classical
// four-function allocator interface -- Allocate, Release, Resize,
// ZeroAllocate -- and is designed for single-threaded use inside a hosted
// test harness, where both throughput and space utilization are scored.
//
// The heap is carved into fixed-size, fixed-alignment units called slabs.
// Every allocation request is routed into one of three size regimes:
//
//   - tiny:   requests <= maxTinyBlockSz, packed many-to-a-slab with
//     bitvector occupancy tracking (packed.go)
//   - medium: requests that still fit in a single slab, carved with an
//     8-entry inline offset table (medium.go)
//   - large:  requests spanning a contiguous run of slabs (medium.go,
//     shared machinery with medium blocks)
//
// Slabs that are entirely free are returned to a segregated set of
// free-slab bins (lifecycle.go) from which future requests of any regime
// are satisfied before the backing HeapSource is asked to grow the heap.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package memsys
