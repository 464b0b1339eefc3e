// Package main implements allocbench, a synthetic-workload driver for the
// memsys allocator.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"hash"
	"math/rand"
	"os"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/urfave/cli"

	"github.com/nvaistore-labs/slaballoc/memsys"
)

var (
	opsFlag = cli.IntFlag{
		Name:  "ops",
		Usage: "number of allocator operations to perform",
		Value: 200000,
	}
	seedFlag = cli.Int64Flag{
		Name:  "seed",
		Usage: "deterministic PRNG seed driving the workload",
		Value: 1,
	}
	arenaFlag = cli.IntFlag{
		Name:  "arena",
		Usage: "arena size in bytes reserved for the heap",
		Value: memsys.DefaultArenaBytes,
	}
	maxLiveFlag = cli.IntFlag{
		Name:  "max-live",
		Usage: "cap on concurrently live allocations",
		Value: 4096,
	}
	checkFlag = cli.BoolFlag{
		Name:  "check",
		Usage: "run the consistency checker after every operation (slow)",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "allocbench"
	app.Usage = "drive the memsys allocator with a synthetic, reproducible workload"
	app.Flags = []cli.Flag{opsFlag, seedFlag, arenaFlag, maxLiveFlag, checkFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "allocbench:", err)
		os.Exit(1)
	}
}

// live is one outstanding allocation the workload is tracking: its pointer,
// its requested size, and the seed of the fill pattern written into it.
type live struct {
	ptr  uintptr
	size int
	seed byte
}

// weighted operation kinds the workload chooses among.
const (
	opAllocTiny = iota
	opAllocMedium
	opAllocLarge
	opRelease
	opResize
	opZeroAlloc
	numOps
)

func run(c *cli.Context) error {
	ops := c.Int("ops")
	seed := c.Int64("seed")
	arena := c.Int("arena")
	maxLive := c.Int("max-live")
	doCheck := c.Bool("check")

	rng := rand.New(rand.NewSource(seed))
	h := memsys.NewHeap(memsys.NewArenaHeapSource(arena), memsys.Config{})

	var liveSet []live
	digest := xxhash.New64()
	start := time.Now()
	reportEvery := ops / 10
	if reportEvery == 0 {
		reportEvery = 1
	}

	for i := 0; i < ops; i++ {
		op := chooseOp(rng, len(liveSet), maxLive)
		switch op {
		case opAllocTiny:
			liveSet = tryAlloc(h, &liveSet, rng, 1, 496, digest)
		case opAllocMedium:
			liveSet = tryAlloc(h, &liveSet, rng, 497, 4064, digest)
		case opAllocLarge:
			liveSet = tryAlloc(h, &liveSet, rng, 4065, 64*1024, digest)
		case opZeroAlloc:
			liveSet = tryZeroAlloc(h, &liveSet, rng, digest)
		case opRelease:
			liveSet = tryRelease(h, liveSet, rng)
		case opResize:
			liveSet = tryResize(h, liveSet, rng, digest)
		}

		if doCheck {
			if err := h.Check(); err != nil {
				return fmt.Errorf("operation %d: %w", i, err)
			}
		}
		if (i+1)%reportEvery == 0 {
			fmt.Printf("progress: %d/%d ops, %d live, elapsed %s\n", i+1, ops, len(liveSet), time.Since(start).Round(time.Millisecond))
		}
	}

	for _, l := range liveSet {
		h.Release(l.ptr)
	}

	s := h.Stats()
	fmt.Println("=== allocbench summary ===")
	fmt.Printf("seed=%d ops=%d elapsed=%s\n", seed, ops, time.Since(start).Round(time.Millisecond))
	fmt.Printf("allocs=%d releases=%d resizes=%d ooms=%d\n", s.Allocs.Load(), s.Releases.Load(), s.Resizes.Load(), s.OOMs.Load())
	fmt.Printf("bytes live at exit=%d, slabs used at exit=%d\n", s.BytesLive.Load(), s.SlabsUsed.Load())
	fmt.Printf("content digest=%016x\n", digest.Sum64())
	if err := h.Check(); err != nil {
		return fmt.Errorf("final consistency check failed: %w", err)
	}
	return nil
}

func chooseOp(rng *rand.Rand, liveCount, maxLive int) int {
	if liveCount >= maxLive {
		return opRelease
	}
	if liveCount == 0 {
		return opAllocTiny + rng.Intn(3)
	}
	return rng.Intn(numOps)
}

func fillPattern(buf []byte, seed byte) {
	for i := range buf {
		buf[i] = seed + byte(i)
	}
}

func tryAlloc(h *memsys.Heap, liveSet *[]live, rng *rand.Rand, lo, hi int, digest hash.Hash64) []live {
	size := lo + rng.Intn(hi-lo+1)
	ptr := h.Allocate(size)
	if ptr == 0 {
		return *liveSet
	}
	seed := byte(rng.Intn(256))
	buf := memsys.BytesAt(ptr, size)
	fillPattern(buf, seed)
	_, _ = digest.Write(buf)
	return append(*liveSet, live{ptr: ptr, size: size, seed: seed})
}

func tryZeroAlloc(h *memsys.Heap, liveSet *[]live, rng *rand.Rand, digest hash.Hash64) []live {
	n := 1 + rng.Intn(16)
	size := 1 + rng.Intn(256)
	ptr := h.ZeroAllocate(n, size)
	if ptr == 0 {
		return *liveSet
	}
	buf := memsys.BytesAt(ptr, n*size)
	_, _ = digest.Write(buf)
	return append(*liveSet, live{ptr: ptr, size: n * size, seed: 0})
}

func tryRelease(h *memsys.Heap, liveSet []live, rng *rand.Rand) []live {
	if len(liveSet) == 0 {
		return liveSet
	}
	i := rng.Intn(len(liveSet))
	h.Release(liveSet[i].ptr)
	liveSet[i] = liveSet[len(liveSet)-1]
	return liveSet[:len(liveSet)-1]
}

func tryResize(h *memsys.Heap, liveSet []live, rng *rand.Rand, digest hash.Hash64) []live {
	if len(liveSet) == 0 {
		return liveSet
	}
	i := rng.Intn(len(liveSet))
	l := liveSet[i]
	newSize := 1 + rng.Intn(64*1024)
	ptr := h.Resize(l.ptr, newSize)
	if ptr == 0 {
		liveSet[i] = liveSet[len(liveSet)-1]
		return liveSet[:len(liveSet)-1]
	}
	buf := memsys.BytesAt(ptr, newSize)
	_, _ = digest.Write(buf[:min(len(buf), l.size)])
	liveSet[i] = live{ptr: ptr, size: newSize, seed: l.seed}
	return liveSet
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
