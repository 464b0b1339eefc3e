package memsys

import "testing"

func TestAdjTinyAndSmallBinIndex(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"min", 16},
		{"mid-small", 128},
		{"boundary-256", 256},
		{"just-above-256", 272},
		{"mid-320", 352},
		{"boundary-416", 416},
		{"max-tiny", 496},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adj := adjTiny(tt.size)
			idx := smallBinIndex(adj)
			if idx < 0 || idx >= numSmallBins {
				t.Fatalf("adjTiny(%d)=%d -> smallBinIndex=%d out of range [0,%d)", tt.size, adj, idx, numSmallBins)
			}
			if classSizes[idx] != adj {
				t.Fatalf("adjTiny(%d)=%d routes to bin %d whose class size is %d", tt.size, adj, idx, classSizes[idx])
			}
		})
	}
}

func TestAdjTiny256Exception(t *testing.T) {
	if got := adjTiny(256); got != 272 {
		t.Fatalf("adjTiny(256) = %d, want 272 (the single rebucketing exception)", got)
	}
}

func TestComputeTinyClassFits(t *testing.T) {
	for classIdx, sz := range classSizes {
		cls := computeTinyClass(sz)
		used := cls.blocksStart + cls.capacity*cls.blockSize
		if used > SlabSize {
			t.Fatalf("class %d (blockSize=%d): header+blocks = %d > SlabSize", classIdx, sz, used)
		}
		if cls.capacity <= 0 {
			t.Fatalf("class %d (blockSize=%d): non-positive capacity", classIdx, sz)
		}
		wantTwoLevel := sz <= twoLevelThreshold
		if cls.twoLevel != wantTwoLevel {
			t.Fatalf("class %d (blockSize=%d): twoLevel=%v, want %v", classIdx, sz, cls.twoLevel, wantTwoLevel)
		}
	}
}

func TestBitsetNextSet(t *testing.T) {
	b := newBitset(70)
	b.set(0)
	b.set(33)
	b.set(69)

	cases := []struct {
		from int
		want int
	}{
		{0, 0},
		{1, 33},
		{34, 69},
		{70, -1},
	}
	for _, c := range cases {
		if got := b.nextSet(c.from); got != c.want {
			t.Fatalf("nextSet(%d) = %d, want %d", c.from, got, c.want)
		}
	}

	b.clear(33)
	if got := b.nextSet(1); got != 69 {
		t.Fatalf("after clear(33): nextSet(1) = %d, want 69", got)
	}
}
