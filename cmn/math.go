package cmn

// MinI returns the smaller of a and b.
func MinI(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// MaxI returns the larger of a and b.
func MaxI(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// DivCeil divides a by b, rounding up.
func DivCeil(a, b int) int {
	return (a + b - 1) / b
}

// AlignUp rounds val up to the nearest multiple of mod, mod a power of two.
func AlignUp(val, mod int) int {
	return (val + mod - 1) &^ (mod - 1)
}

// AlignDown rounds val down to the nearest multiple of mod, mod a power of two.
func AlignDown(val, mod int) int {
	return val &^ (mod - 1)
}
