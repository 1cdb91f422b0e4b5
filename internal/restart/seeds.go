package restart

const defaultBaseSeed int64 = 1

// deriveSeed gives restart i its own stream from base with a SplitMix64
// finaliser, so neighbouring indices get unrelated seeds.
func deriveSeed(base int64, i uint64) int64 {
	if base == 0 {
		base = defaultBaseSeed
	}
	x := uint64(base) ^ (i + 0x9e3779b97f4a7c15)
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x ^= x >> 31
	return int64(x)
}

// SeedsFor lists the seeds a run with the given base would use.
func SeedsFor(base int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = deriveSeed(base, uint64(i))
	}
	return out
}
