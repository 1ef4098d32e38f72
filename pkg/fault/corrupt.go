package fault

import "math/rand"

// corruptionCount returns how many bytes of an L-byte buffer should be
// flipped to hit percent pct: k = round(L * p / 100).
func corruptionCount(l int, pct float64) int {
	k := int(float64(l)*pct/100 + 0.5)
	if k < 0 {
		k = 0
	}
	if k > l {
		k = l
	}
	return k
}

// mutateBuffer XORs exactly corruptionCount(len(buf), pct) distinct bytes of
// buf with a non-zero mask, deterministically from rng. Index selection
// uses one PRNG draw per chosen index (a partial Fisher-Yates shuffle over
// an index array of length L, drawing "k distinct of n"); the
// mask for each chosen index is drawn separately, rejecting and redrawing
// on zero so the byte is guaranteed to change.
func mutateBuffer(rng *rand.Rand, buf []byte, pct float64) {
	l := len(buf)
	k := corruptionCount(l, pct)
	if k == 0 {
		return
	}

	indices := make([]int, l)
	for i := range indices {
		indices[i] = i
	}

	for i := 0; i < k; i++ {
		j := i + rng.Intn(l-i)
		indices[i], indices[j] = indices[j], indices[i]

		idx := indices[i]
		var mask byte
		for mask == 0 {
			mask = byte(rng.Intn(256))
		}
		buf[idx] ^= mask
	}
}
