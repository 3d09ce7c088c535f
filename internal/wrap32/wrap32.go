// Package wrap32 implements TCP's 32-bit wrapping sequence-number arithmetic:
// wrapping an absolute byte index relative to an ISN, and unwrapping a
// wrapped value back to the absolute index nearest a checkpoint.
package wrap32

const wrapMod = uint64(1) << 32

// Wrap32 is an opaque 32-bit sequence number.
type Wrap32 uint32

// Wrap returns the wrapped representation of absolute n relative to zero.
func Wrap(n uint64, zero Wrap32) Wrap32 {
	return zero + Wrap32(uint32(n%wrapMod))
}

// Unwrap returns the absolute index nearest checkpoint whose wrapped form
// (relative to zero) equals w. Among the (at most three) 2^32-spaced
// candidates, an exact tie (the naive candidate and one neighbor are both
// exactly 2^31 from checkpoint) always shifts off the naive candidate onto
// that neighbor — it is never silently kept just because the comparison
// landed on a boundary. Which neighbor that is depends on which side of
// checkpoint the naive candidate falls on (see the branches below), not a
// single "always pick the smaller/larger one" rule.
//
// This follows the same branch structure as the original C++ reference:
// take the offset of w from zero within [0, 2^32), add it to the multiple of
// 2^32 at or below checkpoint, then shift by one more 2^32 — down if the
// naive candidate overshoots checkpoint by at least half the modulus, up if
// it undershoots by at least half the modulus (both thresholds are
// non-strict, so an exact half-modulus tie always triggers the shift). The
// two conditions are mutually exclusive (one requires offset >= c32, the
// other c32 > offset), so unlike a pair of independent nearest-candidate
// comparisons, a tie can never shift the result twice and land back on the
// naive value.
func Unwrap(w Wrap32, zero Wrap32, checkpoint uint64) uint64 {
	offset := uint64(uint32(w - zero))
	c32 := checkpoint % wrapMod
	base := checkpoint - c32

	best := base + offset
	switch {
	case offset >= c32 && offset-c32 >= wrapMod/2 && checkpoint >= wrapMod:
		best -= wrapMod
	case c32 > offset && c32-offset >= wrapMod/2:
		best += wrapMod
	}
	return best
}

// Less reports whether a precedes b in wraparound-safe 32-bit sequence
// order (a - b, interpreted as a signed 32-bit delta, is negative).
func Less(a, b Wrap32) bool {
	return int32(a-b) < 0
}

// LessEqual reports whether a precedes or equals b in wraparound-safe order.
func LessEqual(a, b Wrap32) bool {
	return int32(a-b) <= 0
}

// Add returns w advanced by n in sequence space (mod 2^32).
func (w Wrap32) Add(n uint32) Wrap32 { return w + Wrap32(n) }

// Raw returns the underlying 32-bit value.
func (w Wrap32) Raw() uint32 { return uint32(w) }
