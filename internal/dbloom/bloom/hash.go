package bloom

import (
	"iter"

	"github.com/zeebo/xxh3"
)

// remixInterval is how many positions are generated before the step hash is
// scrambled again. Without it, a large k over a small array walks a single
// arithmetic progression and starts revisiting the same positions.
const remixInterval = 16

// expander generates bit positions by double hashing over a single 128-bit
// xxh3 digest: the low half is the starting point, the high half the step.
type expander struct {
	acc  uint64
	step uint64
	size uint64
}

func newExpander(item []byte, size uint64) expander {
	h := xxh3.Hash128(item)
	// An even (or zero) step shares a factor with every even size and would
	// collapse the sequence onto a fraction of the array.
	return expander{acc: h.Lo, step: h.Hi | 1, size: size}
}

// next returns the i-th position, i counting from 0 in order.
func (e *expander) next(i uint32) uint64 {
	if i > 0 {
		if i%remixInterval == 0 {
			e.step = mix(e.step) | 1
		}
		e.acc += e.step
	}
	return e.acc % e.size
}

// Positions returns the k bit positions of item in a filter of the given size.
// The sequence is lazy and can be ranged over any number of times; every pass
// yields the same k values, each in [0, size).
func Positions(item []byte, size uint64, k uint32) iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		if size == 0 || k == 0 {
			return
		}
		e := newExpander(item, size)
		for i := uint32(0); i < k; i++ {
			if !yield(e.next(i)) {
				return
			}
		}
	}
}

// AppendPositions appends the k bit positions of item to dst and returns the
// extended slice. It produces the same values as Positions.
func AppendPositions(dst []uint64, item []byte, size uint64, k uint32) []uint64 {
	if size == 0 || k == 0 {
		return dst
	}
	e := newExpander(item, size)
	for i := uint32(0); i < k; i++ {
		dst = append(dst, e.next(i))
	}
	return dst
}

// mix scrambles a 64-bit integer using the SplitMix64 finalizer.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
