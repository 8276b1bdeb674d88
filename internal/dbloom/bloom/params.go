package bloom

import (
	"fmt"
	"math"
)

const (
	// ln2 is the natural logarithm of 2.
	ln2 = 0.6931471805599453
	// ln2Squared is ln(2)^2.
	ln2Squared = 0.4804530139182014

	// MaxSize is the largest bit array a filter may request. Stores address
	// bits with 32-bit offsets, so anything larger cannot be represented.
	MaxSize = 1 << 32
)

// OptimalParameters derives the bit array size (m) and number of hash
// iterations (k) for a filter expected to hold n items at a false positive
// probability of p.
//
//	m = ceil(-n * ln(p) / ln(2)^2)
//	k = round(m / n * ln(2)), at least 1
//
// m is rounded up so the filter is never under-provisioned.
func OptimalParameters(n uint64, p float64) (uint64, uint32, error) {
	if n == 0 {
		return 0, 0, fmt.Errorf("%w: expected insertions must be greater than zero", ErrInvalidArgument)
	}
	if math.IsNaN(p) || p <= 0 || p >= 1 {
		return 0, 0, fmt.Errorf("%w: false probability must be in (0, 1), got %v", ErrInvalidArgument, p)
	}

	m := math.Ceil(-float64(n) * math.Log(p) / ln2Squared)
	if m > MaxSize {
		return 0, 0, fmt.Errorf("%w: bloom filter size %.0f exceeds maximum %d", ErrInvalidArgument, m, uint64(MaxSize))
	}
	size := max(uint64(m), 1)

	k := math.Round(float64(size) / float64(n) * ln2)
	hashIterations := max(uint32(k), 1)

	return size, hashIterations, nil
}

// EstimateCount returns the approximate number of distinct items in a filter
// of size m using k hash iterations, given that x of its bits are set.
//
//	n = -(m / k) * ln(1 - x / m)
//
// The estimate degrades as the filter saturates. Once every bit is set the
// result is math.MaxUint64.
func EstimateCount(m uint64, k uint32, x uint64) uint64 {
	if x == 0 || m == 0 || k == 0 {
		return 0
	}
	if x >= m {
		return math.MaxUint64
	}

	fm := float64(m)
	n := -(fm / float64(k)) * math.Log(1-float64(x)/fm)
	if n >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(math.Round(n))
}

// EstimateFalsePositiveRate estimates the false positive rate of a filter of
// size m with k hash iterations after n insertions.
// Formula: (1 - e^(-kn/m))^k
func EstimateFalsePositiveRate(m uint64, k uint32, n uint64) float64 {
	if m == 0 || n == 0 {
		return 0
	}
	kf := float64(k)
	return math.Pow(1-math.Exp(-kf*float64(n)/float64(m)), kf)
}
