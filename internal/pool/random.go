package pool

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
)

// RandomSource draws uniform integers in [0, n).
type RandomSource interface {
	Uint64n(n uint64) (uint64, error)
}

// CryptoSource draws from crypto/rand.
type CryptoSource struct{}

// Uint64n rejects the biased tail of the 64-bit range so every value in
// [0, n) is equally likely.
func (CryptoSource) Uint64n(n uint64) (uint64, error) {
	if n == 0 {
		return 0, fmt.Errorf("random range must be positive")
	}
	limit := ^uint64(0) - (^uint64(0) % n)
	var b [8]byte
	for {
		if _, err := crand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("read random bytes: %w", err)
		}
		v := binary.LittleEndian.Uint64(b[:])
		if v < limit {
			return v % n, nil
		}
	}
}

// SeededSource is a reproducible source for tests and simulations.
type SeededSource struct {
	rng *rand.Rand
}

func NewSeededSource(seed uint64) *SeededSource {
	return &SeededSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *SeededSource) Uint64n(n uint64) (uint64, error) {
	if n == 0 {
		return 0, fmt.Errorf("random range must be positive")
	}
	return s.rng.Uint64N(n), nil
}
