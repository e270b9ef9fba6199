// Package util has small helpers shared by the other packages.
package util

import (
	"crypto/rand"
	mrand "math/rand/v2"
	"strings"
)

// RandomBytes returns n bytes from the system CSPRNG. It panics if the
// CSPRNG fails.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// Random32 returns 32 random bytes, the size of a ChaCha8 seed.
func Random32() (seed [32]byte) {
	copy(seed[:], RandomBytes(len(seed)))
	return seed
}

// NewRand returns a ChaCha8 generator seeded from the system CSPRNG. It is
// not safe for concurrent use.
func NewRand() *mrand.Rand {
	return mrand.New(mrand.NewChaCha8(Random32()))
}

// TrimHex removes a leading 0x or 0X.
func TrimHex(s string) string {
	if t, ok := strings.CutPrefix(s, "0x"); ok {
		return t
	}
	return strings.TrimPrefix(s, "0X")
}
