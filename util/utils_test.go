package util

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestRandomness(t *testing.T) {
	c := qt.New(t)
	c.Assert(RandomBytes(16), qt.HasLen, 16)
	c.Assert(Random32(), qt.Not(qt.Equals), Random32())

	a, b := NewRand(), NewRand()
	c.Assert(a.Uint64(), qt.Not(qt.Equals), b.Uint64())
}

func TestTrimHex(t *testing.T) {
	qt.Assert(t, TrimHex("0xabcd"), qt.Equals, "abcd")
	qt.Assert(t, TrimHex("0Xabcd"), qt.Equals, "abcd")
	qt.Assert(t, TrimHex("abcd"), qt.Equals, "abcd")
}
