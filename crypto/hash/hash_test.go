package hash

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/shieldpay/crypto"
)

func TestHashers(t *testing.T) {
	for _, typ := range []Type{TypeMiMC, TypePoseidon} {
		t.Run(string(typ), func(t *testing.T) {
			c := qt.New(t)
			h, err := New(typ)
			c.Assert(err, qt.IsNil)
			c.Assert(h.Type(), qt.Equals, typ)

			a, err := h.Hash(big.NewInt(1), big.NewInt(2))
			c.Assert(err, qt.IsNil)
			b, err := h.Hash(big.NewInt(1), big.NewInt(2))
			c.Assert(err, qt.IsNil)
			c.Assert(a.Cmp(b), qt.Equals, 0)
			c.Assert(crypto.IsFieldElement(a), qt.IsTrue)

			// order matters
			swapped, err := h.Hash(big.NewInt(2), big.NewInt(1))
			c.Assert(err, qt.IsNil)
			c.Assert(a.Cmp(swapped), qt.Not(qt.Equals), 0)

			_, err = h.Hash()
			c.Assert(err, qt.ErrorMatches, "no inputs provided")
		})
	}
	_, err := New("sha3")
	qt.Assert(t, err, qt.ErrorMatches, `unknown hash type "sha3"`)
}

func TestMiMCReducesInputs(t *testing.T) {
	c := qt.New(t)
	// p+1 and 1 are the same field element
	overflow := new(big.Int).Add(crypto.FieldModulus, big.NewInt(1))
	a, err := MiMC{}.Hash(overflow)
	c.Assert(err, qt.IsNil)
	b, err := MiMC{}.Hash(big.NewInt(1))
	c.Assert(err, qt.IsNil)
	c.Assert(a.Cmp(b), qt.Equals, 0)
}
