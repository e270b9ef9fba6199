package pool

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/shieldpay/crypto"
	"github.com/vocdoni/shieldpay/crypto/hash"
)

func randomField(c *qt.C) *big.Int {
	v, err := RandomFieldElement()
	c.Assert(err, qt.IsNil)
	return v
}

func TestCreateNoteDeterministic(t *testing.T) {
	c := qt.New(t)
	owner, randomness := randomField(c), randomField(c)

	n1, err := CreateNote(1_000_000_000, owner, randomness, NativeMint)
	c.Assert(err, qt.IsNil)
	n2, err := CreateNote(1_000_000_000, owner, randomness, NativeMint)
	c.Assert(err, qt.IsNil)
	c.Assert(n1.Commitment.Cmp(n2.Commitment), qt.Equals, 0)

	// any single field change gives a different commitment
	variants := map[string]func() (*Note, error){
		"amount": func() (*Note, error) {
			return CreateNote(1_000_000_001, owner, randomness, NativeMint)
		},
		"owner": func() (*Note, error) {
			return CreateNote(1_000_000_000, new(big.Int).Add(owner, big.NewInt(1)), randomness, NativeMint)
		},
		"randomness": func() (*Note, error) {
			return CreateNote(1_000_000_000, owner, randomField(c), NativeMint)
		},
		"mint": func() (*Note, error) {
			return CreateNote(1_000_000_000, owner, randomness, big.NewInt(7))
		},
	}
	for name, create := range variants {
		n, err := create()
		c.Assert(err, qt.IsNil, qt.Commentf(name))
		c.Assert(n.Commitment.Cmp(n1.Commitment), qt.Not(qt.Equals), 0, qt.Commentf(name))
	}
}

func TestCreateNoteRejectsNonFieldInputs(t *testing.T) {
	c := qt.New(t)
	_, err := CreateNote(1, crypto.FieldModulus, big.NewInt(1), NativeMint)
	c.Assert(err, qt.ErrorMatches, "owner public key is not a field element")
	_, err = CreateNote(1, big.NewInt(1), big.NewInt(-1), NativeMint)
	c.Assert(err, qt.ErrorMatches, "randomness is not a field element")
}

func TestComputeNullifier(t *testing.T) {
	c := qt.New(t)
	spendingKey := randomField(c)
	skh, err := DefaultScheme.SpendingKeyHash(spendingKey)
	c.Assert(err, qt.IsNil)
	owner, err := DefaultScheme.OwnerPubkey(spendingKey)
	c.Assert(err, qt.IsNil)
	c.Assert(skh.Cmp(owner), qt.Not(qt.Equals), 0)

	note, err := CreateNote(100, owner, randomField(c), NativeMint)
	c.Assert(err, qt.IsNil)

	n1, err := ComputeNullifier(note.Commitment, skh)
	c.Assert(err, qt.IsNil)
	n2, err := ComputeNullifier(note.Commitment, skh)
	c.Assert(err, qt.IsNil)
	c.Assert(n1.Cmp(n2), qt.Equals, 0)

	seen := map[string]bool{n1.String(): true}
	for i := 0; i < 50; i++ {
		other, err := ComputeNullifier(randomField(c), skh)
		c.Assert(err, qt.IsNil)
		c.Assert(seen[other.String()], qt.IsFalse)
		seen[other.String()] = true
	}
	otherKey, err := ComputeNullifier(note.Commitment, randomField(c))
	c.Assert(err, qt.IsNil)
	c.Assert(otherKey.Cmp(n1), qt.Not(qt.Equals), 0)
}

func TestSchemesDiffer(t *testing.T) {
	c := qt.New(t)
	owner, randomness := randomField(c), randomField(c)
	mimcNote, err := NewScheme(hash.MiMC{}).CreateNote(5, owner, randomness, NativeMint)
	c.Assert(err, qt.IsNil)
	poseidonNote, err := NewScheme(hash.Poseidon{}).CreateNote(5, owner, randomness, NativeMint)
	c.Assert(err, qt.IsNil)
	c.Assert(mimcNote.Commitment.Cmp(poseidonNote.Commitment), qt.Not(qt.Equals), 0)
}
