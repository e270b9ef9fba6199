package joinsplit

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/consensys/gnark/test"
	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/shieldpay/circuits"
	"github.com/vocdoni/shieldpay/crypto/hash"
	"github.com/vocdoni/shieldpay/pool"
	"github.com/vocdoni/shieldpay/verifier"
)

type shieldedWallet struct {
	spendingKey *big.Int
	owner       *big.Int
}

func newWallet(c *qt.C) *shieldedWallet {
	sk, err := pool.RandomFieldElement()
	c.Assert(err, qt.IsNil)
	owner, err := pool.DefaultScheme.OwnerPubkey(sk)
	c.Assert(err, qt.IsNil)
	return &shieldedWallet{spendingKey: sk, owner: owner}
}

func (w *shieldedWallet) note(c *qt.C, amount uint64) *pool.Note {
	randomness, err := pool.RandomFieldElement()
	c.Assert(err, qt.IsNil)
	note, err := pool.CreateNote(amount, w.owner, randomness, pool.NativeMint)
	c.Assert(err, qt.IsNil)
	return note
}

// testSpend shields 1.0 and 0.5 SOL for the same owner and spends both into
// 1.0 for a new recipient and 0.5 change. It returns the spend and the roots
// after each insertion.
func testSpend(c *qt.C) (*Spend, *big.Int, *big.Int) {
	tree, err := pool.NewTree(hash.MiMC{}, pool.TreeDepth, nil)
	c.Assert(err, qt.IsNil)
	alice, bob := newWallet(c), newWallet(c)

	in1, in2 := alice.note(c, 1_000_000_000), alice.note(c, 500_000_000)
	_, r1, err := tree.Append(in1.Commitment)
	c.Assert(err, qt.IsNil)
	_, r2, err := tree.Append(in2.Commitment)
	c.Assert(err, qt.IsNil)
	p1, err := tree.Proof(0)
	c.Assert(err, qt.IsNil)
	p2, err := tree.Proof(1)
	c.Assert(err, qt.IsNil)

	out1, out2 := bob.note(c, 1_000_000_000), alice.note(c, 500_000_000)
	c.Assert(in1.Amount+in2.Amount, qt.Equals, out1.Amount+out2.Amount)
	return &Spend{
		Root: r2,
		Inputs: [NumInputs]InputNote{
			{Note: in1, SpendingKey: alice.spendingKey, Proof: p1},
			{Note: in2, SpendingKey: alice.spendingKey, Proof: p2},
		},
		Outputs:      [NumOutputs]*pool.Note{out1, out2},
		PublicAmount: big.NewInt(0),
		TokenMint:    pool.NativeMint,
	}, r1, r2
}

func TestCircuitSolves(t *testing.T) {
	c := qt.New(t)
	spend, _, _ := testSpend(c)
	assignment, err := spend.Assignment()
	c.Assert(err, qt.IsNil)
	c.Assert(test.IsSolved(&Circuit{}, assignment, circuits.Curve.ScalarField()), qt.IsNil)
}

func TestCircuitRejects(t *testing.T) {
	c := qt.New(t)

	c.Run("value not conserved", func(c *qt.C) {
		spend, _, _ := testSpend(c)
		spend.PublicAmount = big.NewInt(1)
		assignment, err := spend.Assignment()
		c.Assert(err, qt.IsNil)
		c.Assert(test.IsSolved(&Circuit{}, assignment, circuits.Curve.ScalarField()), qt.IsNotNil)
	})

	c.Run("stale root", func(c *qt.C) {
		spend, r1, _ := testSpend(c)
		spend.Root = r1
		assignment, err := spend.Assignment()
		c.Assert(err, qt.IsNil)
		c.Assert(test.IsSolved(&Circuit{}, assignment, circuits.Curve.ScalarField()), qt.IsNotNil)
	})

	c.Run("wrong spending key", func(c *qt.C) {
		spend, _, _ := testSpend(c)
		spend.Inputs[0].SpendingKey = newWallet(c).spendingKey
		assignment, err := spend.Assignment()
		c.Assert(err, qt.IsNil)
		c.Assert(test.IsSolved(&Circuit{}, assignment, circuits.Curve.ScalarField()), qt.IsNotNil)
	})

	c.Run("same note twice", func(c *qt.C) {
		spend, _, _ := testSpend(c)
		spend.Inputs[1] = spend.Inputs[0]
		spend.Outputs[0] = newWallet(c).note(c, 1_500_000_000)
		spend.Outputs[1] = newWallet(c).note(c, 500_000_000)
		assignment, err := spend.Assignment()
		c.Assert(err, qt.IsNil)
		c.Assert(test.IsSolved(&Circuit{}, assignment, circuits.Curve.ScalarField()), qt.IsNotNil)
	})
}

func TestCircuitDummyInput(t *testing.T) {
	c := qt.New(t)
	spend, _, _ := testSpend(c)
	dummy, err := DummyInput(pool.NativeMint)
	c.Assert(err, qt.IsNil)
	// spend only the 1.0 note, paired with a dummy
	spend.Inputs[1] = dummy
	spend.Outputs[1] = newWallet(c).note(c, 0)
	assignment, err := spend.Assignment()
	c.Assert(err, qt.IsNil)
	c.Assert(test.IsSolved(&Circuit{}, assignment, circuits.Curve.ScalarField()), qt.IsNil)
}

func TestSpendProofEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}
	c := qt.New(t)
	keys, err := Setup()
	c.Assert(err, qt.IsNil)
	vk, err := keys.EncodedVerifyingKey()
	c.Assert(err, qt.IsNil)

	dir := c.TempDir()
	c.Assert(keys.Store(dir), qt.IsNil)
	stored, err := os.ReadFile(filepath.Join(dir, VerifyingKeyFile))
	c.Assert(err, qt.IsNil)
	c.Assert(stored, qt.DeepEquals, vk)

	spend, r1, r2 := testSpend(c)
	proof, err := keys.Prove(spend)
	c.Assert(err, qt.IsNil)
	signals, err := spend.PublicSignals()
	c.Assert(err, qt.IsNil)
	c.Assert(signals, qt.HasLen, pool.NumPublicSignals)
	c.Assert(signals[pool.SignalMerkleRoot].Cmp(r2), qt.Equals, 0)

	v := verifier.NewGroth16()
	ok, err := v.Verify(vk, signals, proof)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	stale := append([]*big.Int{}, signals...)
	stale[pool.SignalMerkleRoot] = r1
	ok, err = v.Verify(vk, stale, proof)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)

	// public witness built from the circuit struct matches the raw signals
	public, err := PublicAssignment(signals)
	c.Assert(err, qt.IsNil)
	c.Assert(public.Root, qt.Equals, signals[pool.SignalMerkleRoot])
}
