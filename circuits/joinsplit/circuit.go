// Package joinsplit is the reference spend circuit of the shielded pool. It
// consumes two notes of the pool and creates two new ones, exposing the
// public signals in the layout the relayer expects:
//
//	[merkleRoot, nullifier_1, nullifier_2, outputCommitment_1,
//	 outputCommitment_2, publicAmount, tokenMint]
//
// Input notes with zero amount are dummies: their membership is not checked,
// so a single note can be spent by pairing it with a dummy.
package joinsplit

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/vocdoni/shieldpay/pool"
)

const (
	// Depth of the Merkle paths, equal to the pool tree depth.
	Depth = pool.TreeDepth
	// NumInputs is the number of notes consumed by a spend.
	NumInputs = 2
	// NumOutputs is the number of notes created by a spend.
	NumOutputs = 2
	// AmountBits bounds every note amount.
	AmountBits = 64
)

// Circuit is the join-split spend. The order of the public fields is the
// order of the public signals.
type Circuit struct {
	Root              frontend.Variable             `gnark:",public"`
	Nullifiers        [NumInputs]frontend.Variable  `gnark:",public"`
	OutputCommitments [NumOutputs]frontend.Variable `gnark:",public"`
	PublicAmount      frontend.Variable             `gnark:",public"`
	TokenMint         frontend.Variable             `gnark:",public"`

	InAmounts      [NumInputs]frontend.Variable
	InSpendingKeys [NumInputs]frontend.Variable
	InRandomness   [NumInputs]frontend.Variable
	InLeafIndexes  [NumInputs]frontend.Variable
	InPaths        [NumInputs][Depth]frontend.Variable

	OutAmounts    [NumOutputs]frontend.Variable
	OutOwners     [NumOutputs]frontend.Variable
	OutRandomness [NumOutputs]frontend.Variable
}

// Define declares the circuit constraints.
func (c *Circuit) Define(api frontend.API) error {
	inTotal := frontend.Variable(0)
	for i := 0; i < NumInputs; i++ {
		api.ToBinary(c.InAmounts[i], AmountBits)
		owner, err := mimcHash(api, c.InSpendingKeys[i])
		if err != nil {
			return err
		}
		commitment, err := mimcHash(api, c.InAmounts[i], owner, c.InRandomness[i], c.TokenMint)
		if err != nil {
			return err
		}
		// membership, only enforced for notes with value
		root, err := merkleRoot(api, commitment, c.InLeafIndexes[i], c.InPaths[i])
		if err != nil {
			return err
		}
		api.AssertIsEqual(api.Mul(api.Sub(root, c.Root), c.InAmounts[i]), 0)

		spendingKeyHash, err := mimcHash(api, c.InSpendingKeys[i], pool.NullifierDomain)
		if err != nil {
			return err
		}
		nullifier, err := mimcHash(api, commitment, spendingKeyHash)
		if err != nil {
			return err
		}
		api.AssertIsEqual(nullifier, c.Nullifiers[i])
		inTotal = api.Add(inTotal, c.InAmounts[i])
	}
	api.AssertIsDifferent(c.Nullifiers[0], c.Nullifiers[1])

	outTotal := frontend.Variable(0)
	for i := 0; i < NumOutputs; i++ {
		api.ToBinary(c.OutAmounts[i], AmountBits)
		commitment, err := mimcHash(api, c.OutAmounts[i], c.OutOwners[i], c.OutRandomness[i], c.TokenMint)
		if err != nil {
			return err
		}
		api.AssertIsEqual(commitment, c.OutputCommitments[i])
		outTotal = api.Add(outTotal, c.OutAmounts[i])
	}
	api.AssertIsEqual(api.Add(inTotal, c.PublicAmount), outTotal)
	return nil
}

// merkleRoot folds a leaf with its path. The direction at level i is bit i
// of the leaf index, as in pool.ComputeRoot.
func merkleRoot(api frontend.API, leaf, index frontend.Variable, path [Depth]frontend.Variable) (frontend.Variable, error) {
	bits := api.ToBinary(index, Depth)
	current := leaf
	for level := 0; level < Depth; level++ {
		left := api.Select(bits[level], path[level], current)
		right := api.Select(bits[level], current, path[level])
		var err error
		if current, err = mimcHash(api, left, right); err != nil {
			return nil, err
		}
	}
	return current, nil
}

func mimcHash(api frontend.API, data ...frontend.Variable) (frontend.Variable, error) {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return nil, err
	}
	h.Write(data...)
	return h.Sum(), nil
}
