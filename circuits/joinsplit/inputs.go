package joinsplit

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/shieldpay/crypto"
	"github.com/vocdoni/shieldpay/pool"
)

// InputNote is a note being spent together with the secrets needed to spend
// it and its authentication path against the spend root.
type InputNote struct {
	Note        *pool.Note
	SpendingKey *big.Int
	Proof       *pool.MerkleProof
}

// Spend groups the inputs of a join-split proof. PublicAmount is the value
// entering (positive) or leaving (negative) the pool.
type Spend struct {
	Root         *big.Int
	Inputs       [NumInputs]InputNote
	Outputs      [NumOutputs]*pool.Note
	PublicAmount *big.Int
	TokenMint    *big.Int
}

// DummyInput returns a zero value note owned by a random key. Its path is
// never checked, so it does not need to be in the tree.
func DummyInput(tokenMint *big.Int) (InputNote, error) {
	sk, err := pool.RandomFieldElement()
	if err != nil {
		return InputNote{}, err
	}
	owner, err := pool.DefaultScheme.OwnerPubkey(sk)
	if err != nil {
		return InputNote{}, err
	}
	randomness, err := pool.RandomFieldElement()
	if err != nil {
		return InputNote{}, err
	}
	note, err := pool.CreateNote(0, owner, randomness, tokenMint)
	if err != nil {
		return InputNote{}, err
	}
	return InputNote{
		Note:        note,
		SpendingKey: sk,
		Proof:       &pool.MerkleProof{Siblings: make([]*big.Int, Depth)},
	}, nil
}

// Nullifiers computes the nullifiers of the spend inputs.
func (s *Spend) Nullifiers() ([NumInputs]*big.Int, error) {
	var nullifiers [NumInputs]*big.Int
	for i, in := range s.Inputs {
		if in.Note == nil || in.SpendingKey == nil {
			return nullifiers, fmt.Errorf("input %d incomplete", i)
		}
		skh, err := pool.DefaultScheme.SpendingKeyHash(in.SpendingKey)
		if err != nil {
			return nullifiers, err
		}
		if nullifiers[i], err = pool.ComputeNullifier(in.Note.Commitment, skh); err != nil {
			return nullifiers, err
		}
	}
	return nullifiers, nil
}

// PublicSignals returns the public signals of the spend in the pool layout.
func (s *Spend) PublicSignals() ([]*big.Int, error) {
	nullifiers, err := s.Nullifiers()
	if err != nil {
		return nil, err
	}
	signals := make([]*big.Int, pool.NumPublicSignals)
	signals[pool.SignalMerkleRoot] = s.Root
	signals[pool.SignalNullifier1] = nullifiers[0]
	signals[pool.SignalNullifier2] = nullifiers[1]
	for i, out := range s.Outputs {
		if out == nil {
			return nil, fmt.Errorf("output %d missing", i)
		}
	}
	signals[pool.SignalOutputCommitment1] = s.Outputs[0].Commitment
	signals[pool.SignalOutputCommitment2] = s.Outputs[1].Commitment
	signals[pool.SignalPublicAmount] = crypto.BigToFF(crypto.FieldModulus, s.PublicAmount)
	signals[pool.SignalTokenMint] = s.TokenMint
	return signals, nil
}

// Assignment builds the full circuit witness of the spend.
func (s *Spend) Assignment() (*Circuit, error) {
	if s.Root == nil || s.PublicAmount == nil || s.TokenMint == nil {
		return nil, fmt.Errorf("root, public amount and token mint are required")
	}
	signals, err := s.PublicSignals()
	if err != nil {
		return nil, err
	}
	assignment := &Circuit{
		Root:         signals[pool.SignalMerkleRoot],
		PublicAmount: signals[pool.SignalPublicAmount],
		TokenMint:    signals[pool.SignalTokenMint],
	}
	for i, in := range s.Inputs {
		if in.Proof == nil || len(in.Proof.Siblings) != Depth {
			return nil, fmt.Errorf("input %d: merkle path must have %d siblings", i, Depth)
		}
		assignment.Nullifiers[i] = signals[pool.SignalNullifier1+i]
		assignment.InAmounts[i] = in.Note.Amount
		assignment.InSpendingKeys[i] = in.SpendingKey
		assignment.InRandomness[i] = in.Note.Randomness
		assignment.InLeafIndexes[i] = in.Proof.Index
		for level, sibling := range in.Proof.Siblings {
			if sibling == nil {
				sibling = big.NewInt(0)
			}
			assignment.InPaths[i][level] = sibling
		}
	}
	for i, out := range s.Outputs {
		assignment.OutputCommitments[i] = out.Commitment
		assignment.OutAmounts[i] = out.Amount
		assignment.OutOwners[i] = out.OwnerPubkey
		assignment.OutRandomness[i] = out.Randomness
	}
	return assignment, nil
}

// PublicAssignment returns a circuit with only the public signals set, to
// build a public witness from signals received over the wire.
func PublicAssignment(signals []*big.Int) (*Circuit, error) {
	if len(signals) != pool.NumPublicSignals {
		return nil, fmt.Errorf("expected %d public signals, got %d", pool.NumPublicSignals, len(signals))
	}
	vars := make([]frontend.Variable, len(signals))
	for i, s := range signals {
		if !crypto.IsFieldElement(s) {
			return nil, fmt.Errorf("public signal %d is not a field element", i)
		}
		vars[i] = s
	}
	return &Circuit{
		Root:              vars[pool.SignalMerkleRoot],
		Nullifiers:        [NumInputs]frontend.Variable{vars[pool.SignalNullifier1], vars[pool.SignalNullifier2]},
		OutputCommitments: [NumOutputs]frontend.Variable{vars[pool.SignalOutputCommitment1], vars[pool.SignalOutputCommitment2]},
		PublicAmount:      vars[pool.SignalPublicAmount],
		TokenMint:         vars[pool.SignalTokenMint],
	}, nil
}
