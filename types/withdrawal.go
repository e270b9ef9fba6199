package types

import "math/big"

// Withdrawal is an admitted spend, ready to be turned into a chain
// transaction by a submitter.
type Withdrawal struct {
	ID                   string
	Proof                []byte
	PublicSignals        []*big.Int
	Nullifiers           [2]*big.Int
	OutputCommitments    [2]*big.Int
	RelayerFeeCommitment *big.Int
	MerkleRoot           *big.Int
	DenominationIndex    uint8
	Denomination         uint64
	FeeBps               uint16
}

// SubmitResult identifies a confirmed chain transaction.
type SubmitResult struct {
	Signature string
	Slot      uint64
}

// CommitmentBatch holds the tree leaves appended by one finalized pool
// transaction, in insertion order. A transaction without pool instructions
// yields an empty batch.
type CommitmentBatch struct {
	Signature   string
	Slot        uint64
	Commitments []*big.Int
}
