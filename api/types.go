package api

import (
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/vocdoni/shieldpay/types"
)

// RelayResponse is the response to an accepted relay submission.
type RelayResponse struct {
	Success            bool   `json:"success"`
	TxID               string `json:"txId"`
	Signature          string `json:"signature"`
	VerificationTimeMs int64  `json:"verificationTimeMs"`
	TotalTimeMs        int64  `json:"totalTimeMs"`
}

// PoolRoot is the current state of the commitment tree.
type PoolRoot struct {
	Root *types.BigInt `json:"root"`
	Size uint64        `json:"size"`
}

// PoolProof is the authentication path of a commitment.
type PoolProof struct {
	Index    uint64          `json:"index"`
	Root     *types.BigInt   `json:"root"`
	Siblings []*types.BigInt `json:"siblings"`
}

// NullifierStatus reports a nullifier against the spent set. Proof is the
// packed arbo siblings, only present for spent nullifiers.
type NullifierStatus struct {
	Nullifier    *types.BigInt  `json:"nullifier"`
	Spent        bool           `json:"spent"`
	SpentSetRoot types.HexBytes `json:"spentSetRoot"`
	Proof        types.HexBytes `json:"proof,omitempty"`
}

// SplitRequest asks for a new split transaction. Amount is expressed in SOL,
// a missing config uses the default one.
type SplitRequest struct {
	Sender    solana.PublicKey   `json:"sender"`
	Recipient solana.PublicKey   `json:"recipient"`
	Amount    decimal.Decimal    `json:"amount"`
	Config    *types.SplitConfig `json:"config,omitempty"`
}

// SplitFees is the network fee estimation of a split.
type SplitFees struct {
	NumSplits int             `json:"numSplits"`
	Lamports  uint64          `json:"lamports"`
	Amount    decimal.Decimal `json:"amount"`
}

// SplitList is a list of split transactions.
type SplitList struct {
	Splits []*types.SplitTransaction `json:"splits"`
}
