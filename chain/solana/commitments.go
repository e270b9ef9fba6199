package solana

import (
	"context"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/vocdoni/shieldpay/types"
)

// signaturePageSize is the largest page getSignaturesForAddress serves.
const signaturePageSize = 1000

// Commitments returns the finalized transactions of the pool account that
// came after the one signed by after, oldest first, each with the leaves it
// appended to the commitment tree. An empty after reads the whole history.
// Failed transactions are skipped. On error the batches read so far are
// returned too.
func (c *Client) Commitments(ctx context.Context, after string) ([]*types.CommitmentBatch, error) {
	if c.cfg.ProgramID.IsZero() || c.cfg.PoolAccount.IsZero() {
		return nil, fmt.Errorf("program id and pool account required")
	}
	var until solana.Signature
	if after != "" {
		var err error
		if until, err = solana.SignatureFromBase58(after); err != nil {
			return nil, fmt.Errorf("cursor signature: %w", err)
		}
	}

	// newest first, paging backwards until the cursor
	var sigs []*rpc.TransactionSignature
	var before solana.Signature
	for {
		limit := signaturePageSize
		page, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, c.cfg.PoolAccount, &rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Before:     before,
			Until:      until,
			Commitment: rpc.CommitmentFinalized,
		})
		if err != nil {
			return nil, fmt.Errorf("get signatures: %w", err)
		}
		sigs = append(sigs, page...)
		if len(page) < limit {
			break
		}
		before = page[len(page)-1].Signature
	}

	batches := make([]*types.CommitmentBatch, 0, len(sigs))
	for i := len(sigs) - 1; i >= 0; i-- {
		s := sigs[i]
		batch := &types.CommitmentBatch{Signature: s.Signature.String(), Slot: s.Slot}
		if s.Err == nil {
			cms, err := c.transactionCommitments(ctx, s.Signature)
			if err != nil {
				return batches, fmt.Errorf("transaction %s: %w", s.Signature, err)
			}
			batch.Commitments = cms
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func (c *Client) transactionCommitments(ctx context.Context, sig solana.Signature) ([]*big.Int, error) {
	version := uint64(0)
	res, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &version,
	})
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if res.Meta != nil && res.Meta.Err != nil {
		return nil, nil
	}
	if res.Transaction == nil {
		return nil, fmt.Errorf("transaction not returned")
	}
	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return TransactionCommitments(c.cfg.ProgramID, tx)
}
