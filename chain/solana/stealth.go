package solana

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/vocdoni/shieldpay/crypto/stealth"
	"github.com/vocdoni/shieldpay/log"
)

// LamportsPerSignature is the base fee of a transaction with one signature.
const LamportsPerSignature = 5000

// stealthSigner signs with a one-time stealth key, which has no ed25519 seed.
func stealthSigner(key stealth.PrivateKey) txSigner {
	return func(tx *solana.Transaction) error {
		if n := tx.Message.Header.NumRequiredSignatures; n != 1 {
			return fmt.Errorf("stealth transaction needs %d signatures", n)
		}
		msg, err := tx.Message.MarshalBinary()
		if err != nil {
			return err
		}
		sig, err := stealth.Sign(key, msg)
		if err != nil {
			return err
		}
		tx.Signatures = []solana.Signature{sig}
		return nil
	}
}

// SweepStealth moves the whole balance of a stealth address to another
// account, minus the fee. It returns the signature and the lamports moved.
func (c *Client) SweepStealth(ctx context.Context, key stealth.PrivateKey,
	to solana.PublicKey,
) (string, uint64, error) {
	from, err := key.PublicKey()
	if err != nil {
		return "", 0, fmt.Errorf("stealth key: %w", err)
	}
	balance, err := c.Balance(ctx, from)
	if err != nil {
		return "", 0, err
	}
	if balance <= LamportsPerSignature {
		return "", 0, fmt.Errorf("nothing to sweep from %s, balance %d", from, balance)
	}
	amount := balance - LamportsPerSignature
	ix := system.NewTransferInstruction(amount, from, to).Build()
	sig, _, err := c.sendAndConfirm(ctx, []solana.Instruction{ix}, from, stealthSigner(key))
	if err != nil {
		return "", 0, err
	}
	log.Infow("stealth address swept", "from", from.String(), "to", to.String(), "lamports", amount)
	return sig.String(), amount, nil
}
