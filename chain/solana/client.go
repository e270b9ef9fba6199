// Package solana connects the relayer and the splitter to a Solana cluster
// through its JSON RPC API. Every write waits for the transaction to reach
// the configured commitment before returning.
package solana

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/vocdoni/shieldpay/log"
	"github.com/vocdoni/shieldpay/types"
)

const (
	// DefaultConfirmTimeout bounds the wait for a transaction confirmation.
	DefaultConfirmTimeout = 60 * time.Second
	// DefaultPollInterval is the time between signature status queries.
	DefaultPollInterval = 500 * time.Millisecond
)

// ErrConfirmTimeout is returned when a sent transaction is not confirmed in
// time. The transaction may still land.
var ErrConfirmTimeout = errors.New("transaction confirmation timeout")

// Config holds the client settings.
type Config struct {
	Endpoint       string
	RelayerKey     solana.PrivateKey
	ProgramID      solana.PublicKey
	PoolAccount    solana.PublicKey
	FeeRecipient   solana.PublicKey
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Client implements relayer.Submitter, relayer.BalanceReader and
// splitter.Transferer.
type Client struct {
	rpc *rpc.Client
	cfg Config
}

// New creates a client for the RPC endpoint in cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("rpc endpoint required")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Client{rpc: rpc.New(cfg.Endpoint), cfg: cfg}, nil
}

// Address returns the relayer account paying for withdrawals.
func (c *Client) Address() solana.PublicKey {
	if c.cfg.RelayerKey == nil {
		return solana.PublicKey{}
	}
	return c.cfg.RelayerKey.PublicKey()
}

// Balance returns the confirmed balance of account in lamports.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	res, err := c.rpc.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return res.Value, nil
}

// Transfer moves lamports from the key owner to another account.
func (c *Client) Transfer(ctx context.Context, from solana.PrivateKey, to solana.PublicKey,
	lamports uint64,
) (string, error) {
	ix := system.NewTransferInstruction(lamports, from.PublicKey(), to).Build()
	sig, _, err := c.sendAndConfirm(ctx, []solana.Instruction{ix}, from.PublicKey(), keySigner(from))
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}

// Submit sends the withdraw instruction of w, signed by the relayer, and
// waits for its confirmation.
func (c *Client) Submit(ctx context.Context, w *types.Withdrawal) (*types.SubmitResult, error) {
	if c.cfg.RelayerKey == nil {
		return nil, fmt.Errorf("relayer key not configured")
	}
	ix, err := NewWithdrawInstruction(c.cfg.ProgramID, WithdrawAccounts{
		Relayer:      c.Address(),
		Pool:         c.cfg.PoolAccount,
		FeeRecipient: c.cfg.FeeRecipient,
	}, w)
	if err != nil {
		return nil, err
	}
	sig, slot, err := c.sendAndConfirm(ctx, []solana.Instruction{ix}, c.Address(), keySigner(c.cfg.RelayerKey))
	if err != nil {
		return nil, err
	}
	return &types.SubmitResult{Signature: sig.String(), Slot: slot}, nil
}

// txSigner adds the fee payer signature to a transaction.
type txSigner func(tx *solana.Transaction) error

func keySigner(key solana.PrivateKey) txSigner {
	return func(tx *solana.Transaction) error {
		_, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
			if k.Equals(key.PublicKey()) {
				return &key
			}
			return nil
		})
		return err
	}
}

func (c *Client) sendAndConfirm(ctx context.Context, ixs []solana.Instruction,
	payer solana.PublicKey, sign txSigner,
) (solana.Signature, uint64, error) {
	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, 0, fmt.Errorf("latest blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(ixs, recent.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, 0, fmt.Errorf("build transaction: %w", err)
	}
	if err := sign(tx); err != nil {
		return solana.Signature{}, 0, fmt.Errorf("sign transaction: %w", err)
	}
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, 0, fmt.Errorf("send transaction: %w", err)
	}
	log.Debugw("transaction sent", "signature", sig.String())
	slot, err := c.waitConfirmation(ctx, sig)
	if err != nil {
		return sig, 0, err
	}
	return sig, slot, nil
}

// waitConfirmation polls the signature status until it is confirmed, fails
// or the timeout expires.
func (c *Client) waitConfirmation(ctx context.Context, sig solana.Signature) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && res != nil && len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if st.Err != nil {
				return 0, fmt.Errorf("transaction %s failed: %v", sig, st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return st.Slot, nil
			}
		} else if err != nil {
			log.Debugw("signature status query failed", "signature", sig.String(), "error", err.Error())
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return 0, fmt.Errorf("%w: %s", ErrConfirmTimeout, sig)
			}
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}
