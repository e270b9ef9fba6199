package solana

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/vocdoni/shieldpay/crypto"
	"github.com/vocdoni/shieldpay/types"
)

// nullifierSeed prefixes the program address of every spent nullifier
// account.
var nullifierSeed = []byte("nullifier")

// Discriminators select the handlers of the pool program.
var (
	depositDiscriminator  = discriminator("global:deposit")
	withdrawDiscriminator = discriminator("global:withdraw")
)

func discriminator(name string) [8]byte {
	var d [8]byte
	h := sha256.Sum256([]byte(name))
	copy(d[:], h[:8])
	return d
}

// WithdrawArgs is the borsh layout of the withdraw instruction data.
type WithdrawArgs struct {
	Discriminator        [8]byte
	Proof                []byte
	Root                 [32]byte
	Nullifiers           [2][32]byte
	OutputCommitments    [2][32]byte
	RelayerFeeCommitment [32]byte
	DenominationIndex    uint8
	FeeBps               uint16
}

func fieldBytes(v *big.Int) [32]byte {
	var out [32]byte
	if v != nil {
		copy(out[:], crypto.FieldBytes(v))
	}
	return out
}

// NewWithdrawArgs builds the instruction arguments of a withdrawal.
func NewWithdrawArgs(w *types.Withdrawal) *WithdrawArgs {
	return &WithdrawArgs{
		Discriminator:        withdrawDiscriminator,
		Proof:                w.Proof,
		Root:                 fieldBytes(w.MerkleRoot),
		Nullifiers:           [2][32]byte{fieldBytes(w.Nullifiers[0]), fieldBytes(w.Nullifiers[1])},
		OutputCommitments:    [2][32]byte{fieldBytes(w.OutputCommitments[0]), fieldBytes(w.OutputCommitments[1])},
		RelayerFeeCommitment: fieldBytes(w.RelayerFeeCommitment),
		DenominationIndex:    w.DenominationIndex,
		FeeBps:               w.FeeBps,
	}
}

// Encode serializes the arguments with borsh.
func (a *WithdrawArgs) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := bin.NewBorshEncoder(buf).Encode(a); err != nil {
		return nil, fmt.Errorf("encode withdraw args: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWithdrawArgs parses borsh encoded withdraw arguments.
func DecodeWithdrawArgs(data []byte) (*WithdrawArgs, error) {
	a := &WithdrawArgs{}
	if err := bin.NewBorshDecoder(data).Decode(a); err != nil {
		return nil, fmt.Errorf("decode withdraw args: %w", err)
	}
	if a.Discriminator != withdrawDiscriminator {
		return nil, fmt.Errorf("not a withdraw instruction")
	}
	return a, nil
}

// NullifierAddress returns the program address that marks a nullifier spent
// on chain.
func NullifierAddress(programID solana.PublicKey, nullifier *big.Int) (solana.PublicKey, error) {
	n := fieldBytes(nullifier)
	addr, _, err := solana.FindProgramAddress([][]byte{nullifierSeed, n[:]}, programID)
	return addr, err
}

// WithdrawAccounts are the accounts touched by a withdrawal.
type WithdrawAccounts struct {
	Relayer      solana.PublicKey
	Pool         solana.PublicKey
	FeeRecipient solana.PublicKey
}

// NewWithdrawInstruction builds the pool program instruction for w.
func NewWithdrawInstruction(programID solana.PublicKey, accounts WithdrawAccounts,
	w *types.Withdrawal,
) (solana.Instruction, error) {
	data, err := NewWithdrawArgs(w).Encode()
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(accounts.Relayer).WRITE().SIGNER(),
		solana.Meta(accounts.Pool).WRITE(),
	}
	for _, n := range w.Nullifiers {
		addr, err := NullifierAddress(programID, n)
		if err != nil {
			return nil, fmt.Errorf("nullifier address: %w", err)
		}
		metas = append(metas, solana.Meta(addr).WRITE())
	}
	if !accounts.FeeRecipient.IsZero() {
		metas = append(metas, solana.Meta(accounts.FeeRecipient).WRITE())
	}
	metas = append(metas, solana.Meta(solana.SystemProgramID))
	return solana.NewInstruction(programID, metas, data), nil
}

// DepositArgs is the borsh layout of the deposit instruction data. The
// program appends Commitment to the tree.
type DepositArgs struct {
	Discriminator     [8]byte
	Commitment        [32]byte
	DenominationIndex uint8
}

// Encode serializes the arguments with borsh.
func (a *DepositArgs) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := bin.NewBorshEncoder(buf).Encode(a); err != nil {
		return nil, fmt.Errorf("encode deposit args: %w", err)
	}
	return buf.Bytes(), nil
}

// NewDepositInstruction builds the instruction that shields a note of the
// given denomination into the pool.
func NewDepositInstruction(programID, depositor, pool solana.PublicKey, commitment *big.Int,
	denominationIndex uint8,
) (solana.Instruction, error) {
	data, err := (&DepositArgs{
		Discriminator:     depositDiscriminator,
		Commitment:        fieldBytes(commitment),
		DenominationIndex: denominationIndex,
	}).Encode()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(depositor).WRITE().SIGNER(),
		solana.Meta(pool).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

// LeafCommitments returns the commitments a pool program instruction
// appends to the tree, in insertion order: one for a deposit, the two
// outputs for a withdrawal. Other instructions add none.
func LeafCommitments(data []byte) ([]*big.Int, error) {
	if len(data) < 8 {
		return nil, nil
	}
	switch [8]byte(data[:8]) {
	case depositDiscriminator:
		a := &DepositArgs{}
		if err := bin.NewBorshDecoder(data).Decode(a); err != nil {
			return nil, fmt.Errorf("decode deposit args: %w", err)
		}
		return []*big.Int{new(big.Int).SetBytes(a.Commitment[:])}, nil
	case withdrawDiscriminator:
		a, err := DecodeWithdrawArgs(data)
		if err != nil {
			return nil, err
		}
		return []*big.Int{
			new(big.Int).SetBytes(a.OutputCommitments[0][:]),
			new(big.Int).SetBytes(a.OutputCommitments[1][:]),
		}, nil
	}
	return nil, nil
}

// TransactionCommitments returns the commitments appended by the pool
// program instructions of tx, in execution order.
func TransactionCommitments(programID solana.PublicKey, tx *solana.Transaction) ([]*big.Int, error) {
	var leaves []*big.Int
	for i, ix := range tx.Message.Instructions {
		program, err := tx.Message.Program(ix.ProgramIDIndex)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		if !program.Equals(programID) {
			continue
		}
		cms, err := LeafCommitments(ix.Data)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		leaves = append(leaves, cms...)
	}
	return leaves, nil
}
