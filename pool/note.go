// Package pool holds the shielded pool primitives: notes, their commitments
// and nullifiers, and the append-only Merkle accumulator the commitments are
// inserted into.
package pool

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/vocdoni/shieldpay/crypto"
	"github.com/vocdoni/shieldpay/crypto/hash"
)

// Indexes of the public signals of a spend proof.
const (
	SignalMerkleRoot = iota
	SignalNullifier1
	SignalNullifier2
	SignalOutputCommitment1
	SignalOutputCommitment2
	SignalPublicAmount
	SignalTokenMint

	// NumPublicSignals is the length of the public signals of a spend proof.
	NumPublicSignals
)

// NullifierDomain separates the spending key hash used by nullifiers from the
// owner public key stored in notes.
var NullifierDomain = big.NewInt(0x6e756c6c) // "null"

// Note is a shielded value unit. It is immutable once created.
type Note struct {
	Amount      uint64   `json:"amount"`
	OwnerPubkey *big.Int `json:"ownerPubkey"`
	Randomness  *big.Int `json:"randomness"`
	TokenMint   *big.Int `json:"tokenMint"`
	Commitment  *big.Int `json:"commitment"`
}

// Scheme builds notes and nullifiers with a given hash function. The hash
// must match the one used by the spend circuit.
type Scheme struct {
	hasher hash.Hasher
}

// NewScheme returns a Scheme over the provided hasher.
func NewScheme(h hash.Hasher) *Scheme {
	return &Scheme{hasher: h}
}

// Hasher returns the hash function of the scheme.
func (s *Scheme) Hasher() hash.Hasher {
	return s.hasher
}

// DefaultScheme uses MiMC over BN254.
var DefaultScheme = NewScheme(hash.MiMC{})

// CreateNote computes the commitment H(amount, ownerPubkey, randomness,
// tokenMint) and returns the resulting note. The same inputs always produce
// the same commitment.
func (s *Scheme) CreateNote(amount uint64, ownerPubkey, randomness, tokenMint *big.Int) (*Note, error) {
	for name, v := range map[string]*big.Int{
		"owner public key": ownerPubkey,
		"randomness":       randomness,
		"token mint":       tokenMint,
	} {
		if !crypto.IsFieldElement(v) {
			return nil, fmt.Errorf("%s is not a field element", name)
		}
	}
	commitment, err := s.hasher.Hash(new(big.Int).SetUint64(amount), ownerPubkey, randomness, tokenMint)
	if err != nil {
		return nil, fmt.Errorf("commitment: %w", err)
	}
	return &Note{
		Amount:      amount,
		OwnerPubkey: new(big.Int).Set(ownerPubkey),
		Randomness:  new(big.Int).Set(randomness),
		TokenMint:   new(big.Int).Set(tokenMint),
		Commitment:  commitment,
	}, nil
}

// ComputeNullifier returns H(commitment, spendingKeyHash).
func (s *Scheme) ComputeNullifier(commitment, spendingKeyHash *big.Int) (*big.Int, error) {
	if !crypto.IsFieldElement(commitment) || !crypto.IsFieldElement(spendingKeyHash) {
		return nil, fmt.Errorf("nullifier inputs must be field elements")
	}
	return s.hasher.Hash(commitment, spendingKeyHash)
}

// OwnerPubkey derives the public owner key H(spendingKey) stored in notes.
func (s *Scheme) OwnerPubkey(spendingKey *big.Int) (*big.Int, error) {
	return s.hasher.Hash(spendingKey)
}

// SpendingKeyHash derives H(spendingKey, domain), the secret input of the
// nullifier. Knowing the owner public key is not enough to compute it.
func (s *Scheme) SpendingKeyHash(spendingKey *big.Int) (*big.Int, error) {
	return s.hasher.Hash(spendingKey, NullifierDomain)
}

// CreateNote builds a note with the default scheme.
func CreateNote(amount uint64, ownerPubkey, randomness, tokenMint *big.Int) (*Note, error) {
	return DefaultScheme.CreateNote(amount, ownerPubkey, randomness, tokenMint)
}

// ComputeNullifier computes a nullifier with the default scheme.
func ComputeNullifier(commitment, spendingKeyHash *big.Int) (*big.Int, error) {
	return DefaultScheme.ComputeNullifier(commitment, spendingKeyHash)
}

// RandomFieldElement returns a uniformly random element of the BN254 scalar
// field, suitable as note randomness or spending key.
func RandomFieldElement() (*big.Int, error) {
	return rand.Int(rand.Reader, crypto.FieldModulus)
}

// TokenMintToField encodes a token mint address as a field element. The 32
// bytes key is reduced modulo the field, the mapping is fixed so every party
// computes the same value.
func TokenMintToField(mint solana.PublicKey) *big.Int {
	return crypto.BigToFF(crypto.FieldModulus, new(big.Int).SetBytes(mint[:]))
}

// NativeMint is the field encoding of the native token (wrapped SOL mint).
var NativeMint = TokenMintToField(solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"))
