// Package verifier checks spend proofs. The relayer treats a verifier as an
// opaque predicate over a verification key, the public signals and a proof.
package verifier

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/vocdoni/shieldpay/circuits"
	"github.com/vocdoni/shieldpay/crypto"
)

// Verifier checks a proof. A proof that does not verify returns false and a
// nil error, an error means the inputs could not be parsed.
type Verifier interface {
	Verify(vk []byte, publicSignals []*big.Int, proof []byte) (bool, error)
}

// Func adapts a function to the Verifier interface.
type Func func(vk []byte, publicSignals []*big.Int, proof []byte) (bool, error)

// Verify implements Verifier.
func (f Func) Verify(vk []byte, publicSignals []*big.Int, proof []byte) (bool, error) {
	return f(vk, publicSignals, proof)
}

// Backend names a proof system and encoding.
type Backend string

const (
	// BackendGnark verifies gnark encoded groth16 proofs over BN254.
	BackendGnark Backend = "gnark"
	// BackendCircom verifies snarkjs JSON groth16 proofs over BN254.
	BackendCircom Backend = "circom"
)

// New returns the verifier of the given backend.
func New(b Backend) (Verifier, error) {
	switch b {
	case BackendGnark, "":
		return NewGroth16(), nil
	case BackendCircom:
		return Circom{}, nil
	default:
		return nil, fmt.Errorf("unknown verifier backend %q", b)
	}
}

// Groth16 verifies gnark groth16 proofs. The last decoded verification key is
// cached, the relayer always verifies against the same one.
type Groth16 struct {
	mu     sync.Mutex
	vkHash [sha256.Size]byte
	vk     groth16.VerifyingKey
}

// NewGroth16 returns a gnark groth16 verifier.
func NewGroth16() *Groth16 {
	return &Groth16{}
}

func (g *Groth16) verifyingKey(vk []byte) (groth16.VerifyingKey, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sum := sha256.Sum256(vk)
	if g.vk != nil && bytes.Equal(sum[:], g.vkHash[:]) {
		return g.vk, nil
	}
	decoded, err := circuits.DecodeVerificationKey(vk)
	if err != nil {
		return nil, err
	}
	g.vk, g.vkHash = decoded, sum
	return decoded, nil
}

// Verify implements Verifier.
func (g *Groth16) Verify(vk []byte, publicSignals []*big.Int, proof []byte) (bool, error) {
	if len(vk) == 0 {
		return false, fmt.Errorf("empty verification key")
	}
	vkey, err := g.verifyingKey(vk)
	if err != nil {
		return false, err
	}
	p, err := circuits.DecodeProof(proof)
	if err != nil {
		return false, err
	}
	publicWitness, err := PublicWitness(publicSignals)
	if err != nil {
		return false, err
	}
	if err := groth16.Verify(p, vkey, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}

// PublicWitness builds a gnark public witness from the signals, in order.
func PublicWitness(publicSignals []*big.Int) (witness.Witness, error) {
	w, err := witness.New(circuits.Curve.ScalarField())
	if err != nil {
		return nil, err
	}
	values := make(chan any, len(publicSignals))
	for i, s := range publicSignals {
		if !crypto.IsFieldElement(s) {
			return nil, fmt.Errorf("public signal %d is not a field element", i)
		}
		values <- s
	}
	close(values)
	if err := w.Fill(len(publicSignals), 0, values); err != nil {
		return nil, fmt.Errorf("fill public witness: %w", err)
	}
	return w, nil
}

// Circom verifies snarkjs proofs with circom2gnark. The verification key and
// the proof are the snarkjs JSON documents.
type Circom struct{}

// Verify implements Verifier.
func (Circom) Verify(vk []byte, publicSignals []*big.Int, proof []byte) (bool, error) {
	if len(vk) == 0 {
		return false, fmt.Errorf("empty verification key")
	}
	return circuits.VerifyCircomProof(vk, proof, publicSignals)
}
