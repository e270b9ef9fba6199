package joinsplit

import (
	"fmt"
	"path/filepath"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/vocdoni/shieldpay/circuits"
	"github.com/vocdoni/shieldpay/log"
)

// Keys bundles the compiled circuit with its groth16 keys.
type Keys struct {
	CCS          constraint.ConstraintSystem
	ProvingKey   groth16.ProvingKey
	VerifyingKey groth16.VerifyingKey
}

// Compile compiles the join-split circuit over BN254.
func Compile() (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(circuits.Curve.ScalarField(), r1cs.NewBuilder, &Circuit{})
	if err != nil {
		return nil, fmt.Errorf("compile join-split circuit: %w", err)
	}
	return ccs, nil
}

// Setup compiles the circuit and runs a local groth16 setup. The resulting
// keys are only suitable for tests and development.
func Setup() (*Keys, error) {
	ccs, err := Compile()
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup: %w", err)
	}
	log.Debugw("join-split circuit ready", "constraints", ccs.GetNbConstraints())
	return &Keys{CCS: ccs, ProvingKey: pk, VerifyingKey: vk}, nil
}

// Prove computes a spend proof and returns it encoded. The public signals it
// proves are the ones returned by spend.PublicSignals.
func (k *Keys) Prove(spend *Spend) ([]byte, error) {
	assignment, err := spend.Assignment()
	if err != nil {
		return nil, err
	}
	witness, err := frontend.NewWitness(assignment, circuits.Curve.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("build witness: %w", err)
	}
	proof, err := groth16.Prove(k.CCS, k.ProvingKey, witness)
	if err != nil {
		return nil, fmt.Errorf("prove spend: %w", err)
	}
	return circuits.EncodeProof(proof)
}

// EncodedVerifyingKey returns the serialized verification key.
func (k *Keys) EncodedVerifyingKey() ([]byte, error) {
	return circuits.EncodeVerificationKey(k.VerifyingKey)
}

// Artifact file names written by Store.
const (
	ConstraintSystemFile = "joinsplit.ccs"
	ProvingKeyFile       = "joinsplit.pk"
	VerifyingKeyFile     = "joinsplit.vk"
)

// Store writes the constraint system and both keys into dir.
func (k *Keys) Store(dir string) error {
	if err := circuits.StoreConstraintSystem(k.CCS, filepath.Join(dir, ConstraintSystemFile)); err != nil {
		return fmt.Errorf("store constraint system: %w", err)
	}
	if err := circuits.StoreProvingKey(k.ProvingKey, filepath.Join(dir, ProvingKeyFile)); err != nil {
		return fmt.Errorf("store proving key: %w", err)
	}
	if err := circuits.StoreVerificationKey(k.VerifyingKey, filepath.Join(dir, VerifyingKeyFile)); err != nil {
		return fmt.Errorf("store verification key: %w", err)
	}
	return nil
}
