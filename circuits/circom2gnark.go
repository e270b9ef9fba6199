package circuits

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/circom2gnark/parser"
)

// VerifyCircomProof verifies a snarkjs groth16 proof over BN254 against a
// snarkjs verification key. The public signals are provided as field
// elements, in the order the circuit declares them.
func VerifyCircomProof(vkey, circomProof []byte, pubSignals []*big.Int) (bool, error) {
	circomVKey, err := parser.UnmarshalCircomVerificationKeyJSON(vkey)
	if err != nil {
		return false, fmt.Errorf("parse verification key: %w", err)
	}
	proofData, err := parser.UnmarshalCircomProofJSON(circomProof)
	if err != nil {
		return false, fmt.Errorf("parse circom proof: %w", err)
	}
	gnarkProof, err := parser.ConvertCircomToGnark(proofData, circomVKey,
		BigIntArrayToStringArray(pubSignals, len(pubSignals)))
	if err != nil {
		return false, fmt.Errorf("convert circom proof: %w", err)
	}
	ok, err := parser.VerifyProof(gnarkProof)
	if err != nil {
		// circom2gnark reports a failed pairing check as an error
		return false, nil
	}
	return ok, nil
}
