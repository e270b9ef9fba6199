package circuits

import (
	"bytes"
	"fmt"
	"math/big"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/vocdoni/shieldpay/log"
)

// Curve is the curve of every circuit of the pool.
const Curve = ecc.BN254

// BigIntArrayToN pads the big.Int array to n elements, if needed, with zeros.
func BigIntArrayToN(arr []*big.Int, n int) []*big.Int {
	bigArr := make([]*big.Int, n)
	for i := 0; i < n; i++ {
		if i < len(arr) && arr[i] != nil {
			bigArr[i] = arr[i]
		} else {
			bigArr[i] = big.NewInt(0)
		}
	}
	return bigArr
}

// BigIntArrayToStringArray converts the big.Int array to a string array.
func BigIntArrayToStringArray(arr []*big.Int, n int) []string {
	strArr := []string{}
	for _, b := range BigIntArrayToN(arr, n) {
		strArr = append(strArr, b.String())
	}
	return strArr
}

// StoreConstraintSystem stores the constraint system in a file.
func StoreConstraintSystem(cs constraint.ConstraintSystem, filepath string) error {
	csFd, err := os.Create(filepath)
	if err != nil {
		return err
	}
	defer csFd.Close()
	if _, err := cs.WriteTo(csFd); err != nil {
		return err
	}
	log.Infow("constraint system written", "path", filepath)
	return nil
}

// StoreVerificationKey stores the verification key in a file.
func StoreVerificationKey(vkey groth16.VerifyingKey, filepath string) error {
	fd, err := os.Create(filepath)
	if err != nil {
		return err
	}
	defer fd.Close()
	if _, err := vkey.WriteTo(fd); err != nil {
		return err
	}
	log.Infow("verification key written", "path", filepath)
	return nil
}

// StoreProvingKey stores the proving key in a file.
func StoreProvingKey(pkey groth16.ProvingKey, filepath string) error {
	fd, err := os.Create(filepath)
	if err != nil {
		return err
	}
	defer fd.Close()
	if _, err := pkey.WriteTo(fd); err != nil {
		return err
	}
	log.Infow("proving key written", "path", filepath)
	return nil
}

// EncodeVerificationKey serializes a gnark verification key.
func EncodeVerificationKey(vkey groth16.VerifyingKey) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := vkey.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode verification key: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeVerificationKey parses a gnark verification key over Curve.
func DecodeVerificationKey(data []byte) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(Curve)
	if _, err := vk.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("decode verification key: %w", err)
	}
	return vk, nil
}

// EncodeProof serializes a gnark proof.
func EncodeProof(proof groth16.Proof) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode proof: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeProof parses a gnark proof over Curve.
func DecodeProof(data []byte) (groth16.Proof, error) {
	proof := groth16.NewProof(Curve)
	if _, err := proof.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("decode proof: %w", err)
	}
	return proof, nil
}
