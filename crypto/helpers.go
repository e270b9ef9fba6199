package crypto

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
)

const SerializedFieldSize = 32 // bytes

// FieldModulus is the scalar field of BN254, the field where commitments,
// nullifiers and Merkle nodes live.
var FieldModulus = ecc.BN254.ScalarField()

// BigToFF function returns the finite field representation of the big.Int
// provided. It uses the curve scalar field to represent the provided number.
func BigToFF(baseField, iv *big.Int) *big.Int {
	z := big.NewInt(0)
	if c := iv.Cmp(baseField); c == 0 {
		return z
	} else if c != 1 && iv.Cmp(z) != -1 {
		return iv
	}
	return z.Mod(iv, baseField)
}

// FieldBytes returns the canonical 32 bytes big-endian encoding of a field
// element, reducing it first.
func FieldBytes(v *big.Int) []byte {
	return BigToFF(FieldModulus, v).FillBytes(make([]byte, SerializedFieldSize))
}

// FieldFromBytes decodes a 32 bytes big-endian field element. It fails if the
// value is not canonical (greater or equal than the modulus).
func FieldFromBytes(b []byte) (*big.Int, error) {
	if len(b) != SerializedFieldSize {
		return nil, fmt.Errorf("invalid field element length %d", len(b))
	}
	v := new(big.Int).SetBytes(b)
	if v.Cmp(FieldModulus) >= 0 {
		return nil, fmt.Errorf("field element not canonical")
	}
	return v, nil
}

// IsFieldElement returns true if v is in [0, FieldModulus).
func IsFieldElement(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(FieldModulus) < 0
}
