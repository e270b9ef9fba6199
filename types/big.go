package types

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// BigInt is a big.Int wrapper which marshals JSON to a string representation
// of the big number. Field elements travel this way so that JavaScript
// clients do not lose precision.
type BigInt big.Int

// NewInt returns a BigInt set to x.
func NewInt(x int64) *BigInt {
	return (*BigInt)(big.NewInt(x))
}

// MarshalText returns the decimal string representation of the big number.
// If the receiver is nil, we return "0".
func (i *BigInt) MarshalText() ([]byte, error) {
	if i == nil {
		return []byte("0"), nil
	}
	return (*big.Int)(i).MarshalText()
}

// UnmarshalText parses the text representation into the big number.
func (i *BigInt) UnmarshalText(data []byte) error {
	if i == nil {
		return fmt.Errorf("cannot unmarshal into nil BigInt")
	}
	return (*big.Int)(i).UnmarshalText(data)
}

// MarshalCBOR encodes the number as a CBOR bignum.
func (i *BigInt) MarshalCBOR() ([]byte, error) {
	if i == nil {
		return cbor.Marshal(new(big.Int))
	}
	return cbor.Marshal((*big.Int)(i))
}

// UnmarshalCBOR decodes a CBOR bignum.
func (i *BigInt) UnmarshalCBOR(data []byte) error {
	var bi big.Int
	if err := cbor.Unmarshal(data, &bi); err != nil {
		return err
	}
	i.SetBigInt(&bi)
	return nil
}

// MathBigInt converts i to a *big.Int.
func (i *BigInt) MathBigInt() *big.Int {
	return (*big.Int)(i)
}

// SetBigInt sets the value of i to x and returns i.
func (i *BigInt) SetBigInt(x *big.Int) *BigInt {
	(*big.Int)(i).Set(x)
	return i
}

// SetUint64 sets the value of i to x and returns i.
func (i *BigInt) SetUint64(x uint64) *BigInt {
	(*big.Int)(i).SetUint64(x)
	return i
}

// SetBytes interprets data as a big-endian unsigned integer.
func (i *BigInt) SetBytes(data []byte) *BigInt {
	(*big.Int)(i).SetBytes(data)
	return i
}

// Bytes returns the 32 bytes big-endian representation of i.
func (i *BigInt) Bytes() []byte {
	return (*big.Int)(i).FillBytes(make([]byte, 32))
}

// Equal returns true if i and j hold the same value.
func (i *BigInt) Equal(j *BigInt) bool {
	if i == nil || j == nil {
		return i == j
	}
	return (*big.Int)(i).Cmp((*big.Int)(j)) == 0
}

// String returns the decimal representation of i.
func (i *BigInt) String() string {
	return (*big.Int)(i).String()
}
