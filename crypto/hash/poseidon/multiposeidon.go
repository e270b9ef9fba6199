package poseidon

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

const (
	// chunkSize is the widest Poseidon instance provided by circomlib.
	chunkSize = 16
	// maxInputs bounds the two-level chunked construction.
	maxInputs = chunkSize * chunkSize
)

// MultiPoseidon hashes up to 256 field elements. Up to 16 inputs it is plain
// Poseidon, which keeps it compatible with circomlib circuits for the short
// tuples used by notes and nullifiers. Longer inputs are hashed in chunks of
// 16 and the chunk hashes are hashed together.
func MultiPoseidon(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) > maxInputs {
		return nil, fmt.Errorf("too many inputs")
	} else if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs provided")
	}
	hashes := []*big.Int{}
	for start := 0; start < len(inputs); start += chunkSize {
		end := min(start+chunkSize, len(inputs))
		hash, err := poseidon.Hash(inputs[start:end])
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	if len(hashes) == 1 {
		return hashes[0], nil
	}
	return poseidon.Hash(hashes)
}
