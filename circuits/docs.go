// Package circuits holds the zkSNARK plumbing of the shielded pool: artifact
// download and caching, gnark key and proof encoding, and the snarkjs proof
// conversion done with circom2gnark.
//
// Every circuit is a groth16 circuit over BN254, the curve whose scalar
// field carries the note commitments and nullifiers. The joinsplit
// subpackage holds the reference spend circuit:
//
// +------------+
// | Join-Split |  BN254  <- native
// |   Spend    |  MiMC, depth 20 Merkle paths
// +------------+
package circuits
