package pool

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	fcrypto "github.com/vocdoni/shieldpay/crypto"
	"github.com/vocdoni/shieldpay/crypto/hash"
)

const (
	// TreeDepth is the depth of the commitment tree, it holds 2^20 notes.
	TreeDepth = 20
	// RootHistorySize is how many recent roots are accepted for spends.
	RootHistorySize = 30
)

var (
	// ErrTreeFull is returned when appending to a tree with no free leaves.
	ErrTreeFull = fmt.Errorf("commitment tree is full")
	// ErrLeafNotFound is returned when requesting a proof for an index that
	// has not been inserted yet.
	ErrLeafNotFound = fmt.Errorf("leaf index not inserted")
	// ErrInvalidLeaf is returned when a leaf is not a field element.
	ErrInvalidLeaf = fmt.Errorf("leaf is not a field element")
)

// ZeroLeaf is the padding leaf: Keccak256("shieldpay.zero") mod p.
var ZeroLeaf = fcrypto.BigToFF(fcrypto.FieldModulus,
	new(big.Int).SetBytes(crypto.Keccak256([]byte("shieldpay.zero"))))

// MerkleProof is the authentication path of a leaf. Siblings are ordered from
// the leaf level up, the direction at level i is bit i of Index. Root is the
// root the path was taken against, it is not needed to fold the proof.
type MerkleProof struct {
	Index    uint64     `json:"index"`
	Siblings []*big.Int `json:"siblings"`
	Root     *big.Int   `json:"root,omitempty"`
}

// LeafStore persists the leaves of a tree so it can be rebuilt.
type LeafStore interface {
	CommitmentLeaves() ([]*big.Int, error)
	AppendCommitmentLeaf(index uint64, leaf *big.Int) error
}

// Tree is a fixed depth, append-only binary Merkle tree over commitments. It
// keeps every node, so proofs for any inserted leaf are available, and a
// ring of the last roots to decide which spend roots are still accepted.
type Tree struct {
	mu     sync.RWMutex
	hasher hash.Hasher
	depth  int
	store  LeafStore

	// nodes[0] are the leaves, nodes[depth] has the root when non empty
	nodes [][]*big.Int
	zeros []*big.Int

	roots     []*big.Int
	rootsNext int
	rootIndex map[string]int
}

// NewTree creates a tree of the given depth. If store is not nil, the tree is
// rebuilt from the stored leaves and every new leaf is persisted there.
func NewTree(h hash.Hasher, depth int, store LeafStore) (*Tree, error) {
	if depth <= 0 || depth > 32 {
		return nil, fmt.Errorf("invalid tree depth %d", depth)
	}
	t := &Tree{
		hasher:    h,
		depth:     depth,
		nodes:     make([][]*big.Int, depth+1),
		zeros:     make([]*big.Int, depth+1),
		roots:     make([]*big.Int, RootHistorySize),
		rootIndex: make(map[string]int),
	}
	t.zeros[0] = ZeroLeaf
	for i := 1; i <= depth; i++ {
		z, err := h.Hash(t.zeros[i-1], t.zeros[i-1])
		if err != nil {
			return nil, err
		}
		t.zeros[i] = z
	}
	t.pushRoot(t.zeros[depth])

	if store != nil {
		leaves, err := store.CommitmentLeaves()
		if err != nil {
			return nil, fmt.Errorf("load leaves: %w", err)
		}
		for _, leaf := range leaves {
			if _, _, err := t.append(leaf); err != nil {
				return nil, fmt.Errorf("rebuild tree: %w", err)
			}
		}
		t.store = store
	}
	return t, nil
}

// Append inserts a commitment at the next free index. It returns the index
// and the new root.
func (t *Tree) Append(leaf *big.Int) (uint64, *big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !fcrypto.IsFieldElement(leaf) {
		return 0, nil, ErrInvalidLeaf
	}
	if uint64(len(t.nodes[0])) >= uint64(1)<<t.depth {
		return 0, nil, ErrTreeFull
	}
	if t.store != nil {
		if err := t.store.AppendCommitmentLeaf(uint64(len(t.nodes[0])), leaf); err != nil {
			return 0, nil, fmt.Errorf("persist leaf: %w", err)
		}
	}
	return t.append(leaf)
}

func (t *Tree) append(leaf *big.Int) (uint64, *big.Int, error) {
	if !fcrypto.IsFieldElement(leaf) {
		return 0, nil, ErrInvalidLeaf
	}
	index := uint64(len(t.nodes[0]))
	if index >= uint64(1)<<t.depth {
		return 0, nil, ErrTreeFull
	}
	t.nodes[0] = append(t.nodes[0], new(big.Int).Set(leaf))
	pos := index
	current := leaf
	for level := 0; level < t.depth; level++ {
		var left, right *big.Int
		if pos%2 == 0 {
			left, right = current, t.zeros[level]
		} else {
			left, right = t.nodes[level][pos-1], current
		}
		parent, err := t.hasher.Hash(left, right)
		if err != nil {
			return 0, nil, err
		}
		pos /= 2
		if uint64(len(t.nodes[level+1])) == pos {
			t.nodes[level+1] = append(t.nodes[level+1], parent)
		} else {
			t.nodes[level+1][pos] = parent
		}
		current = parent
	}
	t.pushRoot(current)
	return index, new(big.Int).Set(current), nil
}

func (t *Tree) pushRoot(root *big.Int) {
	if old := t.roots[t.rootsNext]; old != nil {
		key := old.String()
		if t.rootIndex[key] == t.rootsNext {
			delete(t.rootIndex, key)
		}
	}
	t.roots[t.rootsNext] = root
	t.rootIndex[root.String()] = t.rootsNext
	t.rootsNext = (t.rootsNext + 1) % len(t.roots)
}

// Root returns the current root.
func (t *Tree) Root() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.nodes[t.depth]) == 0 {
		return new(big.Int).Set(t.zeros[t.depth])
	}
	return new(big.Int).Set(t.nodes[t.depth][0])
}

// Size returns the number of inserted leaves.
func (t *Tree) Size() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return uint64(len(t.nodes[0]))
}

// Depth returns the depth of the tree.
func (t *Tree) Depth() int {
	return t.depth
}

// IsKnownRoot returns true if root is the current root or one of the last
// RootHistorySize-1 roots.
func (t *Tree) IsKnownRoot(root *big.Int) bool {
	if root == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rootIndex[root.String()]
	return ok
}

// Proof returns the authentication path of the leaf at index against the
// current root.
func (t *Tree) Proof(index uint64) (*MerkleProof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index >= uint64(len(t.nodes[0])) {
		return nil, ErrLeafNotFound
	}
	proof := &MerkleProof{
		Index:    index,
		Siblings: make([]*big.Int, t.depth),
		Root:     new(big.Int).Set(t.nodes[t.depth][0]),
	}
	pos := index
	for level := 0; level < t.depth; level++ {
		sibling := pos ^ 1
		if sibling < uint64(len(t.nodes[level])) {
			proof.Siblings[level] = new(big.Int).Set(t.nodes[level][sibling])
		} else {
			proof.Siblings[level] = new(big.Int).Set(t.zeros[level])
		}
		pos /= 2
	}
	return proof, nil
}

// ComputeRoot folds leaf and proof into the root they commit to.
func ComputeRoot(h hash.Hasher, leaf *big.Int, proof *MerkleProof) (*big.Int, error) {
	if proof == nil || len(proof.Siblings) == 0 {
		return nil, fmt.Errorf("empty proof")
	}
	current := leaf
	pos := proof.Index
	for _, sibling := range proof.Siblings {
		var err error
		if pos%2 == 0 {
			current, err = h.Hash(current, sibling)
		} else {
			current, err = h.Hash(sibling, current)
		}
		if err != nil {
			return nil, err
		}
		pos /= 2
	}
	return current, nil
}

// VerifyProof checks that leaf is included under root.
func VerifyProof(h hash.Hasher, leaf *big.Int, proof *MerkleProof, root *big.Int) bool {
	computed, err := ComputeRoot(h, leaf, proof)
	if err != nil {
		return false
	}
	return computed.Cmp(root) == 0
}

// VerifyProof checks a proof against root with the tree hash function.
func (t *Tree) VerifyProof(leaf *big.Int, proof *MerkleProof, root *big.Int) bool {
	return VerifyProof(t.hasher, leaf, proof, root)
}
