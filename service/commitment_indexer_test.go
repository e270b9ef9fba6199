package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/gagliardetto/solana-go"
	"github.com/vocdoni/shieldpay/crypto/hash"
	"github.com/vocdoni/shieldpay/pool"
	"github.com/vocdoni/shieldpay/relayer"
	"github.com/vocdoni/shieldpay/storage"
	"github.com/vocdoni/shieldpay/types"
	"go.vocdoni.io/dvote/db/metadb"
)

// fakeChain serves commitment batches in chain order.
type fakeChain struct {
	mu      sync.Mutex
	batches []*types.CommitmentBatch
	failAt  int
	afters  []string
}

func (f *fakeChain) add(sig string, leaves ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := &types.CommitmentBatch{Signature: sig, Slot: uint64(len(f.batches) + 1)}
	for _, l := range leaves {
		b.Commitments = append(b.Commitments, big.NewInt(l))
	}
	f.batches = append(f.batches, b)
}

func (f *fakeChain) Commitments(_ context.Context, after string) ([]*types.CommitmentBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afters = append(f.afters, after)
	start := 0
	if after != "" {
		start = -1
		for i, b := range f.batches {
			if b.Signature == after {
				start = i + 1
			}
		}
		if start < 0 {
			return nil, fmt.Errorf("unknown signature %s", after)
		}
	}
	out := f.batches[start:]
	if f.failAt > 0 && f.failAt < len(f.batches) && f.failAt >= start {
		return f.batches[start:f.failAt], fmt.Errorf("rpc timeout")
	}
	return out, nil
}

func newIndexedTree(c *qt.C, store *storage.Storage) *pool.Tree {
	tree, err := pool.NewTree(hash.MiMC{}, pool.TreeDepth, store)
	c.Assert(err, qt.IsNil)
	return tree
}

func TestCommitmentIndexerSync(t *testing.T) {
	c := qt.New(t)
	store, err := storage.New(metadb.NewTest(t))
	c.Assert(err, qt.IsNil)
	tree := newIndexedTree(c, store)

	chain := &fakeChain{}
	chain.add("dep1", 11)
	chain.add("failed")
	chain.add("wd1", 12, 13)
	idx := NewCommitmentIndexer(chain, tree, store, time.Hour)

	n, err := idx.Sync(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 3)
	c.Assert(tree.Size(), qt.Equals, uint64(3))
	cur, err := store.CommitmentCursor()
	c.Assert(err, qt.IsNil)
	c.Assert(cur, qt.DeepEquals, &storage.IndexerCursor{Signature: "wd1", Leaves: 3})

	// nothing new
	n, err = idx.Sync(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 0)

	chain.add("dep2", 14)
	n, err = idx.Sync(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 1)
	c.Assert(chain.afters, qt.DeepEquals, []string{"", "wd1", "wd1"})

	// leaves are in chain order
	proof, err := tree.Proof(3)
	c.Assert(err, qt.IsNil)
	c.Assert(tree.VerifyProof(big.NewInt(14), proof, tree.Root()), qt.IsTrue)
}

func TestCommitmentIndexerPartialFetch(t *testing.T) {
	c := qt.New(t)
	store, err := storage.New(metadb.NewTest(t))
	c.Assert(err, qt.IsNil)
	tree := newIndexedTree(c, store)

	chain := &fakeChain{failAt: 1}
	chain.add("dep1", 1)
	chain.add("dep2", 2)
	idx := NewCommitmentIndexer(chain, tree, store, time.Hour)

	n, err := idx.Sync(context.Background())
	c.Assert(err, qt.ErrorMatches, "fetch commitments: rpc timeout")
	c.Assert(n, qt.Equals, 1)

	chain.failAt = 0
	n, err = idx.Sync(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 1)
	c.Assert(tree.Size(), qt.Equals, uint64(2))
}

func TestCommitmentIndexerResume(t *testing.T) {
	c := qt.New(t)
	store, err := storage.New(metadb.NewTest(t))
	c.Assert(err, qt.IsNil)
	tree := newIndexedTree(c, store)

	// a leaf of wd1 reached the tree but the cursor was not stored
	c.Assert(store.SetCommitmentCursor(&storage.IndexerCursor{Signature: "dep1", Leaves: 1}), qt.IsNil)
	_, _, err = tree.Append(big.NewInt(1))
	c.Assert(err, qt.IsNil)
	_, _, err = tree.Append(big.NewInt(2))
	c.Assert(err, qt.IsNil)

	chain := &fakeChain{}
	chain.add("dep1", 1)
	chain.add("wd1", 2, 3)
	idx := NewCommitmentIndexer(chain, newIndexedTree(c, store), store, time.Hour)

	n, err := idx.Sync(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 1)

	rebuilt := newIndexedTree(c, store)
	c.Assert(rebuilt.Size(), qt.Equals, uint64(3))
	expected, err := pool.NewTree(hash.MiMC{}, pool.TreeDepth, nil)
	c.Assert(err, qt.IsNil)
	for _, l := range []int64{1, 2, 3} {
		_, _, err = expected.Append(big.NewInt(l))
		c.Assert(err, qt.IsNil)
	}
	c.Assert(rebuilt.Root().Cmp(expected.Root()), qt.Equals, 0)

	// a tree that lost leaves is not silently refilled
	empty, err := pool.NewTree(hash.MiMC{}, pool.TreeDepth, nil)
	c.Assert(err, qt.IsNil)
	behind := NewCommitmentIndexer(chain, empty, store, time.Hour)
	_, err = behind.Sync(context.Background())
	c.Assert(err, qt.ErrorMatches, "commitment tree has 0 leaves, cursor expects 3")
}

func TestCommitmentIndexerStartStop(t *testing.T) {
	c := qt.New(t)
	store, err := storage.New(metadb.NewTest(t))
	c.Assert(err, qt.IsNil)
	tree := newIndexedTree(c, store)

	chain := &fakeChain{}
	chain.add("dep1", 5)
	idx := NewCommitmentIndexer(chain, tree, store, 10*time.Millisecond)
	c.Assert(idx.Start(context.Background()), qt.IsNil)
	c.Assert(idx.Start(context.Background()), qt.ErrorMatches, "service already running")
	c.Assert(waitFor(time.Second, func() bool { return tree.Size() == 1 }), qt.IsTrue)

	chain.add("dep2", 6)
	c.Assert(waitFor(time.Second, func() bool { return tree.Size() == 2 }), qt.IsTrue)
	idx.Stop()
	idx.Stop()
}

func TestSpendAgainstIndexedRoot(t *testing.T) {
	c := qt.New(t)
	store, err := storage.New(metadb.NewTest(t))
	c.Assert(err, qt.IsNil)
	tree := newIndexedTree(c, store)

	owner, err := pool.RandomFieldElement()
	c.Assert(err, qt.IsNil)
	randomness, err := pool.RandomFieldElement()
	c.Assert(err, qt.IsNil)
	note, err := pool.CreateNote(types.LamportsPerSOL, owner, randomness, pool.NativeMint)
	c.Assert(err, qt.IsNil)

	chain := &fakeChain{}
	chain.add("dep1")
	chain.batches[0].Commitments = []*big.Int{note.Commitment}
	_, err = NewCommitmentIndexer(chain, tree, store, time.Hour).Sync(context.Background())
	c.Assert(err, qt.IsNil)

	// the depositor rebuilds the root from its own view of the pool
	local, err := pool.NewTree(hash.MiMC{}, pool.TreeDepth, nil)
	c.Assert(err, qt.IsNil)
	_, root, err := local.Append(note.Commitment)
	c.Assert(err, qt.IsNil)

	ledger := newFakeLedger()
	ledger.balances[solana.PublicKey{}] = 100 * types.LamportsPerSOL
	gw, err := relayer.New(relayer.Config{}, relayer.Deps{
		Store:     store,
		Submitter: ledger,
		Balances:  ledger,
		Tree:      tree,
	})
	c.Assert(err, qt.IsNil)

	values := []*big.Int{
		root, big.NewInt(101), big.NewInt(102),
		big.NewInt(103), big.NewInt(104), big.NewInt(0), pool.NativeMint,
	}
	inputs := make([]*types.BigInt, len(values))
	for i, v := range values {
		inputs[i] = new(types.BigInt).SetBigInt(v)
	}
	sub := &relayer.Submission{
		Proof:             []byte{0xde, 0xad},
		PublicInputs:      inputs,
		Nullifiers:        []*types.BigInt{inputs[1], inputs[2]},
		OutputCommitments: []*types.BigInt{inputs[3], inputs[4]},
		MerkleRoot:        inputs[0],
		DenominationIndex: 1,
	}
	out := gw.Submit(context.Background(), sub)
	c.Assert(out.Kind(), qt.Equals, relayer.KindSuccess, qt.Commentf("got %T", out))
}
