package storage

import (
	"math/big"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/gagliardetto/solana-go"
	"github.com/vocdoni/arbo/memdb"
	"github.com/vocdoni/shieldpay/types"
	"go.vocdoni.io/dvote/db/metadb"
)

func newTestStorage(t *testing.T) *Storage {
	stg, err := New(metadb.NewTest(t))
	if err != nil {
		t.Fatal(err)
	}
	return stg
}

func TestNullifierReservations(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)
	n1, n2, n3 := big.NewInt(11), big.NewInt(22), big.NewInt(33)

	c.Assert(stg.ReserveNullifiers(n1, n2), qt.IsNil)
	c.Assert(stg.ReserveNullifiers(n2, n3), qt.ErrorIs, ErrNullifierReserved)
	// nothing reserved on failure
	c.Assert(stg.ReserveNullifiers(n3), qt.IsNil)
	c.Assert(stg.ReleaseNullifiers(n3), qt.IsNil)

	c.Assert(stg.ReleaseNullifiers(n1, n2), qt.IsNil)
	c.Assert(stg.ReserveNullifiers(n1, n2), qt.IsNil)

	root0, err := stg.SpentSetRoot()
	c.Assert(err, qt.IsNil)
	c.Assert(stg.CommitNullifiers(n1, n2), qt.IsNil)
	root1, err := stg.SpentSetRoot()
	c.Assert(err, qt.IsNil)
	c.Assert(root1, qt.Not(qt.DeepEquals), root0)

	spent, err := stg.IsNullifierSpent(n1)
	c.Assert(err, qt.IsNil)
	c.Assert(spent, qt.IsTrue)
	spent, err = stg.IsNullifierSpent(n3)
	c.Assert(err, qt.IsNil)
	c.Assert(spent, qt.IsFalse)

	// spent takes precedence over reserved
	c.Assert(stg.ReserveNullifiers(n3), qt.IsNil)
	c.Assert(stg.ReserveNullifiers(n3, n1), qt.ErrorIs, ErrNullifierSpent)
	c.Assert(stg.ReserveNullifiers(n1), qt.ErrorIs, ErrNullifierSpent)

	_, err = stg.SpentNullifierProof(n1)
	c.Assert(err, qt.IsNil)
	_, err = stg.SpentNullifierProof(n3)
	c.Assert(err, qt.ErrorIs, ErrNotFound)

	c.Assert(stg.ReserveNullifiers(big.NewInt(5), big.NewInt(5)), qt.ErrorMatches, "duplicated nullifier 5")
}

func TestConcurrentReservation(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)
	n := big.NewInt(77)

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := stg.ReserveNullifiers(n, big.NewInt(int64(1000+i))); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	c.Assert(won, qt.Equals, 1)
}

func TestClearStaleNullifierReservations(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)
	c.Assert(stg.ReserveNullifiers(big.NewInt(1)), qt.IsNil)

	removed, err := stg.ClearStaleNullifierReservations(time.Hour)
	c.Assert(err, qt.IsNil)
	c.Assert(removed, qt.Equals, 0)

	time.Sleep(5 * time.Millisecond)
	removed, err = stg.ClearStaleNullifierReservations(time.Millisecond)
	c.Assert(err, qt.IsNil)
	c.Assert(removed, qt.Equals, 1)
	c.Assert(stg.ReserveNullifiers(big.NewInt(1)), qt.IsNil)
}

func TestSpentSetRootIsReplicable(t *testing.T) {
	c := qt.New(t)
	a, err := New(memdb.New())
	c.Assert(err, qt.IsNil)
	b := newTestStorage(t)
	for _, stg := range []*Storage{a, b} {
		c.Assert(stg.CommitNullifiers(big.NewInt(3), big.NewInt(4)), qt.IsNil)
	}
	ra, err := a.SpentSetRoot()
	c.Assert(err, qt.IsNil)
	rb, err := b.SpentSetRoot()
	c.Assert(err, qt.IsNil)
	c.Assert(ra, qt.DeepEquals, rb)
}

func TestCommitmentLeaves(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)
	leaves, err := stg.CommitmentLeaves()
	c.Assert(err, qt.IsNil)
	c.Assert(leaves, qt.HasLen, 0)

	for i := 0; i < 3; i++ {
		c.Assert(stg.AppendCommitmentLeaf(uint64(i), big.NewInt(int64(100+i))), qt.IsNil)
	}
	c.Assert(stg.AppendCommitmentLeaf(1, big.NewInt(9)), qt.ErrorIs, ErrKeyAlreadyExists)

	leaves, err = stg.CommitmentLeaves()
	c.Assert(err, qt.IsNil)
	c.Assert(leaves, qt.HasLen, 3)
	for i, leaf := range leaves {
		c.Assert(leaf.Int64(), qt.Equals, int64(100+i))
	}

	c.Assert(stg.AppendCommitmentLeaf(5, big.NewInt(1)), qt.IsNil)
	_, err = stg.CommitmentLeaves()
	c.Assert(err, qt.ErrorMatches, "commitment index gap.*")
}

func TestSplits(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)
	recipient := solana.NewWallet().PublicKey()
	now := time.Now()
	tx := &types.SplitTransaction{
		ID:          "split-1",
		Recipient:   recipient,
		TotalAmount: 1_000_000,
		Status:      types.SplitPreparing,
		CreatedAt:   now,
		Parts: []types.SplitPart{
			{Index: 0, Amount: 400_000, ScheduledTime: now.Add(time.Minute), Status: types.PartPending},
			{Index: 1, Amount: 600_000, ScheduledTime: now.Add(time.Hour), Status: types.PartPending},
		},
	}
	c.Assert(stg.SetSplit(tx), qt.IsNil)

	got, err := stg.Split("split-1")
	c.Assert(err, qt.IsNil)
	c.Assert(got.Recipient.Equals(recipient), qt.IsTrue)
	c.Assert(got.Parts, qt.HasLen, 2)
	c.Assert(got.CreatedAt.Equal(now), qt.IsTrue)
	c.Assert(got.Parts[1].ScheduledTime.Equal(tx.Parts[1].ScheduledTime), qt.IsTrue)

	_, err = stg.Split("missing")
	c.Assert(err, qt.ErrorIs, ErrNotFound)

	list, err := stg.ListSplits()
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 1)

	c.Assert(stg.SetSplitSecrets("split-1", [][]byte{{1}, {2}}), qt.IsNil)
	keys, err := stg.SplitSecrets("split-1")
	c.Assert(err, qt.IsNil)
	c.Assert(keys, qt.DeepEquals, [][]byte{{1}, {2}})
	c.Assert(stg.DeleteSplitSecrets("split-1"), qt.IsNil)
	_, err = stg.SplitSecrets("split-1")
	c.Assert(err, qt.ErrorIs, ErrNotFound)
}

func TestSplitTaskQueue(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)
	now := time.Now()

	late := &SplitTask{SplitID: "a", PartIndex: 0, Due: now.Add(time.Hour)}
	early := &SplitTask{SplitID: "a", PartIndex: 1, Due: now.Add(-time.Minute)}
	earlier := &SplitTask{SplitID: "b", PartIndex: 0, Due: now.Add(-time.Hour)}
	for _, task := range []*SplitTask{late, early, earlier} {
		c.Assert(stg.PushSplitTask(task), qt.IsNil)
	}
	c.Assert(stg.CountSplitTasks(), qt.Equals, 3)

	t1, k1, err := stg.NextDueSplitTask(now)
	c.Assert(err, qt.IsNil)
	c.Assert(t1.SplitID, qt.Equals, "b")
	t2, k2, err := stg.NextDueSplitTask(now)
	c.Assert(err, qt.IsNil)
	c.Assert(t2.PartIndex, qt.Equals, 1)
	// the late one is not due yet
	_, _, err = stg.NextDueSplitTask(now)
	c.Assert(err, qt.ErrorIs, ErrNoMoreElements)

	c.Assert(stg.ReleaseSplitTask(k2), qt.IsNil)
	_, k2again, err := stg.NextDueSplitTask(now)
	c.Assert(err, qt.IsNil)
	c.Assert(k2again, qt.DeepEquals, k2)

	c.Assert(stg.MarkSplitTaskDone(k1), qt.IsNil)
	c.Assert(stg.MarkSplitTaskDone(k2), qt.IsNil)
	c.Assert(stg.CountSplitTasks(), qt.Equals, 1)

	t3, _, err := stg.NextDueSplitTask(now.Add(2 * time.Hour))
	c.Assert(err, qt.IsNil)
	c.Assert(t3.Due.Equal(late.Due), qt.IsTrue)
}

func TestRemoveSplitTasks(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)
	now := time.Now()
	for _, task := range []*SplitTask{
		{SplitID: "a", PartIndex: 1, Due: now.Add(-time.Minute)},
		{SplitID: "a", PartIndex: 1, Due: now.Add(time.Hour)},
		{SplitID: "a", PartIndex: 2, Due: now.Add(time.Hour)},
		{SplitID: "ab", PartIndex: 1, Due: now},
	} {
		c.Assert(stg.PushSplitTask(task), qt.IsNil)
	}
	// a reserved task goes away with its reservation
	_, key, err := stg.NextDueSplitTask(now)
	c.Assert(err, qt.IsNil)

	n, err := stg.RemoveSplitTasks("a", 1)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 2)
	c.Assert(stg.CountSplitTasks(), qt.Equals, 2)
	c.Assert(stg.isReserved(splitTaskReservationPrefix, key), qt.IsFalse)

	n, err = stg.RemoveSplitTasks("missing", 0)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 0)
}

func TestCommitmentCursor(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)
	cur, err := stg.CommitmentCursor()
	c.Assert(err, qt.IsNil)
	c.Assert(cur, qt.DeepEquals, &IndexerCursor{})

	c.Assert(stg.SetCommitmentCursor(&IndexerCursor{Signature: "sig", Leaves: 3}), qt.IsNil)
	cur, err = stg.CommitmentCursor()
	c.Assert(err, qt.IsNil)
	c.Assert(cur, qt.DeepEquals, &IndexerCursor{Signature: "sig", Leaves: 3})
}
