package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/vocdoni/shieldpay/log"
	"github.com/vocdoni/shieldpay/storage"
	"github.com/vocdoni/shieldpay/types"
)

// DefaultIndexInterval is the default period between chain queries of the
// commitment indexer.
const DefaultIndexInterval = 5 * time.Second

// CommitmentSource lists the finalized pool transactions after the one
// signed by after, oldest first. It may return the batches read before an
// error together with the error.
type CommitmentSource interface {
	Commitments(ctx context.Context, after string) ([]*types.CommitmentBatch, error)
}

// LeafTree is the commitment tree kept by the indexer.
type LeafTree interface {
	Append(leaf *big.Int) (uint64, *big.Int, error)
	Size() uint64
}

// CursorStore persists the indexer progress.
type CursorStore interface {
	CommitmentCursor() (*storage.IndexerCursor, error)
	SetCommitmentCursor(cur *storage.IndexerCursor) error
}

// CommitmentIndexer mirrors the on-chain commitment tree. It appends the
// leaves of deposits and withdrawals in chain order, so the roots clients
// prove against are known to the gateway.
type CommitmentIndexer struct {
	source   CommitmentSource
	tree     LeafTree
	cursors  CursorStore
	interval time.Duration

	syncMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCommitmentIndexer creates an indexer that polls source every interval.
func NewCommitmentIndexer(source CommitmentSource, tree LeafTree, cursors CursorStore,
	interval time.Duration,
) *CommitmentIndexer {
	if interval <= 0 {
		interval = DefaultIndexInterval
	}
	return &CommitmentIndexer{source: source, tree: tree, cursors: cursors, interval: interval}
}

// Start syncs the tree right away and then keeps polling in the background.
func (ci *CommitmentIndexer) Start(ctx context.Context) error {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	if ci.cancel != nil {
		return fmt.Errorf("service already running")
	}
	ctx, ci.cancel = context.WithCancel(ctx)
	ci.done = make(chan struct{})
	go ci.run(ctx, ci.done)
	return nil
}

func (ci *CommitmentIndexer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(ci.interval)
	defer ticker.Stop()
	for {
		if _, err := ci.Sync(ctx); err != nil && ctx.Err() == nil {
			log.Warnw("commitment indexing failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sync appends the leaves of the pool transactions after the stored cursor
// and returns how many were added. The cursor is saved after every
// transaction, leaves appended before an interruption are not appended
// again.
func (ci *CommitmentIndexer) Sync(ctx context.Context) (int, error) {
	ci.syncMu.Lock()
	defer ci.syncMu.Unlock()
	cur, err := ci.cursors.CommitmentCursor()
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if size := ci.tree.Size(); size < cur.Leaves {
		return 0, fmt.Errorf("commitment tree has %d leaves, cursor expects %d", size, cur.Leaves)
	}
	batches, fetchErr := ci.source.Commitments(ctx, cur.Signature)

	added := 0
	for _, b := range batches {
		next := cur.Leaves + uint64(len(b.Commitments))
		done := ci.tree.Size() - cur.Leaves
		if done > uint64(len(b.Commitments)) {
			return added, fmt.Errorf("commitment tree ahead of transaction %s", b.Signature)
		}
		for _, cm := range b.Commitments[done:] {
			if _, _, err := ci.tree.Append(cm); err != nil {
				return added, fmt.Errorf("append commitment of %s: %w", b.Signature, err)
			}
			added++
		}
		cur = &storage.IndexerCursor{Signature: b.Signature, Leaves: next}
		if err := ci.cursors.SetCommitmentCursor(cur); err != nil {
			return added, fmt.Errorf("store cursor: %w", err)
		}
	}
	if added > 0 {
		log.Infow("commitments indexed", "count", added, "size", ci.tree.Size(), "last", cur.Signature)
	}
	if fetchErr != nil {
		return added, fmt.Errorf("fetch commitments: %w", fetchErr)
	}
	return added, nil
}

// Stop halts the indexer and waits for the running sync.
func (ci *CommitmentIndexer) Stop() {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	if ci.cancel == nil {
		return
	}
	ci.cancel()
	<-ci.done
	ci.cancel = nil
}
