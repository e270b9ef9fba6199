package storage

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/vocdoni/shieldpay/crypto"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

func indexKey(index uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, index)
}

// CommitmentLeaves returns every stored commitment in index order.
func (s *Storage) CommitmentLeaves() ([]*big.Int, error) {
	var leaves []*big.Int
	var iterErr error
	if err := prefixeddb.NewPrefixedReader(s.db, commitmentPrefix).Iterate(nil, func(k, v []byte) bool {
		if len(k) != 8 || binary.BigEndian.Uint64(k) != uint64(len(leaves)) {
			iterErr = fmt.Errorf("commitment index gap at %x", k)
			return false
		}
		leaf, err := crypto.FieldFromBytes(v)
		if err != nil {
			iterErr = fmt.Errorf("commitment %d: %w", len(leaves), err)
			return false
		}
		leaves = append(leaves, leaf)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate commitments: %w", err)
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return leaves, nil
}

// AppendCommitmentLeaf stores the commitment at index. Indexes are
// append-only, an existing index is never overwritten.
func (s *Storage) AppendCommitmentLeaf(index uint64, leaf *big.Int) error {
	if !crypto.IsFieldElement(leaf) {
		return fmt.Errorf("commitment is not a field element")
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	key := indexKey(index)
	rd := prefixeddb.NewPrefixedReader(s.db, commitmentPrefix)
	if _, err := rd.Get(key); err == nil {
		return fmt.Errorf("commitment %d: %w", index, ErrKeyAlreadyExists)
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), commitmentPrefix)
	if err := wTx.Set(key, crypto.FieldBytes(leaf)); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}
