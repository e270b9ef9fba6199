package storage

import (
	"fmt"

	"github.com/vocdoni/shieldpay/log"
	"github.com/vocdoni/shieldpay/types"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// SetSplit stores or replaces a split transaction.
func (s *Storage) SetSplit(tx *types.SplitTransaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("split transaction without id")
	}
	return s.setArtifact(splitPrefix, []byte(tx.ID), tx)
}

// Split loads a split transaction. Returns ErrNotFound if it does not exist.
func (s *Storage) Split(id string) (*types.SplitTransaction, error) {
	tx := &types.SplitTransaction{}
	if err := s.getArtifact(splitPrefix, []byte(id), tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ListSplits returns every stored split transaction.
func (s *Storage) ListSplits() ([]*types.SplitTransaction, error) {
	list := []*types.SplitTransaction{}
	if err := prefixeddb.NewPrefixedReader(s.db, splitPrefix).Iterate(nil, func(k, v []byte) bool {
		tx := &types.SplitTransaction{}
		if err := decodeArtifact(v, tx); err != nil {
			log.Warnw("failed to decode split transaction", "id", string(k), "error", err.Error())
			return true
		}
		list = append(list, tx)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate splits: %w", err)
	}
	return list, nil
}

// splitSecrets holds the temporary wallet keys of a split, by part index.
type splitSecrets struct {
	Keys [][]byte
}

// SetSplitSecrets stores the temporary wallet private keys of a split.
func (s *Storage) SetSplitSecrets(id string, keys [][]byte) error {
	return s.setArtifact(splitSecretPrefix, []byte(id), &splitSecrets{Keys: keys})
}

// SplitSecrets loads the temporary wallet private keys of a split. Returns
// ErrNotFound if they were deleted or never stored.
func (s *Storage) SplitSecrets(id string) ([][]byte, error) {
	sec := &splitSecrets{}
	if err := s.getArtifact(splitSecretPrefix, []byte(id), sec); err != nil {
		return nil, err
	}
	return sec.Keys, nil
}

// DeleteSplitSecrets removes the temporary wallet keys of a split.
func (s *Storage) DeleteSplitSecrets(id string) error {
	return s.deleteArtifact(splitSecretPrefix, []byte(id))
}
