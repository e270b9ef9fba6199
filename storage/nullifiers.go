package storage

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/vocdoni/arbo"
	"github.com/vocdoni/shieldpay/crypto"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// spentValue is the leaf value of a spent nullifier.
var spentValue = []byte{1}

func nullifierKey(n *big.Int) ([]byte, error) {
	if !crypto.IsFieldElement(n) {
		return nil, fmt.Errorf("nullifier is not a field element")
	}
	return crypto.FieldBytes(n), nil
}

func nullifierKeys(nullifiers []*big.Int) ([][]byte, error) {
	keys := make([][]byte, 0, len(nullifiers))
	seen := map[string]bool{}
	for _, n := range nullifiers {
		k, err := nullifierKey(n)
		if err != nil {
			return nil, err
		}
		if seen[string(k)] {
			return nil, fmt.Errorf("duplicated nullifier %s", n)
		}
		seen[string(k)] = true
		keys = append(keys, k)
	}
	return keys, nil
}

// isSpent checks the spent set. The caller must hold globalLock or accept a
// racy answer.
func (s *Storage) isSpent(key []byte) (bool, error) {
	if _, _, err := s.nullifiers.Get(key); err != nil {
		if errors.Is(err, arbo.ErrKeyNotFound) || errors.Is(err, db.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read spent set: %w", err)
	}
	return true, nil
}

// IsNullifierSpent returns true if the nullifier is in the spent set.
func (s *Storage) IsNullifierSpent(n *big.Int) (bool, error) {
	key, err := nullifierKey(n)
	if err != nil {
		return false, err
	}
	return s.isSpent(key)
}

// ReserveNullifiers atomically checks that none of the nullifiers is spent
// or reserved and reserves all of them. On error nothing is reserved.
// Spent nullifiers take precedence: ErrNullifierSpent is returned even if
// another one is only reserved.
func (s *Storage) ReserveNullifiers(nullifiers ...*big.Int) error {
	keys, err := nullifierKeys(nullifiers)
	if err != nil {
		return err
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	for _, k := range keys {
		spent, err := s.isSpent(k)
		if err != nil {
			return err
		}
		if spent {
			return ErrNullifierSpent
		}
	}
	for _, k := range keys {
		if s.isReserved(nullifierReservationPrefix, k) {
			return ErrNullifierReserved
		}
	}
	val, err := encodeArtifact(&reservationRecord{Timestamp: time.Now().UnixNano()})
	if err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), nullifierReservationPrefix)
	for _, k := range keys {
		if err := wTx.Set(k, val); err != nil {
			wTx.Discard()
			return err
		}
	}
	return wTx.Commit()
}

// ReleaseNullifiers drops the reservations of the nullifiers, leaving them
// unspent. Missing reservations are ignored.
func (s *Storage) ReleaseNullifiers(nullifiers ...*big.Int) error {
	keys, err := nullifierKeys(nullifiers)
	if err != nil {
		return err
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	for _, k := range keys {
		if err := s.deleteArtifact(nullifierReservationPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("delete reservation: %w", err)
		}
	}
	return nil
}

// CommitNullifiers adds the nullifiers to the spent set and drops their
// reservations. It is the only irrevocable write of a spend.
func (s *Storage) CommitNullifiers(nullifiers ...*big.Int) error {
	keys, err := nullifierKeys(nullifiers)
	if err != nil {
		return err
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	for _, k := range keys {
		if err := s.nullifiers.Add(k, spentValue); err != nil && !errors.Is(err, arbo.ErrKeyAlreadyExists) {
			return fmt.Errorf("add nullifier to spent set: %w", err)
		}
		if err := s.deleteArtifact(nullifierReservationPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("delete reservation: %w", err)
		}
	}
	return nil
}

// SpentSetRoot returns the root of the spent nullifiers tree. Two replicas
// with the same spent set report the same root.
func (s *Storage) SpentSetRoot() ([]byte, error) {
	return s.nullifiers.Root()
}

// SpentNullifierProof returns an arbo inclusion proof of a spent nullifier.
func (s *Storage) SpentNullifierProof(n *big.Int) ([]byte, error) {
	key, err := nullifierKey(n)
	if err != nil {
		return nil, err
	}
	_, _, siblings, exists, err := s.nullifiers.GenProof(key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return siblings, nil
}

// ClearStaleNullifierReservations removes reservations older than maxAge,
// left by submissions that never finished.
func (s *Storage) ClearStaleNullifierReservations(maxAge time.Duration) (int, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.clearStaleReservations(nullifierReservationPrefix, maxAge)
}
