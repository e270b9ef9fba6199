package storage

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// reservationRecord is the value of a reservation key.
type reservationRecord struct {
	Timestamp int64
}

// Artifact encoding/decoding
func encodeArtifact(a any) ([]byte, error) {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	em, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return em.Marshal(a)
}

func decodeArtifact(data []byte, out any) error {
	return cbor.Unmarshal(data, out)
}

func hashKey(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:maxKeySize]
}

// setArtifact encodes and stores an artifact under prefix/key.
func (s *Storage) setArtifact(prefix, key []byte, artifact any) error {
	val, err := encodeArtifact(artifact)
	if err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Set(key, val); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

// getArtifact decodes the artifact stored under prefix/key into out. It
// returns ErrNotFound if the key does not exist.
func (s *Storage) getArtifact(prefix, key []byte, out any) error {
	data, err := prefixeddb.NewPrefixedReader(s.db, prefix).Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return decodeArtifact(data, out)
}

// deleteArtifact removes prefix/key. It returns ErrNotFound if the key does
// not exist.
func (s *Storage) deleteArtifact(prefix, key []byte) error {
	rd := prefixeddb.NewPrefixedReader(s.db, prefix)
	if _, err := rd.Get(key); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Delete(key); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

// setReservation marks key as reserved. The caller must hold globalLock.
func (s *Storage) setReservation(prefix, key []byte) error {
	if s.isReserved(prefix, key) {
		return ErrKeyAlreadyExists
	}
	return s.setArtifact(prefix, key, &reservationRecord{Timestamp: time.Now().UnixNano()})
}

// isReserved returns true if a reservation exists for key.
func (s *Storage) isReserved(prefix, key []byte) bool {
	_, err := prefixeddb.NewPrefixedReader(s.db, prefix).Get(key)
	return err == nil
}

// clearStaleReservations deletes the reservations under prefix older than
// maxAge and returns how many were removed. The caller must hold
// globalLock.
func (s *Storage) clearStaleReservations(prefix []byte, maxAge time.Duration) (int, error) {
	threshold := time.Now().Add(-maxAge).UnixNano()
	var stale [][]byte
	if err := prefixeddb.NewPrefixedReader(s.db, prefix).Iterate(nil, func(k, v []byte) bool {
		var r reservationRecord
		if err := decodeArtifact(v, &r); err != nil || r.Timestamp < threshold {
			stale = append(stale, append([]byte{}, k...))
		}
		return true
	}); err != nil {
		return 0, fmt.Errorf("iterate reservations: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	for _, k := range stale {
		if err := wTx.Delete(k); err != nil {
			wTx.Discard()
			return 0, err
		}
	}
	if err := wTx.Commit(); err != nil {
		return 0, err
	}
	return len(stale), nil
}
