package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.vocdoni.io/dvote/db/prefixeddb"
)

// SplitTask is a scheduled forward of one part of a split transaction.
type SplitTask struct {
	SplitID   string
	PartIndex int
	Due       time.Time
}

// taskKey orders tasks by due time: 8 bytes of big-endian unix nanoseconds,
// the part index and the split id.
func taskKey(t *SplitTask) []byte {
	key := binary.BigEndian.AppendUint64(nil, uint64(t.Due.UnixNano()))
	key = binary.BigEndian.AppendUint32(key, uint32(t.PartIndex))
	return append(key, []byte(t.SplitID)...)
}

// PushSplitTask queues a task.
func (s *Storage) PushSplitTask(t *SplitTask) error {
	if t == nil || t.SplitID == "" {
		return fmt.Errorf("invalid split task")
	}
	return s.setArtifact(splitTaskPrefix, taskKey(t), t)
}

// NextDueSplitTask returns the earliest non-reserved task due at now and
// reserves it. It returns ErrNoMoreElements if no task is due.
func (s *Storage) NextDueSplitTask(now time.Time) (*SplitTask, []byte, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	limit := uint64(now.UnixNano())
	var chosenKey, chosenVal []byte
	if err := prefixeddb.NewPrefixedReader(s.db, splitTaskPrefix).Iterate(nil, func(k, v []byte) bool {
		if len(k) < 8 || binary.BigEndian.Uint64(k[:8]) > limit {
			return false
		}
		if s.isReserved(splitTaskReservationPrefix, k) {
			return true
		}
		chosenKey = append([]byte{}, k...)
		chosenVal = append([]byte{}, v...)
		return false
	}); err != nil {
		return nil, nil, fmt.Errorf("iterate split tasks: %w", err)
	}
	if chosenVal == nil {
		return nil, nil, ErrNoMoreElements
	}
	var t SplitTask
	if err := decodeArtifact(chosenVal, &t); err != nil {
		return nil, nil, fmt.Errorf("decode split task: %w", err)
	}
	if err := s.setReservation(splitTaskReservationPrefix, chosenKey); err != nil {
		return nil, nil, ErrNoMoreElements
	}
	return &t, chosenKey, nil
}

// MarkSplitTaskDone removes a task and its reservation from the queue.
func (s *Storage) MarkSplitTaskDone(k []byte) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	if err := s.deleteArtifact(splitTaskReservationPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete reservation: %w", err)
	}
	if err := s.deleteArtifact(splitTaskPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete split task: %w", err)
	}
	return nil
}

// ReleaseSplitTask drops the reservation of a task so it is picked again.
func (s *Storage) ReleaseSplitTask(k []byte) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	if err := s.deleteArtifact(splitTaskReservationPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete reservation: %w", err)
	}
	return nil
}

// RemoveSplitTasks deletes the queued tasks of a split part, with their
// reservations, and returns how many were removed.
func (s *Storage) RemoveSplitTasks(splitID string, partIndex int) (int, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	var keys [][]byte
	if err := prefixeddb.NewPrefixedReader(s.db, splitTaskPrefix).Iterate(nil, func(k, _ []byte) bool {
		if len(k) >= 12 && int(binary.BigEndian.Uint32(k[8:12])) == partIndex && string(k[12:]) == splitID {
			keys = append(keys, append([]byte{}, k...))
		}
		return true
	}); err != nil {
		return 0, fmt.Errorf("iterate split tasks: %w", err)
	}
	for _, k := range keys {
		if err := s.deleteArtifact(splitTaskReservationPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
			return 0, fmt.Errorf("delete reservation: %w", err)
		}
		if err := s.deleteArtifact(splitTaskPrefix, k); err != nil {
			return 0, fmt.Errorf("delete split task: %w", err)
		}
	}
	return len(keys), nil
}

// CountSplitTasks returns the number of queued tasks, reserved or not.
func (s *Storage) CountSplitTasks() int {
	count := 0
	_ = prefixeddb.NewPrefixedReader(s.db, splitTaskPrefix).Iterate(nil, func(_, _ []byte) bool {
		count++
		return true
	})
	return count
}

// ClearStaleSplitTaskReservations releases task reservations older than
// maxAge, left by a scheduler that stopped mid task.
func (s *Storage) ClearStaleSplitTaskReservations(maxAge time.Duration) (int, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.clearStaleReservations(splitTaskReservationPrefix, maxAge)
}
