package storage

import "errors"

var commitmentCursorKey = []byte("commitments")

// IndexerCursor is the last pool transaction ingested into the commitment
// tree and the number of leaves the tree held right after it.
type IndexerCursor struct {
	Signature string
	Leaves    uint64
}

// CommitmentCursor returns the stored cursor of the commitment indexer, or
// a zero cursor if nothing was indexed yet.
func (s *Storage) CommitmentCursor() (*IndexerCursor, error) {
	cur := &IndexerCursor{}
	if err := s.getArtifact(indexerPrefix, commitmentCursorKey, cur); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &IndexerCursor{}, nil
		}
		return nil, err
	}
	return cur, nil
}

// SetCommitmentCursor stores the cursor of the commitment indexer.
func (s *Storage) SetCommitmentCursor(cur *IndexerCursor) error {
	return s.setArtifact(indexerPrefix, commitmentCursorKey, cur)
}
