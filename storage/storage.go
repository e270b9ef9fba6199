// Package storage persists the state of the relayer and the splitter on a
// prefixed key-value database. The following prefixes are used:
//   - 'ns/' for the spent nullifiers sparse Merkle tree
//   - 'nr/' for nullifier reservations of in-flight submissions
//   - 'cm/' for the commitment tree leaves, by index
//   - 'ix/' for the chain indexer cursor
//   - 'sp/' for split transactions
//   - 'sk/' for the temporary wallet secrets of split transactions
//   - 'st/' for scheduled split tasks (queued)
//   - 'sr/' for split task reservations
//
// Reservations are the mechanism that lets several workers consume the same
// queue: an element is skipped while a reservation exists for its key.
package storage

import (
	"fmt"
	"sync"

	"github.com/vocdoni/arbo"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

var (
	// Prefixes for the keys in the database.
	nullifierTreePrefix        = []byte("ns/")
	nullifierReservationPrefix = []byte("nr/")
	commitmentPrefix           = []byte("cm/")
	indexerPrefix              = []byte("ix/")
	splitPrefix                = []byte("sp/")
	splitSecretPrefix          = []byte("sk/")
	splitTaskPrefix            = []byte("st/")
	splitTaskReservationPrefix = []byte("sr/")
)

const (
	// maxKeySize is the size of the keys derived from artifact hashes.
	maxKeySize = 12
	// nullifierTreeLevels fits a 32 bytes nullifier as a key.
	nullifierTreeLevels = 256
)

var (
	// ErrNotFound is returned when an artifact does not exist.
	ErrNotFound = fmt.Errorf("not found")
	// ErrNoMoreElements is returned when a queue has no element available.
	ErrNoMoreElements = fmt.Errorf("no more elements")
	// ErrKeyAlreadyExists is returned when a reservation already exists.
	ErrKeyAlreadyExists = fmt.Errorf("key already exists")
	// ErrNullifierSpent is returned when a nullifier is in the spent set.
	ErrNullifierSpent = fmt.Errorf("nullifier already spent")
	// ErrNullifierReserved is returned when a nullifier is held by another
	// in-flight submission.
	ErrNullifierReserved = fmt.Errorf("nullifier reserved by an in-flight submission")
)

// Storage wraps the database. Queue and check-and-set operations are
// serialized by a global lock.
type Storage struct {
	db         db.Database
	globalLock sync.Mutex
	nullifiers *arbo.Tree
}

// New creates a new Storage instance over database.
func New(database db.Database) (*Storage, error) {
	tree, err := arbo.NewTree(arbo.Config{
		Database:     prefixeddb.NewPrefixedDatabase(database, nullifierTreePrefix),
		MaxLevels:    nullifierTreeLevels,
		HashFunction: arbo.HashFunctionSha256,
	})
	if err != nil {
		return nil, fmt.Errorf("open nullifier tree: %w", err)
	}
	return &Storage{db: database, nullifiers: tree}, nil
}

// Close closes the storage.
func (s *Storage) Close() {
	s.db.Close()
}
