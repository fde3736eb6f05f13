package ledger

import (
	"sync"

	"cryptoscope/internal/database"
)

var writeLocks sync.Map

// WriteLock returns the mutex that serializes ledger writers of repo, so that
// address ingestion, statement imports and settling never interleave on the
// same record groups.
func WriteLock(repo database.LedgerRepository) *sync.Mutex {
	mu, _ := writeLocks.LoadOrStore(repo, new(sync.Mutex))
	return mu.(*sync.Mutex)
}
