package ledger

import (
	"context"
	"testing"
	"time"

	"cryptoscope/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLock(t *testing.T) {
	repo := database.NewMemoryRepository()
	other := database.NewMemoryRepository()

	assert.Same(t, WriteLock(repo), WriteLock(repo))
	assert.NotSame(t, WriteLock(repo), WriteLock(other))

	m := NewMatcher(repo, NewDeriver(new(MockConverter), "AUD", testLogger()), newTestChain(), testLogger())
	assert.Same(t, WriteLock(repo), m.mu)
}

func TestSettlePending_WaitsForWriteLock(t *testing.T) {
	repo := database.NewMemoryRepository()
	deriver := NewDeriver(new(MockConverter), "AUD", testLogger())

	mu := WriteLock(repo)
	mu.Lock()
	done := make(chan error, 1)
	go func() {
		_, err := deriver.SettlePending(context.Background(), repo)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("settled while another writer held the lock")
	case <-time.After(50 * time.Millisecond):
	}
	mu.Unlock()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("settle did not finish")
	}
}
