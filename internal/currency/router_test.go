package currency

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"cryptoscope/internal/database"
	"cryptoscope/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// addPair creates a pair whose samples all carry the given mid price, one per
// granularity step starting at t0.
func addPair(t *testing.T, repo *database.MemoryRepository, source, target string, granularity int64, price string, steps int) model.TradingPair {
	t.Helper()
	ctx := context.Background()
	pair, err := repo.EnsurePair(ctx, model.TradingPair{Source: source, Target: target, Granularity: granularity})
	require.NoError(t, err)
	p := decimal.RequireFromString(price)
	for i := 0; i < steps; i++ {
		_, err := repo.InsertSample(ctx, model.PriceSample{
			PairID:    pair.ID,
			Timestamp: t0.Add(time.Duration(int64(i)*granularity) * time.Second),
			Open:      p, High: p, Low: p, Close: p,
		})
		require.NoError(t, err)
	}
	require.NoError(t, repo.RefreshPairTimespan(ctx, pair.ID))
	return pair
}

func TestRouter_Convert(t *testing.T) {
	ctx := context.Background()
	at := t0.Add(30 * time.Second)

	t.Run("identity", func(t *testing.T) {
		router := NewRouter(database.NewMemoryRepository(), 0, testLogger())
		for _, amount := range []string{"0", "1", "123.456", "-7"} {
			got, err := router.Convert(ctx, "BTC", "BTC", decimal.RequireFromString(amount), at)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(amount)))
		}
	})

	t.Run("two hops multiply", func(t *testing.T) {
		repo := database.NewMemoryRepository()
		addPair(t, repo, "A", "B", 60, "2", 1)
		addPair(t, repo, "B", "C", 60, "3", 1)
		router := NewRouter(repo, 0, testLogger())

		got, err := router.Convert(ctx, "A", "C", decimal.NewFromInt(1), at)
		require.NoError(t, err)
		assert.Equal(t, "6", got.String())

		back, err := router.Convert(ctx, "C", "A", decimal.NewFromInt(6), at)
		require.NoError(t, err)
		assert.Equal(t, "1", back.String())
	})

	t.Run("direct pair preferred over longer path", func(t *testing.T) {
		repo := database.NewMemoryRepository()
		addPair(t, repo, "A", "B", 60, "2", 1)
		addPair(t, repo, "B", "C", 60, "3", 1)
		addPair(t, repo, "A", "C", 3600, "5", 1)
		router := NewRouter(repo, 0, testLogger())

		got, err := router.Convert(ctx, "A", "C", decimal.NewFromInt(1), at)
		require.NoError(t, err)
		assert.Equal(t, "5", got.String())
	})

	t.Run("finest parallel pair wins", func(t *testing.T) {
		repo := database.NewMemoryRepository()
		addPair(t, repo, "A", "B", 3600, "2", 1)
		addPair(t, repo, "B", "A", 60, "0.5", 1)
		router := NewRouter(repo, 0, testLogger())

		path, err := router.FindPath(ctx, "A", "B", at)
		require.NoError(t, err)
		require.Len(t, path, 1)
		assert.Equal(t, int64(60), path[0].Pair.Granularity)
		assert.False(t, path[0].Forward)

		got, err := router.Convert(ctx, "A", "B", decimal.NewFromInt(1), at)
		require.NoError(t, err)
		assert.Equal(t, "2", got.String())
	})

	t.Run("lowest cumulative granularity among equal length paths", func(t *testing.T) {
		repo := database.NewMemoryRepository()
		addPair(t, repo, "A", "X", 3600, "10", 1)
		addPair(t, repo, "X", "D", 60, "1", 1)
		addPair(t, repo, "A", "Y", 60, "4", 1)
		addPair(t, repo, "Y", "D", 60, "1", 1)
		router := NewRouter(repo, 0, testLogger())

		got, err := router.Convert(ctx, "A", "D", decimal.NewFromInt(1), at)
		require.NoError(t, err)
		assert.Equal(t, "4", got.String())
	})

	t.Run("uses nearest sample at or before", func(t *testing.T) {
		repo := database.NewMemoryRepository()
		pair := addPair(t, repo, "A", "B", 60, "2", 3)
		_, err := repo.InsertSample(ctx, model.PriceSample{
			PairID: pair.ID, Timestamp: t0.Add(3 * time.Minute),
			High: decimal.NewFromInt(12), Low: decimal.NewFromInt(8),
		})
		require.NoError(t, err)
		require.NoError(t, repo.RefreshPairTimespan(ctx, pair.ID))
		router := NewRouter(repo, 0, testLogger())

		got, err := router.Convert(ctx, "A", "B", decimal.NewFromInt(1), t0.Add(3*time.Minute+10*time.Second))
		require.NoError(t, err)
		assert.Equal(t, "10", got.String())

		got, err = router.Convert(ctx, "A", "B", decimal.NewFromInt(1), t0.Add(2*time.Minute+59*time.Second))
		require.NoError(t, err)
		assert.Equal(t, "2", got.String())
	})

	t.Run("no coverage", func(t *testing.T) {
		repo := database.NewMemoryRepository()
		addPair(t, repo, "A", "B", 60, "2", 1)
		router := NewRouter(repo, 0, testLogger())

		_, err := router.Convert(ctx, "A", "B", decimal.NewFromInt(1), t0.Add(-time.Second))
		assert.ErrorIs(t, err, ErrPathNotFound)

		_, err = router.Convert(ctx, "A", "B", decimal.NewFromInt(1), t0.Add(61*time.Second))
		assert.ErrorIs(t, err, ErrPathNotFound)

		_, err = router.Convert(ctx, "A", "Z", decimal.NewFromInt(1), at)
		assert.ErrorIs(t, err, ErrPathNotFound)
	})

	t.Run("depth bound", func(t *testing.T) {
		repo := database.NewMemoryRepository()
		chain := []string{"C0", "C1", "C2", "C3", "C4", "C5", "C6"}
		for i := 0; i+1 < len(chain); i++ {
			addPair(t, repo, chain[i], chain[i+1], 60, "2", 1)
		}

		_, err := NewRouter(repo, 5, testLogger()).Convert(ctx, "C0", "C6", decimal.NewFromInt(1), at)
		assert.ErrorIs(t, err, ErrPathNotFound)

		got, err := NewRouter(repo, 6, testLogger()).Convert(ctx, "C0", "C6", decimal.NewFromInt(1), at)
		require.NoError(t, err)
		assert.Equal(t, "64", got.String())
	})

	t.Run("cycles are not followed", func(t *testing.T) {
		repo := database.NewMemoryRepository()
		addPair(t, repo, "A", "B", 60, "2", 1)
		addPair(t, repo, "B", "C", 60, "2", 1)
		addPair(t, repo, "C", "A", 60, "2", 1)
		router := NewRouter(repo, 0, testLogger())

		_, err := router.Convert(ctx, "A", "Q", decimal.NewFromInt(1), at)
		assert.ErrorIs(t, err, ErrPathNotFound)
	})
}
