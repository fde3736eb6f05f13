package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptoscope/internal/database"
	"cryptoscope/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockConverter struct {
	mock.Mock
}

func (m *MockConverter) Convert(ctx context.Context, source, target string, amount decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	args := m.Called(ctx, source, target, amount, at)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func createRecord(t *testing.T, repo database.LedgerRepository, rec model.Record) model.Record {
	t.Helper()
	ctx := context.Background()
	g, err := repo.CreateGroup(ctx, rec.Timestamp)
	require.NoError(t, err)
	rec.GroupID = g.ID
	if rec.Platform == "" {
		rec.Platform = "bitcoin"
	}
	require.NoError(t, repo.CreateRecord(ctx, &rec))
	return rec
}

func TestDeriver_DeriveEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("converted price", func(t *testing.T) {
		repo := database.NewMemoryRepository()
		converter := new(MockConverter)
		converter.On("Convert", mock.Anything, "USD", "AUD", mock.Anything, t0).Return(btc("90000"), nil).Once()
		deriver := NewDeriver(converter, "AUD", testLogger())
		rec := createRecord(t, repo, model.Record{Timestamp: t0, Currency: "BTC", Amount: btc("0.1"), Outgoing: true, Transaction: "h1", Identifier: "0"})

		event, err := deriver.DeriveEvent(ctx, repo, rec, model.Disposal, Quote{Price: btc("60000"), Currency: "USD"}, t0)
		require.NoError(t, err)
		converter.AssertExpectations(t)

		assert.Equal(t, rec.ID, event.RecordID)
		assert.Equal(t, model.Disposal, event.Kind)
		assert.Equal(t, "BTC", event.Currency)
		assert.True(t, event.Amount.Equal(btc("0.1")))
		assert.Equal(t, "AUD", event.PriceCurrency)
		require.NotNil(t, event.Price)
		assert.True(t, event.Price.Equal(btc("90000")))

		stored, err := repo.EventForRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, event.ID, stored.ID)
	})

	t.Run("zero quote skips conversion", func(t *testing.T) {
		repo := database.NewMemoryRepository()
		converter := new(MockConverter)
		deriver := NewDeriver(converter, "AUD", testLogger())
		rec := createRecord(t, repo, model.Record{Timestamp: t0, Currency: "BTC", Amount: btc("6.25"), Transaction: "h2", Identifier: "0"})

		event, err := deriver.DeriveEvent(ctx, repo, rec, model.Acquisition, ZeroQuote, t0)
		require.NoError(t, err)
		converter.AssertNotCalled(t, "Convert")
		require.NotNil(t, event.Price)
		assert.True(t, event.Price.IsZero())
	})

	t.Run("failed conversion stores no price", func(t *testing.T) {
		repo := database.NewMemoryRepository()
		converter := new(MockConverter)
		converter.On("Convert", mock.Anything, "BTC", "AUD", mock.Anything, t0).Return(decimal.Zero, errors.New("no path")).Once()
		deriver := NewDeriver(converter, "AUD", testLogger())
		rec := createRecord(t, repo, model.Record{Timestamp: t0, Currency: "BTC", Amount: btc("1"), Outgoing: true, IsFee: true, Transaction: "h3", Identifier: model.FeeIdentifier})

		event, err := deriver.DeriveEvent(ctx, repo, rec, model.DisposalFee, UnitQuote("BTC"), t0)
		require.NoError(t, err)
		assert.Nil(t, event.Price)
		assert.Equal(t, "AUD", event.PriceCurrency)
	})

	t.Run("one event per record", func(t *testing.T) {
		repo := database.NewMemoryRepository()
		deriver := NewDeriver(new(MockConverter), "AUD", testLogger())
		rec := createRecord(t, repo, model.Record{Timestamp: t0, Currency: "BTC", Amount: btc("1"), Transaction: "h4", Identifier: "0"})

		_, err := deriver.DeriveEvent(ctx, repo, rec, model.Acquisition, ZeroQuote, t0)
		require.NoError(t, err)
		_, err = deriver.DeriveEvent(ctx, repo, rec, model.Acquisition, ZeroQuote, t0)
		assert.Error(t, err)
	})
}

func TestDeriver_SettlePending(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryRepository()
	converter := new(MockConverter)
	converter.On("Convert", mock.Anything, "BTC", "AUD", mock.Anything, mock.Anything).Return(btc("50000"), nil)
	deriver := NewDeriver(converter, "AUD", testLogger())

	out := createRecord(t, repo, model.Record{Timestamp: t0, Currency: "BTC", Amount: btc("3"), Outgoing: true, Transaction: "h1", Identifier: "0", NeedsEvent: true})
	in := createRecord(t, repo, model.Record{Timestamp: t0.Add(time.Hour), Currency: "BTC", Amount: btc("2"), Transaction: "h2", Identifier: "0", NeedsEvent: true})
	matched := createRecord(t, repo, model.Record{Timestamp: t0, Currency: "BTC", Amount: btc("1"), Transaction: "h3", Identifier: "0"})

	created, err := deriver.SettlePending(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	event, err := repo.EventForRecord(ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Disposal, event.Kind)
	assert.True(t, event.Timestamp.Equal(out.Timestamp))
	require.NotNil(t, event.Price)
	assert.True(t, event.Price.Equal(btc("50000")))

	event, err = repo.EventForRecord(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Acquisition, event.Kind)

	_, err = repo.EventForRecord(ctx, matched.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	// Settled records are no longer pending.
	created, err = deriver.SettlePending(ctx, repo)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestInferFee(t *testing.T) {
	tests := []struct {
		name    string
		in, out string
		fee     string
		ok      bool
	}{
		{"positive difference", "10", "9", "1", true},
		{"balanced", "10", "10", "0", false},
		{"coinbase input", "0", "6.25", "0", false},
		{"fractional", "0.5", "0.4999", "0.0001", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, ok := InferFee(btc(tt.in), btc(tt.out))
			assert.Equal(t, tt.ok, ok)
			assert.True(t, fee.Equal(btc(tt.fee)), fee.String())
		})
	}
}

func TestRecordFee_OncePerGroupAndCurrency(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryRepository()
	deriver := NewDeriver(new(MockConverter), "AUD", testLogger())
	g, err := repo.CreateGroup(ctx, t0)
	require.NoError(t, err)

	fee := model.Record{GroupID: g.ID, Timestamp: t0, Currency: "BTC", Amount: btc("0.001"), Platform: "bitcoin", Transaction: "h1"}
	created, err := RecordFee(ctx, repo, deriver, fee, Fixed(ZeroQuote), t0)
	require.NoError(t, err)
	assert.True(t, created)

	fee.Amount = btc("0.002")
	fee.Platform = "coinbase"
	quoted := false
	created, err = RecordFee(ctx, repo, deriver, fee, func() Quote {
		quoted = true
		return ZeroQuote
	}, t0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.False(t, quoted)

	recs, err := repo.FindRecords(ctx, database.RecordFilter{GroupID: g.ID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsFee)
	assert.True(t, recs[0].Outgoing)
	assert.False(t, recs[0].NeedsEvent)
	assert.Equal(t, model.FeeIdentifier, recs[0].Identifier)
	assert.True(t, recs[0].Amount.Equal(btc("0.001")))
}

func TestPickCandidate(t *testing.T) {
	_, ok := PickCandidate(nil)
	assert.False(t, ok)

	recs := []model.Record{{ID: 1}, {ID: 2, NeedsEvent: true}, {ID: 3, NeedsEvent: true}}
	got, ok := PickCandidate(recs)
	require.True(t, ok)
	assert.EqualValues(t, 2, got.ID)

	got, ok = PickCandidate(recs[:1])
	require.True(t, ok)
	assert.EqualValues(t, 1, got.ID)
}
