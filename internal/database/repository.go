package database

import (
	"context"
	"errors"
	"time"

	"cryptoscope/internal/model"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// RecordFilter selects records by field equality and range predicates. Zero
// values and nil pointers do not constrain the result. Results are ordered
// by record ID.
type RecordFilter struct {
	GroupID         int64
	Transaction     string
	Currency        string
	Platform        string
	ExcludePlatform string
	ToAddress       string
	Identifier      *string
	Outgoing        *bool
	IsFee           *bool
	NeedsEvent      *bool
	Amount          *decimal.Decimal
	MinAmount       *decimal.Decimal
	MaxAmount       *decimal.Decimal
}

// LedgerRepository stores record groups, records and events.
type LedgerRepository interface {
	// InTx runs fn against a repository whose writes commit together.
	InTx(ctx context.Context, fn func(LedgerRepository) error) error

	CreateGroup(ctx context.Context, timestamp time.Time) (model.RecordGroup, error)
	// FindGroupByTransaction returns the group holding any record of the
	// given transaction, or ErrNotFound.
	FindGroupByTransaction(ctx context.Context, transaction string) (model.RecordGroup, error)
	GetGroup(ctx context.Context, id int64) (model.RecordGroup, error)
	RefreshGroupTimestamp(ctx context.Context, groupID int64) error

	CreateRecord(ctx context.Context, record *model.Record) error
	FindRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error)
	SetNeedsEvent(ctx context.Context, recordID int64, needsEvent bool) error
	// PendingRecords lists records that still need an event and have none.
	PendingRecords(ctx context.Context) ([]model.Record, error)

	CreateEvent(ctx context.Context, event *model.Event) error
	EventForRecord(ctx context.Context, recordID int64) (model.Event, error)
}

// PriceRepository stores currencies, trading pairs and their samples.
type PriceRepository interface {
	UpsertCurrency(ctx context.Context, currency model.Currency) error
	GetCurrency(ctx context.Context, ticker string) (model.Currency, error)

	// EnsurePair returns the pair matching source, target, granularity and
	// data source, creating it when missing.
	EnsurePair(ctx context.Context, pair model.TradingPair) (model.TradingPair, error)
	// PairsTouching lists pairs having ticker as source or target, ordered by ID.
	PairsTouching(ctx context.Context, ticker string) ([]model.TradingPair, error)
	RefreshPairTimespan(ctx context.Context, pairID int64) error

	// InsertSample inserts the sample unless one exists for the same pair and
	// timestamp. It reports whether a row was added.
	InsertSample(ctx context.Context, sample model.PriceSample) (bool, error)
	// SampleAtOrBefore returns the latest sample not after at, or ErrNotFound.
	SampleAtOrBefore(ctx context.Context, pairID int64, at time.Time) (model.PriceSample, error)
}

// Repository is the full store.
type Repository interface {
	LedgerRepository
	PriceRepository
	Migrate(ctx context.Context) error
}

// Bool returns a pointer to b, for use in filters.
func Bool(b bool) *bool { return &b }

// String returns a pointer to s, for use in filters.
func String(s string) *string { return &s }

// Decimal returns a pointer to d, for use in filters.
func Decimal(d decimal.Decimal) *decimal.Decimal { return &d }
