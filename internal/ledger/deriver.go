package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cryptoscope/internal/database"
	"cryptoscope/internal/model"

	"github.com/shopspring/decimal"
)

// Converter expresses an amount of one currency in another at a point in time.
type Converter interface {
	Convert(ctx context.Context, source, target string, amount decimal.Decimal, at time.Time) (decimal.Decimal, error)
}

// Quote is the price of one unit of a record's currency, expressed in Currency.
type Quote struct {
	Price    decimal.Decimal
	Currency string
}

// UnitQuote values a currency at one unit of itself, leaving the whole
// valuation to the converter.
func UnitQuote(currency string) Quote {
	return Quote{Price: decimal.NewFromInt(1), Currency: currency}
}

// ZeroQuote values a record at nothing, as for mining rewards.
var ZeroQuote = Quote{Price: decimal.Zero}

// Fixed returns a quote source that always yields q.
func Fixed(q Quote) func() Quote {
	return func() Quote { return q }
}

// Deriver attaches priced tax events to records.
type Deriver struct {
	converter Converter
	currency  string
	logger    *slog.Logger
}

// NewDeriver creates a Deriver reporting prices in reportingCurrency.
func NewDeriver(converter Converter, reportingCurrency string, logger *slog.Logger) *Deriver {
	return &Deriver{converter: converter, currency: reportingCurrency, logger: logger}
}

// ReportingCurrency is the currency event prices are expressed in.
func (d *Deriver) ReportingCurrency() string { return d.currency }

// DeriveEvent creates the event for record. When the quote cannot be
// converted into the reporting currency the event is stored without a price;
// only store failures are returned.
func (d *Deriver) DeriveEvent(ctx context.Context, repo database.LedgerRepository, record model.Record, kind model.EventKind, quote Quote, at time.Time) (model.Event, error) {
	event := model.Event{
		RecordID:      record.ID,
		Kind:          kind,
		Timestamp:     at,
		Currency:      record.Currency,
		Amount:        record.Amount,
		PriceCurrency: d.currency,
	}
	if quote.Price.IsZero() {
		zero := decimal.Zero
		event.Price = &zero
	} else {
		price, err := d.converter.Convert(ctx, quote.Currency, d.currency, quote.Price, at)
		if err != nil {
			d.logger.Warn("Price lookup failed, storing event without price",
				"record", record.ID,
				"kind", kind.String(),
				"from", quote.Currency,
				"to", d.currency,
				"error", err,
			)
		} else {
			event.Price = &price
		}
	}
	if err := repo.CreateEvent(ctx, &event); err != nil {
		return model.Event{}, err
	}
	return event, nil
}

// SettlePending attaches a Disposal or Acquisition event to every record that
// is still unmatched and has no event yet. It returns the number of events
// created.
func (d *Deriver) SettlePending(ctx context.Context, repo database.LedgerRepository) (int, error) {
	mu := WriteLock(repo)
	mu.Lock()
	defer mu.Unlock()

	pending, err := repo.PendingRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending records: %w", err)
	}
	created := 0
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		kind := model.Acquisition
		if rec.Outgoing {
			kind = model.Disposal
		}
		if _, err := d.DeriveEvent(ctx, repo, rec, kind, UnitQuote(rec.Currency), rec.Timestamp); err != nil {
			return created, err
		}
		created++
	}
	d.logger.Info("Settled pending records", "events", created)
	return created, nil
}
