package ledger

import (
	"context"
	"time"

	"cryptoscope/internal/database"
	"cryptoscope/internal/model"

	"github.com/shopspring/decimal"
)

// InferFee returns the value lost between a transaction's inputs and its
// declared outputs. Only a positive difference is a fee.
func InferFee(totalInput, totalOutput decimal.Decimal) (decimal.Decimal, bool) {
	fee := totalInput.Sub(totalOutput)
	if !fee.IsPositive() {
		return decimal.Zero, false
	}
	return fee, true
}

// RecordFee stores fee as an outgoing fee record with a DisposalFee event,
// unless the group already holds a fee record in the same currency. Fee
// records are never revised. quote is only called when a record is created.
// It reports whether a record was created.
func RecordFee(ctx context.Context, repo database.LedgerRepository, deriver *Deriver, fee model.Record, quote func() Quote, at time.Time) (bool, error) {
	existing, err := repo.FindRecords(ctx, database.RecordFilter{
		GroupID:  fee.GroupID,
		Currency: fee.Currency,
		IsFee:    database.Bool(true),
	})
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}
	fee.Outgoing = true
	fee.IsFee = true
	fee.NeedsEvent = false
	if fee.Identifier == "" {
		fee.Identifier = model.FeeIdentifier
	}
	if err := repo.CreateRecord(ctx, &fee); err != nil {
		return false, err
	}
	if _, err := deriver.DeriveEvent(ctx, repo, fee, model.DisposalFee, quote(), at); err != nil {
		return false, err
	}
	return true, nil
}

// PickCandidate returns the first candidate still awaiting a match, or the
// first candidate when all are matched. Candidates must be ordered by ID.
// With several equal candidates this is a best-effort choice.
func PickCandidate(candidates []model.Record) (model.Record, bool) {
	for _, c := range candidates {
		if c.NeedsEvent {
			return c, true
		}
	}
	if len(candidates) > 0 {
		return candidates[0], true
	}
	return model.Record{}, false
}
