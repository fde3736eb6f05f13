package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"cryptoscope/internal/database"
	"cryptoscope/internal/model"

	"github.com/shopspring/decimal"
)

// ErrMalformedTransaction marks upstream data that cannot be ingested.
var ErrMalformedTransaction = errors.New("malformed transaction")

// Chain describes the ledger a Matcher ingests from.
type Chain interface {
	// Name is the platform label stored on records.
	Name() string
	// Currency is the ticker of the chain's native currency.
	Currency() string
	// SpotPrice returns the price of one unit of Currency at the given time
	// and the currency that price is expressed in.
	SpotPrice(ctx context.Context, at time.Time) (decimal.Decimal, string, error)
}

// Report summarises one ingestion.
type Report struct {
	Transactions   int
	RecordsCreated int
	// Skipped counts outputs that had already been ingested.
	Skipped int
	Failed  int
	// OtherAddresses are inputs spent alongside the ingested address, likely
	// keys of the same wallet.
	OtherAddresses []string
	Errors         []error
}

// Matcher turns a chain's transactions into records, matching them with
// records already known from other addresses and platforms.
type Matcher struct {
	mu      *sync.Mutex
	repo    database.LedgerRepository
	deriver *Deriver
	chain   Chain
	logger  *slog.Logger
}

// NewMatcher creates a Matcher for one chain.
func NewMatcher(repo database.LedgerRepository, deriver *Deriver, chain Chain, logger *slog.Logger) *Matcher {
	return &Matcher{mu: WriteLock(repo), repo: repo, deriver: deriver, chain: chain, logger: logger}
}

type txOutcome struct {
	created int
	skipped int
	others  []string
}

// IngestAddressActivity records every transaction in txs that spends from or
// pays to address. Each transaction commits on its own, so re-running after a
// failure or cancellation only adds what is missing. Malformed transactions
// are skipped and reported; store and feed errors end the ingestion.
func (m *Matcher) IngestAddressActivity(ctx context.Context, address string, txs iter.Seq2[model.ChainTransaction, error]) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report Report
	others := map[string]struct{}{}
	finish := func() Report {
		report.OtherAddresses = make([]string, 0, len(others))
		for a := range others {
			report.OtherAddresses = append(report.OtherAddresses, a)
		}
		sort.Strings(report.OtherAddresses)
		return report
	}

	for tx, err := range txs {
		if err != nil {
			return finish(), fmt.Errorf("fetch transactions for %s: %w", address, err)
		}
		if err := ctx.Err(); err != nil {
			return finish(), err
		}
		report.Transactions++

		var outcome txOutcome
		err := m.repo.InTx(ctx, func(repo database.LedgerRepository) error {
			outcome = txOutcome{}
			return m.ingestTransaction(ctx, repo, address, tx, &outcome)
		})
		if errors.Is(err, ErrMalformedTransaction) {
			m.logger.Warn("Skipping malformed transaction", "address", address, "tx", tx.Hash, "error", err)
			report.Failed++
			report.Errors = append(report.Errors, err)
			continue
		}
		if err != nil {
			return finish(), fmt.Errorf("ingest %s: %w", tx.Hash, err)
		}
		report.RecordsCreated += outcome.created
		report.Skipped += outcome.skipped
		for _, a := range outcome.others {
			others[a] = struct{}{}
		}
	}

	report = finish()
	m.logger.Info("Address ingested",
		"address", address,
		"chain", m.chain.Name(),
		"transactions", report.Transactions,
		"created", report.RecordsCreated,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

func validateTransaction(tx model.ChainTransaction) error {
	if tx.Hash == "" {
		return fmt.Errorf("%w: missing hash", ErrMalformedTransaction)
	}
	if tx.Time.IsZero() {
		return fmt.Errorf("%w: %s has no timestamp", ErrMalformedTransaction, tx.Hash)
	}
	seen := map[int]bool{}
	for _, out := range tx.Outputs {
		if out.Index < 0 || seen[out.Index] {
			return fmt.Errorf("%w: %s has an invalid output index %d", ErrMalformedTransaction, tx.Hash, out.Index)
		}
		if out.Value.IsNegative() {
			return fmt.Errorf("%w: %s output %d has a negative value", ErrMalformedTransaction, tx.Hash, out.Index)
		}
		seen[out.Index] = true
	}
	for _, in := range tx.Inputs {
		if in.Resolved && in.Address == "" {
			return fmt.Errorf("%w: %s has a resolved input without address", ErrMalformedTransaction, tx.Hash)
		}
	}
	return nil
}

// txIngest holds the state of one transaction being ingested.
type txIngest struct {
	m       *Matcher
	repo    database.LedgerRepository
	address string
	tx      model.ChainTransaction
	group   *model.RecordGroup
	outcome *txOutcome
}

// groupID finds the transaction's record group, creating it on first use.
func (ti *txIngest) groupID(ctx context.Context) (int64, error) {
	if ti.group != nil {
		return ti.group.ID, nil
	}
	g, err := ti.repo.FindGroupByTransaction(ctx, ti.tx.Hash)
	if errors.Is(err, database.ErrNotFound) {
		g, err = ti.repo.CreateGroup(ctx, ti.tx.Time)
	}
	if err != nil {
		return 0, err
	}
	ti.group = &g
	return g.ID, nil
}

func (ti *txIngest) exists(ctx context.Context, outgoing bool, identifier string) (bool, error) {
	recs, err := ti.repo.FindRecords(ctx, database.RecordFilter{
		Transaction: ti.tx.Hash,
		Currency:    ti.m.chain.Currency(),
		Platform:    ti.m.chain.Name(),
		Outgoing:    database.Bool(outgoing),
		IsFee:       database.Bool(false),
		Identifier:  database.String(identifier),
	})
	return len(recs) > 0, err
}

func (m *Matcher) ingestTransaction(ctx context.Context, repo database.LedgerRepository, address string, tx model.ChainTransaction, outcome *txOutcome) error {
	if err := validateTransaction(tx); err != nil {
		return err
	}
	ti := &txIngest{m: m, repo: repo, address: address, tx: tx, outcome: outcome}
	inputs := tx.InputAddresses()

	// Spending an input proves access to the address's key, so every output
	// of such a transaction is an outgoing transfer.
	if slices.Contains(inputs, address) {
		if err := ti.outgoing(ctx); err != nil {
			return err
		}
		for _, a := range inputs {
			if a != address && !slices.Contains(outcome.others, a) {
				outcome.others = append(outcome.others, a)
			}
		}
	}
	// Outputs paying the address are incoming, even when it also spent, so a
	// self-transfer yields both records.
	if err := ti.incoming(ctx, len(inputs) > 0); err != nil {
		return err
	}
	if ti.group != nil {
		return repo.RefreshGroupTimestamp(ctx, ti.group.ID)
	}
	return nil
}

func (ti *txIngest) outgoing(ctx context.Context) error {
	m, tx := ti.m, ti.tx
	for _, out := range tx.Outputs {
		identifier := strconv.Itoa(out.Index)
		done, err := ti.exists(ctx, true, identifier)
		if err != nil {
			return err
		}
		if done {
			ti.outcome.skipped++
			continue
		}
		groupID, err := ti.groupID(ctx)
		if err != nil {
			return err
		}

		// An incoming record for this output from another parsed address.
		candidates, err := ti.repo.FindRecords(ctx, database.RecordFilter{
			GroupID:     groupID,
			Transaction: tx.Hash,
			Currency:    m.chain.Currency(),
			Platform:    m.chain.Name(),
			Outgoing:    database.Bool(false),
			IsFee:       database.Bool(false),
			Identifier:  database.String(identifier),
		})
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			// An incoming transfer on an exchange. A fee deducted on arrival
			// makes the amounts differ; matching those is left to the user.
			candidates, err = ti.repo.FindRecords(ctx, database.RecordFilter{
				GroupID:         groupID,
				Transaction:     tx.Hash,
				Currency:        m.chain.Currency(),
				ExcludePlatform: m.chain.Name(),
				Outgoing:        database.Bool(false),
				IsFee:           database.Bool(false),
				Amount:          database.Decimal(out.Value),
			})
			if err != nil {
				return err
			}
		}

		rec := model.Record{
			GroupID:     groupID,
			Timestamp:   tx.Time,
			Currency:    m.chain.Currency(),
			Amount:      out.Value,
			Outgoing:    true,
			Platform:    m.chain.Name(),
			Transaction: tx.Hash,
			FromAddress: ti.address,
			ToAddress:   out.Address,
			Identifier:  identifier,
			NeedsEvent:  len(candidates) == 0,
		}
		if err := ti.repo.CreateRecord(ctx, &rec); err != nil {
			return err
		}
		ti.outcome.created++
		if match, ok := PickCandidate(candidates); ok && match.NeedsEvent {
			if err := ti.repo.SetNeedsEvent(ctx, match.ID, false); err != nil {
				return err
			}
		}
	}

	fee, ok := InferFee(tx.TotalInput(), tx.TotalOutput())
	if !ok {
		return nil
	}
	groupID, err := ti.groupID(ctx)
	if err != nil {
		return err
	}
	created, err := RecordFee(ctx, ti.repo, m.deriver, model.Record{
		GroupID:     groupID,
		Timestamp:   tx.Time,
		Currency:    m.chain.Currency(),
		Amount:      fee,
		Platform:    m.chain.Name(),
		Transaction: tx.Hash,
		FromAddress: ti.address,
	}, m.quoter(ctx, tx.Time), tx.Time)
	if created {
		ti.outcome.created++
	}
	return err
}

func (ti *txIngest) incoming(ctx context.Context, hasInputs bool) error {
	m, tx := ti.m, ti.tx
	for _, out := range tx.Outputs {
		if out.Address == "" || out.Address != ti.address {
			continue
		}
		identifier := strconv.Itoa(out.Index)
		done, err := ti.exists(ctx, false, identifier)
		if err != nil {
			return err
		}
		if done {
			ti.outcome.skipped++
			continue
		}
		groupID, err := ti.groupID(ctx)
		if err != nil {
			return err
		}

		// The outgoing record for this output from a parsed spender.
		candidates, err := ti.repo.FindRecords(ctx, database.RecordFilter{
			GroupID:     groupID,
			Transaction: tx.Hash,
			Currency:    m.chain.Currency(),
			Platform:    m.chain.Name(),
			Outgoing:    database.Bool(true),
			IsFee:       database.Bool(false),
			Identifier:  database.String(identifier),
		})
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			// An exchange withdrawal. Exports often include the network fee
			// in the withdrawn amount, so it may exceed what arrived.
			candidates, err = ti.repo.FindRecords(ctx, database.RecordFilter{
				GroupID:         groupID,
				Transaction:     tx.Hash,
				Currency:        m.chain.Currency(),
				ExcludePlatform: m.chain.Name(),
				ToAddress:       ti.address,
				Outgoing:        database.Bool(true),
				IsFee:           database.Bool(false),
				MinAmount:       database.Decimal(out.Value),
			})
			if err != nil {
				return err
			}
		}
		match, matched := PickCandidate(candidates)

		rec := model.Record{
			GroupID:     groupID,
			Timestamp:   tx.Time,
			Currency:    m.chain.Currency(),
			Amount:      out.Value,
			Outgoing:    false,
			Platform:    m.chain.Name(),
			Transaction: tx.Hash,
			ToAddress:   ti.address,
			Identifier:  identifier,
			NeedsEvent:  hasInputs && !matched,
		}
		if err := ti.repo.CreateRecord(ctx, &rec); err != nil {
			return err
		}
		ti.outcome.created++

		// Without inputs the output was minted: a zero-cost acquisition.
		if !hasInputs {
			if _, err := m.deriver.DeriveEvent(ctx, ti.repo, rec, model.Acquisition, ZeroQuote, tx.Time); err != nil {
				return err
			}
		}

		if !matched {
			continue
		}
		if match.Platform != m.chain.Name() && match.Amount.GreaterThan(out.Value) {
			created, err := RecordFee(ctx, ti.repo, m.deriver, model.Record{
				GroupID:     groupID,
				Timestamp:   tx.Time,
				Currency:    m.chain.Currency(),
				Amount:      match.Amount.Sub(out.Value),
				Platform:    match.Platform,
				Transaction: tx.Hash,
				FromAddress: match.FromAddress,
			}, m.quoter(ctx, tx.Time), tx.Time)
			if err != nil {
				return err
			}
			if created {
				ti.outcome.created++
			}
		}
		if match.NeedsEvent {
			if err := ti.repo.SetNeedsEvent(ctx, match.ID, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// quote prices the chain currency for fee events, falling back to the price
// graph when the chain has no spot price.
func (m *Matcher) quote(ctx context.Context, at time.Time) Quote {
	price, currency, err := m.chain.SpotPrice(ctx, at)
	if err != nil {
		m.logger.Debug("Spot price unavailable, valuing through the price graph", "chain", m.chain.Name(), "error", err)
		return UnitQuote(m.chain.Currency())
	}
	return Quote{Price: price, Currency: currency}
}

func (m *Matcher) quoter(ctx context.Context, at time.Time) func() Quote {
	return func() Quote { return m.quote(ctx, at) }
}
