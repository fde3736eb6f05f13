package statement

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cryptoscope/internal/database"
	"cryptoscope/internal/ledger"
	"cryptoscope/internal/model"

	"github.com/shopspring/decimal"
)

const (
	coinbasePlatform  = "coinbase"
	coinbaseColumns   = 22
	coinbaseTimestamp = "2006-01-02 15:04:05 -0700"
)

// Column positions in a Coinbase transaction export.
const (
	colTimestamp        = 0
	colAmount           = 2
	colCurrency         = 3
	colTo               = 4
	colTransferAmount   = 7
	colTransferCurrency = 8
	colTransferFee      = 9
	colCoinbaseID       = 20
	colBlockchainHash   = 21
)

type coinbaseRow struct {
	timestamp        time.Time
	amount           decimal.Decimal
	currency         string
	to               string
	transferAmount   *decimal.Decimal
	transferCurrency string
	transferFee      decimal.Decimal
	id               string
	hash             string
}

func parseCoinbaseRow(fields []string) (coinbaseRow, error) {
	if len(fields) != coinbaseColumns {
		return coinbaseRow{}, fmt.Errorf("expected %d columns, got %d", coinbaseColumns, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	var row coinbaseRow
	var err error
	if row.timestamp, err = time.Parse(coinbaseTimestamp, fields[colTimestamp]); err != nil {
		return coinbaseRow{}, fmt.Errorf("timestamp: %w", err)
	}
	if row.amount, err = decimal.NewFromString(fields[colAmount]); err != nil {
		return coinbaseRow{}, fmt.Errorf("amount: %w", err)
	}
	if fields[colTransferAmount] != "" {
		amount, err := decimal.NewFromString(fields[colTransferAmount])
		if err != nil {
			return coinbaseRow{}, fmt.Errorf("transfer amount: %w", err)
		}
		row.transferAmount = &amount
	}
	if fields[colTransferFee] != "" {
		if row.transferFee, err = decimal.NewFromString(fields[colTransferFee]); err != nil {
			return coinbaseRow{}, fmt.Errorf("transfer fee: %w", err)
		}
	}
	if fields[colCoinbaseID] == "" {
		return coinbaseRow{}, errors.New("missing coinbase id")
	}
	row.currency = strings.ToUpper(fields[colCurrency])
	row.to = fields[colTo]
	row.transferCurrency = strings.ToUpper(fields[colTransferCurrency])
	row.id = fields[colCoinbaseID]
	row.hash = fields[colBlockchainHash]
	return row, nil
}

// CoinbaseImporter reads Coinbase transaction exports.
type CoinbaseImporter struct {
	mu      *sync.Mutex
	repo    database.LedgerRepository
	deriver *ledger.Deriver
	logger  *slog.Logger
}

// NewCoinbaseImporter creates a CoinbaseImporter.
func NewCoinbaseImporter(repo database.LedgerRepository, deriver *ledger.Deriver, logger *slog.Logger) *CoinbaseImporter {
	return &CoinbaseImporter{mu: ledger.WriteLock(repo), repo: repo, deriver: deriver, logger: logger}
}

func (c *CoinbaseImporter) Platform() string { return coinbasePlatform }

// Import records every row of the export. Each row commits on its own, and
// rows imported before are skipped.
func (c *CoinbaseImporter) Import(ctx context.Context, r io.Reader) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var result Result
	// Account details precede the column header row.
	header := false
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("read statement: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if !header {
			header = strings.EqualFold(strings.TrimSpace(fields[0]), "Timestamp")
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		row, err := parseCoinbaseRow(fields)
		if err != nil {
			result.fail(fmt.Errorf("line %d: %w", line, err))
			c.logger.Warn("Skipping unreadable statement row", "line", line, "error", err)
			continue
		}
		var outcome rowOutcome
		err = c.repo.InTx(ctx, func(repo database.LedgerRepository) error {
			var err error
			outcome, err = c.importRow(ctx, repo, row)
			return err
		})
		switch {
		case errors.Is(err, ErrUnrecognizedTransferShape):
			result.fail(fmt.Errorf("line %d (%s): %w", line, row.id, err))
			c.logger.Warn("Unrecognized statement row", "line", line, "id", row.id)
		case err != nil:
			return result, fmt.Errorf("import line %d (%s): %w", line, row.id, err)
		case outcome == rowSkipped:
			result.Skipped++
		default:
			result.Parsed++
		}
	}
	if !header {
		return result, errors.New("read statement: no column header row")
	}
	c.logger.Info("Statement imported",
		"platform", coinbasePlatform,
		"parsed", result.Parsed,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

type rowOutcome int

const (
	rowParsed rowOutcome = iota
	rowSkipped
)

func (c *CoinbaseImporter) importRow(ctx context.Context, repo database.LedgerRepository, row coinbaseRow) (rowOutcome, error) {
	seen, err := repo.FindRecords(ctx, database.RecordFilter{
		Platform:   coinbasePlatform,
		Identifier: database.String(row.id),
		IsFee:      database.Bool(false),
	})
	if err != nil {
		return rowParsed, err
	}
	if len(seen) > 0 {
		return rowSkipped, nil
	}

	switch {
	case row.transferAmount != nil && row.amount.IsPositive() && row.transferCurrency != "":
		return rowParsed, c.purchase(ctx, repo, row)
	case row.transferAmount == nil && row.amount.IsPositive():
		return rowParsed, c.incoming(ctx, repo, row)
	case row.transferAmount == nil && row.amount.IsNegative():
		return rowParsed, c.outgoing(ctx, repo, row)
	default:
		return rowParsed, ErrUnrecognizedTransferShape
	}
}

// group returns the group holding the row's transaction, or a new group.
func group(ctx context.Context, repo database.LedgerRepository, hash string, at time.Time) (int64, error) {
	if hash != "" {
		g, err := repo.FindGroupByTransaction(ctx, hash)
		if err == nil {
			return g.ID, nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return 0, err
		}
	}
	g, err := repo.CreateGroup(ctx, at)
	return g.ID, err
}

// purchase is a buy paid in fiat. The fee is not part of the price.
func (c *CoinbaseImporter) purchase(ctx context.Context, repo database.LedgerRepository, row coinbaseRow) error {
	groupID, err := group(ctx, repo, "", row.timestamp)
	if err != nil {
		return err
	}
	rec := model.Record{
		GroupID:    groupID,
		Timestamp:  row.timestamp,
		Currency:   row.currency,
		Amount:     row.amount,
		Platform:   coinbasePlatform,
		Identifier: row.id,
	}
	if err := repo.CreateRecord(ctx, &rec); err != nil {
		return err
	}
	price := row.transferAmount.Sub(row.transferFee).Div(row.amount)
	quote := ledger.Quote{Price: price, Currency: row.transferCurrency}
	if _, err := c.deriver.DeriveEvent(ctx, repo, rec, model.Acquisition, quote, row.timestamp); err != nil {
		return err
	}
	if !row.transferFee.IsPositive() {
		return nil
	}
	fee := model.Record{
		GroupID:    groupID,
		Timestamp:  row.timestamp,
		Currency:   row.transferCurrency,
		Amount:     row.transferFee,
		Outgoing:   true,
		Platform:   coinbasePlatform,
		IsFee:      true,
		Identifier: row.id,
	}
	if err := repo.CreateRecord(ctx, &fee); err != nil {
		return err
	}
	_, err = c.deriver.DeriveEvent(ctx, repo, fee, model.FiatFee, ledger.UnitQuote(fee.Currency), row.timestamp)
	return err
}

// incoming is a deposit, matched with the chain output that paid it.
func (c *CoinbaseImporter) incoming(ctx context.Context, repo database.LedgerRepository, row coinbaseRow) error {
	groupID, err := group(ctx, repo, row.hash, row.timestamp)
	if err != nil {
		return err
	}
	var candidates []model.Record
	if row.hash != "" {
		candidates, err = repo.FindRecords(ctx, database.RecordFilter{
			GroupID:         groupID,
			Transaction:     row.hash,
			Currency:        row.currency,
			ExcludePlatform: coinbasePlatform,
			Outgoing:        database.Bool(true),
			IsFee:           database.Bool(false),
			Amount:          database.Decimal(row.amount),
		})
		if err != nil {
			return err
		}
	}
	rec := model.Record{
		GroupID:     groupID,
		Timestamp:   row.timestamp,
		Currency:    row.currency,
		Amount:      row.amount,
		Platform:    coinbasePlatform,
		Transaction: row.hash,
		Identifier:  row.id,
		NeedsEvent:  len(candidates) == 0,
	}
	if err := repo.CreateRecord(ctx, &rec); err != nil {
		return err
	}
	if match, ok := ledger.PickCandidate(candidates); ok && match.NeedsEvent {
		if err := repo.SetNeedsEvent(ctx, match.ID, false); err != nil {
			return err
		}
	}
	return repo.RefreshGroupTimestamp(ctx, groupID)
}

// outgoing is a withdrawal. Its amount includes the network fee, so the
// chain output that received it may be smaller.
func (c *CoinbaseImporter) outgoing(ctx context.Context, repo database.LedgerRepository, row coinbaseRow) error {
	amount := row.amount.Abs()
	groupID, err := group(ctx, repo, row.hash, row.timestamp)
	if err != nil {
		return err
	}
	var candidates []model.Record
	if row.hash != "" && row.to != "" {
		candidates, err = repo.FindRecords(ctx, database.RecordFilter{
			GroupID:         groupID,
			Transaction:     row.hash,
			Currency:        row.currency,
			ExcludePlatform: coinbasePlatform,
			ToAddress:       row.to,
			Outgoing:        database.Bool(false),
			IsFee:           database.Bool(false),
			MaxAmount:       database.Decimal(amount),
		})
		if err != nil {
			return err
		}
	}
	match, matched := ledger.PickCandidate(candidates)
	rec := model.Record{
		GroupID:     groupID,
		Timestamp:   row.timestamp,
		Currency:    row.currency,
		Amount:      amount,
		Outgoing:    true,
		Platform:    coinbasePlatform,
		Transaction: row.hash,
		ToAddress:   row.to,
		Identifier:  row.id,
		NeedsEvent:  !matched,
	}
	if err := repo.CreateRecord(ctx, &rec); err != nil {
		return err
	}
	if matched {
		if amount.GreaterThan(match.Amount) {
			if _, err := ledger.RecordFee(ctx, repo, c.deriver, model.Record{
				GroupID:     groupID,
				Timestamp:   row.timestamp,
				Currency:    row.currency,
				Amount:      amount.Sub(match.Amount),
				Platform:    coinbasePlatform,
				Transaction: row.hash,
			}, ledger.Fixed(ledger.UnitQuote(row.currency)), row.timestamp); err != nil {
				return err
			}
		}
		if match.NeedsEvent {
			if err := repo.SetNeedsEvent(ctx, match.ID, false); err != nil {
				return err
			}
		}
	}
	return repo.RefreshGroupTimestamp(ctx, groupID)
}
