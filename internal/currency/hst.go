package currency

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cryptoscope/internal/database"
	"cryptoscope/internal/model"

	"github.com/shopspring/decimal"
)

const (
	hstHeaderSize = 148
	hstRecordSize = 44
)

// hstRecord is the on-disk layout of one FXDD history record.
type hstRecord struct {
	Timestamp int32
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// HSTOptions describes the pair a history file belongs to and the optional
// bounds of records to keep.
type HSTOptions struct {
	Source      string
	Target      string
	Granularity int64
	DataSource  string
	From        *time.Time
	To          *time.Time
}

// HSTResult counts the records read and the records newly stored.
type HSTResult struct {
	Parsed int
	Added  int
	Pair   model.TradingPair
}

// ImportHST loads price samples from an HST history file. Existing samples
// are left untouched. The pair's timespan is refreshed even when the import
// stops early, as long as samples were added.
func ImportHST(ctx context.Context, prices database.PriceRepository, r io.Reader, opts HSTOptions, logger *slog.Logger) (result HSTResult, err error) {
	for _, ticker := range []string{opts.Source, opts.Target} {
		if _, err := prices.GetCurrency(ctx, ticker); err != nil {
			return result, fmt.Errorf("currency %q has no database record: %w", ticker, err)
		}
	}
	if opts.Granularity <= 0 {
		opts.Granularity = 60
	}

	if _, err := io.CopyN(io.Discard, r, hstHeaderSize); err != nil {
		return result, fmt.Errorf("read hst header: %w", err)
	}
	pair, err := prices.EnsurePair(ctx, model.TradingPair{
		Source:      opts.Source,
		Target:      opts.Target,
		Granularity: opts.Granularity,
		DataSource:  opts.DataSource,
	})
	if err != nil {
		return result, err
	}
	result.Pair = pair
	defer func() {
		if err != nil && result.Added == 0 {
			return
		}
		if rerr := prices.RefreshPairTimespan(context.WithoutCancel(ctx), pair.ID); rerr != nil {
			err = errors.Join(err, fmt.Errorf("refresh pair timespan: %w", rerr))
		}
	}()

	buf := make([]byte, hstRecordSize)
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return result, fmt.Errorf("read hst record %d: %w", result.Parsed+1, err)
		}
		var rec hstRecord
		if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &rec); err != nil {
			return result, fmt.Errorf("decode hst record %d: %w", result.Parsed+1, err)
		}
		ts := time.Unix(int64(rec.Timestamp), 0).UTC()
		if opts.From != nil && ts.Before(*opts.From) {
			continue
		}
		if opts.To != nil && ts.After(*opts.To) {
			continue
		}
		added, err := prices.InsertSample(ctx, model.PriceSample{
			PairID:    pair.ID,
			Timestamp: ts,
			Open:      decimal.NewFromFloat(rec.Open),
			High:      decimal.NewFromFloat(rec.High),
			Low:       decimal.NewFromFloat(rec.Low),
			Close:     decimal.NewFromFloat(rec.Close),
			Volume:    decimal.NewFromFloat(rec.Volume),
		})
		if err != nil {
			return result, err
		}
		if added {
			result.Added++
		}
		result.Parsed++
		if result.Parsed%1000000 == 0 {
			logger.Info("HST import progress", "pair", pair.String(), "parsed", result.Parsed)
		}
	}

	logger.Info("HST import finished", "pair", pair.String(), "parsed", result.Parsed, "added", result.Added)
	return result, nil
}
