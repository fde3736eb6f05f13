package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryptoscope/internal/model"

	"github.com/jackc/pgx/v5"
)

func (r *PostgresRepository) UpsertCurrency(ctx context.Context, currency model.Currency) error {
	_, err := r.db().Exec(ctx, `
		INSERT INTO currencies (ticker, name, fiat, prefix, display_precision)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ticker) DO UPDATE SET
			name = EXCLUDED.name, fiat = EXCLUDED.fiat,
			prefix = EXCLUDED.prefix, display_precision = EXCLUDED.display_precision`,
		currency.Ticker, currency.Name, currency.Fiat, currency.Prefix, currency.Precision)
	if err != nil {
		return fmt.Errorf("upsert currency %s: %w", currency.Ticker, err)
	}
	return nil
}

func (r *PostgresRepository) GetCurrency(ctx context.Context, ticker string) (model.Currency, error) {
	var c model.Currency
	err := r.db().QueryRow(ctx,
		`SELECT ticker, name, fiat, prefix, display_precision FROM currencies WHERE ticker = $1`, ticker,
	).Scan(&c.Ticker, &c.Name, &c.Fiat, &c.Prefix, &c.Precision)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Currency{}, ErrNotFound
	}
	if err != nil {
		return model.Currency{}, fmt.Errorf("get currency %s: %w", ticker, err)
	}
	return c, nil
}

const pairColumns = `id, source, target, granularity, data_source, earliest_data, latest_data`

func scanPair(row pgx.Row) (model.TradingPair, error) {
	var p model.TradingPair
	err := row.Scan(&p.ID, &p.Source, &p.Target, &p.Granularity, &p.DataSource, &p.EarliestData, &p.LatestData)
	return p, err
}

func (r *PostgresRepository) EnsurePair(ctx context.Context, pair model.TradingPair) (model.TradingPair, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	p, err := scanPair(r.db().QueryRow(ctx, `
		INSERT INTO trading_pairs (source, target, granularity, data_source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source, target, granularity, data_source)
		DO UPDATE SET source = EXCLUDED.source
		RETURNING `+pairColumns,
		pair.Source, pair.Target, pair.Granularity, pair.DataSource))
	if err != nil {
		return model.TradingPair{}, fmt.Errorf("ensure pair %s/%s: %w", pair.Source, pair.Target, err)
	}
	return p, nil
}

func (r *PostgresRepository) PairsTouching(ctx context.Context, ticker string) ([]model.TradingPair, error) {
	rows, err := r.db().Query(ctx,
		`SELECT `+pairColumns+` FROM trading_pairs WHERE source = $1 OR target = $1 ORDER BY id`, ticker)
	if err != nil {
		return nil, fmt.Errorf("query pairs for %s: %w", ticker, err)
	}
	defer rows.Close()

	var pairs []model.TradingPair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (r *PostgresRepository) RefreshPairTimespan(ctx context.Context, pairID int64) error {
	_, err := r.db().Exec(ctx, `
		UPDATE trading_pairs SET earliest_data = sub.min_ts, latest_data = sub.max_ts
		FROM (SELECT MIN(timestamp) AS min_ts, MAX(timestamp) AS max_ts
			FROM price_samples WHERE pair_id = $1) sub
		WHERE id = $1`, pairID)
	if err != nil {
		return fmt.Errorf("refresh pair %d timespan: %w", pairID, err)
	}
	return nil
}

func (r *PostgresRepository) InsertSample(ctx context.Context, s model.PriceSample) (bool, error) {
	tag, err := r.db().Exec(ctx, `
		INSERT INTO price_samples (pair_id, timestamp, open, high, low, close, volume)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric)
		ON CONFLICT (pair_id, timestamp) DO NOTHING`,
		s.PairID, s.Timestamp, s.Open.String(), s.High.String(), s.Low.String(), s.Close.String(),
		s.Volume.String())
	if err != nil {
		return false, fmt.Errorf("insert sample for pair %d: %w", s.PairID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) SampleAtOrBefore(ctx context.Context, pairID int64, at time.Time) (model.PriceSample, error) {
	var s model.PriceSample
	err := r.db().QueryRow(ctx, `
		SELECT pair_id, timestamp, open, high, low, close, volume FROM price_samples
		WHERE pair_id = $1 AND timestamp <= $2
		ORDER BY timestamp DESC LIMIT 1`, pairID, at,
	).Scan(&s.PairID, &s.Timestamp, &s.Open, &s.High, &s.Low, &s.Close, &s.Volume)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PriceSample{}, ErrNotFound
	}
	if err != nil {
		return model.PriceSample{}, fmt.Errorf("sample for pair %d at %s: %w", pairID, at, err)
	}
	return s, nil
}
