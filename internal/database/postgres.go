package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptoscope/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository implements Repository on a pgx connection pool.
type PostgresRepository struct {
	Pool *pgxpool.Pool
	tx   pgx.Tx
}

// NewPostgresRepository connects to the database at connString.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresRepository{Pool: pool}, nil
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	r.Pool.Close()
}

func (r *PostgresRepository) db() dbtx {
	if r.tx != nil {
		return r.tx
	}
	return r.Pool
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS currencies (
	ticker VARCHAR(64) PRIMARY KEY,
	name VARCHAR(256) NOT NULL DEFAULT '',
	fiat BOOLEAN NOT NULL,
	prefix VARCHAR(4) NOT NULL DEFAULT '',
	display_precision INTEGER
);
CREATE TABLE IF NOT EXISTS trading_pairs (
	id BIGSERIAL PRIMARY KEY,
	source VARCHAR(64) NOT NULL,
	target VARCHAR(64) NOT NULL,
	granularity BIGINT NOT NULL,
	data_source VARCHAR(256) NOT NULL DEFAULT '',
	earliest_data TIMESTAMPTZ,
	latest_data TIMESTAMPTZ,
	UNIQUE (source, target, granularity, data_source)
);
CREATE TABLE IF NOT EXISTS price_samples (
	pair_id BIGINT NOT NULL REFERENCES trading_pairs (id),
	timestamp TIMESTAMPTZ NOT NULL,
	open NUMERIC NOT NULL,
	high NUMERIC NOT NULL,
	low NUMERIC NOT NULL,
	close NUMERIC NOT NULL,
	volume NUMERIC NOT NULL DEFAULT 0,
	PRIMARY KEY (pair_id, timestamp)
);
CREATE TABLE IF NOT EXISTS record_groups (
	id BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	id BIGSERIAL PRIMARY KEY,
	group_id BIGINT NOT NULL REFERENCES record_groups (id),
	timestamp TIMESTAMPTZ NOT NULL,
	currency VARCHAR(64) NOT NULL,
	amount NUMERIC NOT NULL CHECK (amount >= 0),
	outgoing BOOLEAN NOT NULL,
	platform VARCHAR(64) NOT NULL DEFAULT '',
	tx_hash VARCHAR(1024) NOT NULL DEFAULT '',
	from_address VARCHAR(256) NOT NULL DEFAULT '',
	to_address VARCHAR(256) NOT NULL DEFAULT '',
	is_fee BOOLEAN NOT NULL DEFAULT FALSE,
	identifier VARCHAR(256) NOT NULL DEFAULT '',
	needs_event BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (platform, tx_hash, currency, outgoing, is_fee, identifier)
);
CREATE INDEX IF NOT EXISTS records_tx_hash_idx ON records (tx_hash);
CREATE INDEX IF NOT EXISTS records_group_idx ON records (group_id);
CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	record_id BIGINT NOT NULL UNIQUE REFERENCES records (id),
	kind SMALLINT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	currency VARCHAR(64) NOT NULL,
	amount NUMERIC NOT NULL,
	price NUMERIC,
	price_currency VARCHAR(64) NOT NULL DEFAULT ''
);`

// Migrate creates the schema if it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db().Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// InTx runs fn inside a transaction, or a savepoint when already in one.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(LedgerRepository) error) error {
	return pgx.BeginFunc(ctx, r.db(), func(tx pgx.Tx) error {
		return fn(&PostgresRepository{Pool: r.Pool, tx: tx})
	})
}

func (r *PostgresRepository) CreateGroup(ctx context.Context, timestamp time.Time) (model.RecordGroup, error) {
	group := model.RecordGroup{Timestamp: timestamp}
	err := r.db().QueryRow(ctx,
		`INSERT INTO record_groups (timestamp) VALUES ($1) RETURNING id`, timestamp,
	).Scan(&group.ID)
	if err != nil {
		return model.RecordGroup{}, fmt.Errorf("create record group: %w", err)
	}
	return group, nil
}

func (r *PostgresRepository) FindGroupByTransaction(ctx context.Context, transaction string) (model.RecordGroup, error) {
	var group model.RecordGroup
	err := r.db().QueryRow(ctx, `
		SELECT g.id, g.timestamp FROM record_groups g
		JOIN records r ON r.group_id = g.id
		WHERE r.tx_hash = $1
		ORDER BY g.id LIMIT 1`, transaction,
	).Scan(&group.ID, &group.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RecordGroup{}, ErrNotFound
	}
	if err != nil {
		return model.RecordGroup{}, fmt.Errorf("find group for %s: %w", transaction, err)
	}
	return group, nil
}

func (r *PostgresRepository) GetGroup(ctx context.Context, id int64) (model.RecordGroup, error) {
	var group model.RecordGroup
	err := r.db().QueryRow(ctx,
		`SELECT id, timestamp FROM record_groups WHERE id = $1`, id,
	).Scan(&group.ID, &group.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RecordGroup{}, ErrNotFound
	}
	if err != nil {
		return model.RecordGroup{}, fmt.Errorf("get group %d: %w", id, err)
	}
	return group, nil
}

func (r *PostgresRepository) RefreshGroupTimestamp(ctx context.Context, groupID int64) error {
	_, err := r.db().Exec(ctx, `
		UPDATE record_groups SET timestamp = sub.min_ts
		FROM (SELECT MIN(timestamp) AS min_ts FROM records WHERE group_id = $1) sub
		WHERE id = $1 AND sub.min_ts IS NOT NULL`, groupID)
	if err != nil {
		return fmt.Errorf("refresh group %d timestamp: %w", groupID, err)
	}
	return nil
}

const recordColumns = `id, group_id, timestamp, currency, amount, outgoing, platform, tx_hash,
	from_address, to_address, is_fee, identifier, needs_event`

func (r *PostgresRepository) CreateRecord(ctx context.Context, record *model.Record) error {
	err := r.db().QueryRow(ctx, `
		INSERT INTO records (group_id, timestamp, currency, amount, outgoing, platform, tx_hash,
			from_address, to_address, is_fee, identifier, needs_event)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		record.GroupID, record.Timestamp, record.Currency, record.Amount.String(), record.Outgoing,
		record.Platform, record.Transaction, record.FromAddress, record.ToAddress, record.IsFee,
		record.Identifier, record.NeedsEvent,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.GroupID != 0 {
		add("group_id = $%d", filter.GroupID)
	}
	if filter.Transaction != "" {
		add("tx_hash = $%d", filter.Transaction)
	}
	if filter.Currency != "" {
		add("currency = $%d", filter.Currency)
	}
	if filter.Platform != "" {
		add("platform = $%d", filter.Platform)
	}
	if filter.ExcludePlatform != "" {
		add("platform <> $%d", filter.ExcludePlatform)
	}
	if filter.ToAddress != "" {
		add("to_address = $%d", filter.ToAddress)
	}
	if filter.Identifier != nil {
		add("identifier = $%d", *filter.Identifier)
	}
	if filter.Outgoing != nil {
		add("outgoing = $%d", *filter.Outgoing)
	}
	if filter.IsFee != nil {
		add("is_fee = $%d", *filter.IsFee)
	}
	if filter.NeedsEvent != nil {
		add("needs_event = $%d", *filter.NeedsEvent)
	}
	if filter.Amount != nil {
		add("amount = $%d::numeric", filter.Amount.String())
	}
	if filter.MinAmount != nil {
		add("amount >= $%d::numeric", filter.MinAmount.String())
	}
	if filter.MaxAmount != nil {
		add("amount <= $%d::numeric", filter.MaxAmount.String())
	}
	query := `SELECT ` + recordColumns + ` FROM records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`
	return r.queryRecords(ctx, query, args...)
}

func (r *PostgresRepository) PendingRecords(ctx context.Context) ([]model.Record, error) {
	return r.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE needs_event AND NOT EXISTS (SELECT 1 FROM events e WHERE e.record_id = records.id)
		ORDER BY timestamp, id`)
}

func (r *PostgresRepository) queryRecords(ctx context.Context, query string, args ...any) ([]model.Record, error) {
	rows, err := r.db().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var rec model.Record
		if err := rows.Scan(
			&rec.ID, &rec.GroupID, &rec.Timestamp, &rec.Currency, &rec.Amount, &rec.Outgoing,
			&rec.Platform, &rec.Transaction, &rec.FromAddress, &rec.ToAddress, &rec.IsFee,
			&rec.Identifier, &rec.NeedsEvent,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PostgresRepository) SetNeedsEvent(ctx context.Context, recordID int64, needsEvent bool) error {
	_, err := r.db().Exec(ctx, `UPDATE records SET needs_event = $2 WHERE id = $1`, recordID, needsEvent)
	if err != nil {
		return fmt.Errorf("update record %d: %w", recordID, err)
	}
	return nil
}

func (r *PostgresRepository) CreateEvent(ctx context.Context, event *model.Event) error {
	var price *string
	if event.Price != nil {
		s := event.Price.String()
		price = &s
	}
	err := r.db().QueryRow(ctx, `
		INSERT INTO events (record_id, kind, timestamp, currency, amount, price, price_currency)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)
		RETURNING id`,
		event.RecordID, int16(event.Kind), event.Timestamp, event.Currency, event.Amount.String(),
		price, event.PriceCurrency,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("create event for record %d: %w", event.RecordID, err)
	}
	return nil
}

func (r *PostgresRepository) EventForRecord(ctx context.Context, recordID int64) (model.Event, error) {
	var (
		event model.Event
		kind  int16
		price decimal.NullDecimal
	)
	err := r.db().QueryRow(ctx, `
		SELECT id, record_id, kind, timestamp, currency, amount, price, price_currency
		FROM events WHERE record_id = $1`, recordID,
	).Scan(&event.ID, &event.RecordID, &kind, &event.Timestamp, &event.Currency, &event.Amount,
		&price, &event.PriceCurrency)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Event{}, ErrNotFound
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("get event for record %d: %w", recordID, err)
	}
	event.Kind = model.EventKind(kind)
	if price.Valid {
		event.Price = &price.Decimal
	}
	return event, nil
}
