package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"cryptoscope/internal/config"
	"cryptoscope/internal/model"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	defaultPageSize = 50
	satoshiExp      = -8
)

// BitcoinExplorer reads address activity from blockchain.info and spot
// prices from Coinbase one-minute candles.
type BitcoinExplorer struct {
	baseURL  string
	spotURL  string
	pageSize int
	fetch    *fetcher
	logger   *slog.Logger
}

// NewBitcoinExplorer creates a BitcoinExplorer. Zero settings take defaults.
func NewBitcoinExplorer(cfg config.ExplorerConfig, logger *slog.Logger) *BitcoinExplorer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://blockchain.info"
	}
	if cfg.SpotURL == "" {
		cfg.SpotURL = "https://api.exchange.coinbase.com"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 0.1
	}
	if cfg.MaxRetrySeconds <= 0 {
		cfg.MaxRetrySeconds = 120
	}
	return &BitcoinExplorer{
		baseURL:  cfg.BaseURL,
		spotURL:  cfg.SpotURL,
		pageSize: cfg.PageSize,
		fetch: &fetcher{
			client:       &http.Client{Timeout: 30 * time.Second},
			limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
			retryInitial: time.Second,
			maxRetry:     time.Duration(cfg.MaxRetrySeconds) * time.Second,
			logger:       logger,
		},
		logger: logger,
	}
}

func (b *BitcoinExplorer) Name() string     { return "bitcoin" }
func (b *BitcoinExplorer) Currency() string { return "BTC" }

// ValidateAddress accepts legacy mainnet addresses only; the address feed
// does not index bech32 ones.
func (b *BitcoinExplorer) ValidateAddress(address string) error {
	return validateBase58Check(address)
}

type rawAddress struct {
	Txs []rawTx `json:"txs"`
}

type rawTx struct {
	Hash   string     `json:"hash"`
	Time   int64      `json:"time"`
	Inputs []rawInput `json:"inputs"`
	Out    []rawOut   `json:"out"`
}

type rawInput struct {
	PrevOut *rawOut `json:"prev_out"`
}

type rawOut struct {
	Addr  string `json:"addr"`
	Value int64  `json:"value"`
	N     int    `json:"n"`
}

func satoshi(v int64) decimal.Decimal { return decimal.New(v, satoshiExp) }

func (tx rawTx) toModel() model.ChainTransaction {
	out := model.ChainTransaction{Hash: tx.Hash}
	if tx.Time > 0 {
		out.Time = time.Unix(tx.Time, 0).UTC()
	}
	for _, in := range tx.Inputs {
		// Coinbase inputs have no previous output.
		if in.PrevOut == nil {
			out.Inputs = append(out.Inputs, model.TxInput{})
			continue
		}
		out.Inputs = append(out.Inputs, model.TxInput{
			Address:  in.PrevOut.Addr,
			Value:    satoshi(in.PrevOut.Value),
			Resolved: true,
		})
	}
	for _, o := range tx.Out {
		out.Outputs = append(out.Outputs, model.TxOutput{
			Address: o.Addr,
			Value:   satoshi(o.Value),
			Index:   o.N,
		})
	}
	return out
}

// Transactions pages through the address's transactions until a short page.
func (b *BitcoinExplorer) Transactions(ctx context.Context, address string) iter.Seq2[model.ChainTransaction, error] {
	return func(yield func(model.ChainTransaction, error) bool) {
		for offset := 0; ; offset += b.pageSize {
			u := fmt.Sprintf("%s/rawaddr/%s?limit=%d&offset=%d", b.baseURL, url.PathEscape(address), b.pageSize, offset)
			var page rawAddress
			if err := b.fetch.getJSON(ctx, u, &page); err != nil {
				yield(model.ChainTransaction{}, err)
				return
			}
			b.logger.Debug("Fetched address page", "address", address, "offset", offset, "transactions", len(page.Txs))
			for _, tx := range page.Txs {
				if !yield(tx.toModel(), nil) {
					return
				}
			}
			if len(page.Txs) < b.pageSize {
				return
			}
		}
	}
}

// SpotPrice returns the BTC-USD mid of the one-minute Coinbase candle
// containing at.
func (b *BitcoinExplorer) SpotPrice(ctx context.Context, at time.Time) (decimal.Decimal, string, error) {
	start := at.UTC().Truncate(time.Minute)
	q := url.Values{}
	q.Set("start", start.Format(time.RFC3339))
	q.Set("end", start.Add(time.Minute).Format(time.RFC3339))
	q.Set("granularity", "60")
	u := fmt.Sprintf("%s/products/BTC-USD/candles?%s", b.spotURL, q.Encode())

	// Rows are [time, low, high, open, close, volume].
	var candles [][]json.Number
	if err := b.fetch.getJSON(ctx, u, &candles); err != nil {
		return decimal.Zero, "", err
	}
	if len(candles) == 0 || len(candles[0]) < 3 {
		return decimal.Zero, "", errors.New("no candle for " + start.Format(time.RFC3339))
	}
	row := candles[0]
	if ts, err := row[0].Int64(); err == nil && ts != start.Unix() {
		b.logger.Warn("Candle start does not match requested minute", "candle", ts, "minute", start.Unix())
	}
	low, err := decimal.NewFromString(row[1].String())
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("candle low: %w", err)
	}
	high, err := decimal.NewFromString(row[2].String())
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("candle high: %w", err)
	}
	return low.Add(high).Div(decimal.NewFromInt(2)), "USD", nil
}
