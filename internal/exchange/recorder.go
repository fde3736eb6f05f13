package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cryptoscope/internal/database"
	"cryptoscope/internal/model"

	"github.com/shopspring/decimal"
)

// CandleGranularity is the width of the samples a Recorder writes.
const CandleGranularity = time.Minute

type candle struct {
	start                  time.Time
	open, high, low, close decimal.Decimal
	ticks                  int64
}

func (c *candle) fold(mid decimal.Decimal) {
	if c.ticks == 0 {
		c.open, c.high, c.low = mid, mid, mid
	}
	c.high = decimal.Max(c.high, mid)
	c.low = decimal.Min(c.low, mid)
	c.close = mid
	c.ticks++
}

// Recorder folds the mid prices of ticks from any exchange into one-minute
// candles and stores them as price samples of a single trading pair.
type Recorder struct {
	prices     database.PriceRepository
	logger     *slog.Logger
	pair       string
	source     string
	target     string
	dataSource string

	pairID  int64
	current *candle
}

// NewRecorder creates a Recorder for pair ("BTC/EUR"), storing samples under
// dataSource.
func NewRecorder(prices database.PriceRepository, pair, dataSource string, logger *slog.Logger) (*Recorder, error) {
	base, quote, ok := splitPair(pair)
	if !ok {
		return nil, fmt.Errorf("invalid pair %q", pair)
	}
	return &Recorder{
		prices:     prices,
		logger:     logger,
		pair:       base + "/" + quote,
		source:     base,
		target:     quote,
		dataSource: dataSource,
	}, nil
}

// Run records ticks until ctx is cancelled or ticks is closed, then stores
// the candle in progress.
func (r *Recorder) Run(ctx context.Context, ticks <-chan model.PriceTick) error {
	pair, err := r.prices.EnsurePair(ctx, model.TradingPair{
		Source:      r.source,
		Target:      r.target,
		Granularity: int64(CandleGranularity / time.Second),
		DataSource:  r.dataSource,
	})
	if err != nil {
		return fmt.Errorf("ensure pair %s: %w", r.pair, err)
	}
	r.pairID = pair.ID
	r.logger.Info("Recorder: started", "pair", pair.String(), "pair_id", pair.ID)

	for {
		select {
		case <-ctx.Done():
			return r.Flush(context.WithoutCancel(ctx))
		case tick, ok := <-ticks:
			if !ok {
				return r.Flush(ctx)
			}
			if err := r.Process(ctx, tick); err != nil {
				r.logger.Error("Recorder: failed to store candle", "error", err)
			}
		}
	}
}

// Process folds tick into the current candle, storing the previous candle
// when the tick starts a new minute. Ticks for other pairs and ticks older
// than the current candle are ignored.
func (r *Recorder) Process(ctx context.Context, tick model.PriceTick) error {
	if tick.Pair != r.pair {
		return nil
	}
	if tick.Bid <= 0 || tick.Ask <= 0 {
		r.logger.Warn("Recorder: ignoring tick without prices", "exchange", tick.Exchange)
		return nil
	}
	start := tick.Time.UTC().Truncate(CandleGranularity)
	if r.current != nil {
		if start.Before(r.current.start) {
			r.logger.Debug("Recorder: dropping late tick", "exchange", tick.Exchange, "time", tick.Time)
			return nil
		}
		if start.After(r.current.start) {
			if err := r.Flush(ctx); err != nil {
				return err
			}
		}
	}
	if r.current == nil {
		r.current = &candle{start: start}
	}
	r.current.fold(tick.Mid())
	return nil
}

// Flush stores the candle in progress, if any.
func (r *Recorder) Flush(ctx context.Context) error {
	c := r.current
	if c == nil {
		return nil
	}
	r.current = nil
	added, err := r.prices.InsertSample(ctx, model.PriceSample{
		PairID:    r.pairID,
		Timestamp: c.start,
		Open:      c.open,
		High:      c.high,
		Low:       c.low,
		Close:     c.close,
		Volume:    decimal.Zero,
	})
	if err != nil {
		return fmt.Errorf("insert sample at %s: %w", c.start.Format(time.RFC3339), err)
	}
	if !added {
		r.logger.Debug("Recorder: sample already present", "start", c.start)
		return nil
	}
	if err := r.prices.RefreshPairTimespan(ctx, r.pairID); err != nil {
		return fmt.Errorf("refresh pair %d: %w", r.pairID, err)
	}
	r.logger.Debug("Recorder: stored candle", "start", c.start, "ticks", c.ticks, "close", c.close.String())
	return nil
}
