package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick represents a single price update from an exchange.
type PriceTick struct {
	Exchange string
	Pair     string
	Bid      float64
	Ask      float64
	Time     time.Time
}

// Mid returns the midpoint between bid and ask.
func (t PriceTick) Mid() decimal.Decimal {
	return decimal.NewFromFloat(t.Bid).Add(decimal.NewFromFloat(t.Ask)).Div(decimal.NewFromInt(2))
}

// Currency is referenced by ticker everywhere else.
type Currency struct {
	Ticker    string `db:"ticker"`
	Name      string `db:"name"`
	Fiat      bool   `db:"fiat"`
	Prefix    string `db:"prefix"`
	Precision *int32 `db:"display_precision"`
}

// ShortName returns the ticker, or the name when no ticker is set.
func (c Currency) ShortName() string {
	if c.Ticker != "" {
		return c.Ticker
	}
	return c.Name
}

// TradingPair is a market between two currencies. One unit of Source is worth
// a sample's price in units of Target.
type TradingPair struct {
	ID           int64      `db:"id"`
	Source       string     `db:"source"`
	Target       string     `db:"target"`
	Granularity  int64      `db:"granularity"`
	DataSource   string     `db:"data_source"`
	EarliestData *time.Time `db:"earliest_data"`
	LatestData   *time.Time `db:"latest_data"`
}

// Covers reports whether the pair has samples usable at the given time.
func (p TradingPair) Covers(at time.Time) bool {
	if p.EarliestData == nil || p.LatestData == nil {
		return false
	}
	if p.EarliestData.After(at) {
		return false
	}
	return !p.LatestData.Before(at.Add(-time.Duration(p.Granularity) * time.Second))
}

// Other returns the currency on the opposite side of the pair.
func (p TradingPair) Other(ticker string) string {
	if p.Source == ticker {
		return p.Target
	}
	return p.Source
}

func (p TradingPair) String() string {
	s := fmt.Sprintf("%s/%s, %s", p.Source, p.Target, p.GranularityDisplay())
	if p.DataSource != "" {
		s += fmt.Sprintf(" (via %s)", p.DataSource)
	}
	return s
}

// GranularityDisplay renders the sampling interval in the largest whole unit.
func (p TradingPair) GranularityDisplay() string {
	g := p.Granularity
	var value int64
	var unit string
	switch {
	case g < 60 || g%60 != 0:
		value, unit = g, "second"
	case g/60 < 60 || g%(60*60) != 0:
		value, unit = g/60, "minute"
	case g/(60*60) < 24 || g%(60*60*24) != 0:
		value, unit = g/(60*60), "hour"
	default:
		value, unit = g/(60*60*24), "day"
	}
	if value > 1 {
		unit += "s"
	}
	return fmt.Sprintf("%d %s", value, unit)
}

// PriceSample is one candle of a trading pair.
type PriceSample struct {
	PairID    int64           `db:"pair_id"`
	Timestamp time.Time       `db:"timestamp"`
	Open      decimal.Decimal `db:"open"`
	High      decimal.Decimal `db:"high"`
	Low       decimal.Decimal `db:"low"`
	Close     decimal.Decimal `db:"close"`
	Volume    decimal.Decimal `db:"volume"`
}

// Mid is the price used for conversions.
func (s PriceSample) Mid() decimal.Decimal {
	return s.High.Add(s.Low).Div(decimal.NewFromInt(2))
}
