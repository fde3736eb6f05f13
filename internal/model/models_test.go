package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTradingPair_GranularityDisplay(t *testing.T) {
	tests := []struct {
		granularity int64
		want        string
	}{
		{1, "1 second"},
		{45, "45 seconds"},
		{60, "1 minute"},
		{90, "90 seconds"},
		{300, "5 minutes"},
		{3600, "1 hour"},
		{4 * 3600, "4 hours"},
		{5400, "90 minutes"},
		{86400, "1 day"},
		{7 * 86400, "7 days"},
		{36 * 3600, "36 hours"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, TradingPair{Granularity: tt.granularity}.GranularityDisplay())
		})
	}
}

func TestTradingPair_Covers(t *testing.T) {
	earliest := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	latest := earliest.Add(24 * time.Hour)
	pair := TradingPair{Granularity: 3600, EarliestData: &earliest, LatestData: &latest}

	assert.False(t, pair.Covers(earliest.Add(-time.Second)))
	assert.True(t, pair.Covers(earliest))
	assert.True(t, pair.Covers(latest))
	assert.True(t, pair.Covers(latest.Add(time.Hour)), "within one sample of the last")
	assert.False(t, pair.Covers(latest.Add(time.Hour+time.Second)))
	assert.False(t, TradingPair{Granularity: 60}.Covers(earliest), "no samples")
}

func TestTradingPair_String(t *testing.T) {
	p := TradingPair{Source: "BTC", Target: "USD", Granularity: 60, DataSource: "coinbase"}
	assert.Equal(t, "BTC/USD, 1 minute (via coinbase)", p.String())
	assert.Equal(t, "USD", p.Other("BTC"))
	assert.Equal(t, "BTC", p.Other("USD"))
}

func TestMid(t *testing.T) {
	s := PriceSample{High: decimal.RequireFromString("10.5"), Low: decimal.RequireFromString("9.5")}
	assert.True(t, s.Mid().Equal(decimal.NewFromInt(10)))

	tick := PriceTick{Bid: 100, Ask: 101}
	assert.True(t, tick.Mid().Equal(decimal.RequireFromString("100.5")))
}

func TestChainTransaction_Totals(t *testing.T) {
	tx := ChainTransaction{
		Inputs: []TxInput{
			{Address: "a", Value: decimal.NewFromInt(4), Resolved: true},
			{},
			{Address: "b", Value: decimal.NewFromInt(5), Resolved: true},
		},
		Outputs: []TxOutput{{Address: "d", Value: decimal.NewFromInt(7)}},
	}
	assert.Equal(t, []string{"a", "b"}, tx.InputAddresses())
	assert.True(t, tx.TotalInput().Equal(decimal.NewFromInt(9)))
	assert.True(t, tx.TotalOutput().Equal(decimal.NewFromInt(7)))
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "Disposal (fee)", DisposalFee.String())
	assert.Equal(t, "EventKind(9)", EventKind(9).String())
}
