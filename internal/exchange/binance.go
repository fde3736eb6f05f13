package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"cryptoscope/internal/model"

	"github.com/gorilla/websocket"
)

// BinanceClient implements the TickerClient interface for Binance.
type BinanceClient struct {
	logger *slog.Logger
	url    string
}

// NewBinanceClient creates a new BinanceClient.
func NewBinanceClient(logger *slog.Logger) *BinanceClient {
	return &BinanceClient{logger: logger, url: "wss://stream.binance.com:9443"}
}

func (b *BinanceClient) Name() string {
	return "binance"
}

// binanceTicker is the subset of the 24hr ticker event we use. Keys differing
// only in case are declared so that encoding/json matches them exactly.
type binanceTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Bid       string `json:"b"`
	BidQty    string `json:"B"`
	Ask       string `json:"a"`
	AskQty    string `json:"A"`
}

// StartStream connects to the Binance WebSocket API and streams ticks for pair.
func (b *BinanceClient) StartStream(ctx context.Context, ticks chan<- model.PriceTick, pair string) error {
	base, quote, ok := splitPair(pair)
	if !ok {
		return fmt.Errorf("invalid pair %q", pair)
	}
	wsURL := fmt.Sprintf("%s/ws/%s@ticker", b.url, strings.ToLower(base+quote))
	canonical := base + "/" + quote

	open := func(ctx context.Context) (*websocket.Conn, error) {
		b.logger.Info("BinanceClient: connecting to WebSocket", "url", wsURL)
		c, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		return c, err
	}
	return stream(ctx, b.logger, "BinanceClient", open, func(message []byte) (model.PriceTick, bool, error) {
		return decodeBinance(message, canonical)
	}, ticks)
}

func decodeBinance(message []byte, pair string) (model.PriceTick, bool, error) {
	var t binanceTicker
	if err := json.Unmarshal(message, &t); err != nil {
		return model.PriceTick{}, false, err
	}
	if t.Bid == "" || t.Ask == "" {
		return model.PriceTick{}, false, nil
	}
	bid, err := strconv.ParseFloat(t.Bid, 64)
	if err != nil {
		return model.PriceTick{}, false, fmt.Errorf("bid price: %w", err)
	}
	ask, err := strconv.ParseFloat(t.Ask, 64)
	if err != nil {
		return model.PriceTick{}, false, fmt.Errorf("ask price: %w", err)
	}
	return model.PriceTick{
		Exchange: "binance",
		Pair:     pair,
		Bid:      bid,
		Ask:      ask,
		Time:     time.UnixMilli(t.EventTime).UTC(),
	}, true, nil
}
