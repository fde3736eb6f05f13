package exchange

import (
	"fmt"
	"log/slog"
)

// NewClient creates the ticker client for the named exchange.
func NewClient(name string, logger *slog.Logger) (TickerClient, error) {
	switch name {
	case "kraken":
		return NewKrakenClient(logger), nil
	case "binance":
		return NewBinanceClient(logger), nil
	default:
		return nil, fmt.Errorf("unknown exchange: %s", name)
	}
}
