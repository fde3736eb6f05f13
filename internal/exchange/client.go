package exchange

import (
	"context"

	"cryptoscope/internal/model"
)

// TickerClient streams best bid/ask updates for a trading pair.
type TickerClient interface {
	Name() string
	// StartStream sends ticks for pair ("BTC/EUR") until ctx is cancelled,
	// reconnecting on failures.
	StartStream(ctx context.Context, ticks chan<- model.PriceTick, pair string) error
}
