package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"cryptoscope/internal/model"

	"github.com/gorilla/websocket"
)

// KrakenClient implements the TickerClient interface for Kraken.
type KrakenClient struct {
	logger *slog.Logger
	url    string
	now    func() time.Time
}

// NewKrakenClient creates a new KrakenClient.
func NewKrakenClient(logger *slog.Logger) *KrakenClient {
	return &KrakenClient{logger: logger, url: "wss://ws.kraken.com", now: time.Now}
}

func (k *KrakenClient) Name() string {
	return "kraken"
}

// krakenPair maps a ticker to Kraken's symbol for it.
func krakenPair(base, quote string) string {
	if base == "BTC" {
		base = "XBT"
	}
	return base + "/" + quote
}

type krakenEvent struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
}

// krakenTicker levels are [price, wholeLotVolume, lotVolume].
type krakenTicker struct {
	Ask []any `json:"a"`
	Bid []any `json:"b"`
}

func levelPrice(level []any) (float64, error) {
	if len(level) == 0 {
		return 0, fmt.Errorf("empty level")
	}
	s, ok := level[0].(string)
	if !ok {
		return 0, fmt.Errorf("unexpected price %v", level[0])
	}
	return strconv.ParseFloat(s, 64)
}

// StartStream connects to the Kraken WebSocket API and streams ticks for pair.
func (k *KrakenClient) StartStream(ctx context.Context, ticks chan<- model.PriceTick, pair string) error {
	base, quote, ok := splitPair(pair)
	if !ok {
		return fmt.Errorf("invalid pair %q", pair)
	}
	canonical := base + "/" + quote

	open := func(ctx context.Context) (*websocket.Conn, error) {
		k.logger.Info("KrakenClient: connecting to WebSocket", "url", k.url)
		c, _, err := websocket.DefaultDialer.DialContext(ctx, k.url, nil)
		if err != nil {
			return nil, err
		}
		subscription := map[string]any{
			"event": "subscribe",
			"pair":  []string{krakenPair(base, quote)},
			"subscription": map[string]string{
				"name": "ticker",
			},
		}
		if err := c.WriteJSON(subscription); err != nil {
			c.Close()
			return nil, fmt.Errorf("send subscription: %w", err)
		}
		k.logger.Info("KrakenClient: subscription sent successfully")
		return c, nil
	}
	return stream(ctx, k.logger, "KrakenClient", open, func(message []byte) (model.PriceTick, bool, error) {
		return k.decode(message, canonical)
	}, ticks)
}

// decode handles both event objects and ticker arrays of the form
// [channelID, tickerData, "ticker", pair].
func (k *KrakenClient) decode(message []byte, pair string) (model.PriceTick, bool, error) {
	message = bytes.TrimSpace(message)
	if len(message) > 0 && message[0] == '{' {
		var e krakenEvent
		if err := json.Unmarshal(message, &e); err != nil {
			return model.PriceTick{}, false, err
		}
		switch {
		case e.Event == "subscriptionStatus" && e.Status == "error":
			return model.PriceTick{}, false, fmt.Errorf("subscription rejected: %s", e.ErrorMessage)
		case e.Event == "subscriptionStatus":
			k.logger.Info("KrakenClient: subscription confirmed")
		}
		return model.PriceTick{}, false, nil
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(message, &frame); err != nil {
		return model.PriceTick{}, false, err
	}
	if len(frame) < 4 {
		return model.PriceTick{}, false, nil
	}
	var channel string
	if err := json.Unmarshal(frame[2], &channel); err != nil || channel != "ticker" {
		return model.PriceTick{}, false, nil
	}
	var data krakenTicker
	if err := json.Unmarshal(frame[1], &data); err != nil {
		return model.PriceTick{}, false, err
	}
	if len(data.Bid) == 0 || len(data.Ask) == 0 {
		return model.PriceTick{}, false, nil
	}
	bid, err := levelPrice(data.Bid)
	if err != nil {
		return model.PriceTick{}, false, fmt.Errorf("bid price: %w", err)
	}
	ask, err := levelPrice(data.Ask)
	if err != nil {
		return model.PriceTick{}, false, fmt.Errorf("ask price: %w", err)
	}
	return model.PriceTick{
		Exchange: "kraken",
		Pair:     pair,
		Bid:      bid,
		Ask:      ask,
		Time:     k.now().UTC(),
	}, true, nil
}
