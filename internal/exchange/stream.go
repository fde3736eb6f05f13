package exchange

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"cryptoscope/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// decodeFunc turns a websocket message into a tick. ok is false for
// messages that carry no prices.
type decodeFunc func(message []byte) (tick model.PriceTick, ok bool, err error)

// session is one websocket connection attempt: dial, then subscribe.
type session func(ctx context.Context) (*websocket.Conn, error)

func newReconnectBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 16 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// stream keeps a connection open and forwards decoded ticks until ctx ends.
func stream(ctx context.Context, logger *slog.Logger, name string, open session, decode decodeFunc, ticks chan<- model.PriceTick) error {
	b := newReconnectBackOff()
	for {
		if ctx.Err() != nil {
			logger.Info(name + ": context cancelled, shutting down")
			return nil
		}
		c, err := open(ctx)
		if err != nil {
			delay := b.NextBackOff()
			logger.Error(name+": WebSocket connection failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		b.Reset()
		logger.Info(name + ": connected successfully")

		if done := readLoop(ctx, logger, name, c, decode, ticks); done {
			return nil
		}
	}
}

// readLoop reads until the connection fails or ctx ends. It reports whether
// streaming should stop.
func readLoop(ctx context.Context, logger *slog.Logger, name string, c *websocket.Conn, decode decodeFunc, ticks chan<- model.PriceTick) bool {
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				logger.Info(name + ": context cancelled, closing connection")
				return true
			}
			logger.Error(name+": failed to read message", "error", err)
			return false
		}
		tick, ok, err := decode(message)
		if err != nil {
			logger.Warn(name+": failed to parse message", "error", err)
			continue
		}
		if !ok {
			continue
		}
		select {
		case ticks <- tick:
			logger.Debug(name+": sent price tick", "pair", tick.Pair, "bid", tick.Bid, "ask", tick.Ask)
		case <-ctx.Done():
			logger.Info(name + ": context cancelled while sending price tick")
			return true
		}
	}
}

// splitPair splits "BTC/EUR" into its upper-cased legs.
func splitPair(pair string) (base, quote string, ok bool) {
	base, quote, ok = strings.Cut(strings.ToUpper(pair), "/")
	return base, quote, ok && base != "" && quote != ""
}
