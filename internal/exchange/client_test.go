package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cryptoscope/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer serves a websocket that optionally reads one message, then
// writes messages and holds the connection open.
func wsServer(t *testing.T, readFirst bool, received chan<- string, messages ...string) (*httptest.Server, chan string) {
	t.Helper()
	paths := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case paths <- r.URL.Path:
		default:
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		if readFirst {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			received <- string(msg)
		}
		for _, m := range messages {
			if err := c.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Hold the connection until the client closes it.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, paths
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func receive(t *testing.T, ticks <-chan model.PriceTick) model.PriceTick {
	t.Helper()
	select {
	case tk := <-ticks:
		return tk
	case <-time.After(5 * time.Second):
		t.Fatal("no tick received")
		return model.PriceTick{}
	}
}

func TestBinanceClient_StartStream(t *testing.T) {
	srv, paths := wsServer(t, false, nil,
		`{"e":"24hrTicker","E":1709294400000,"s":"BTCEUR","b":"not-a-number","a":"1"}`,
		`{"result":null,"id":1}`,
		`{"e":"24hrTicker","E":1709294400000,"s":"BTCEUR","b":"56000.10","B":"0.5","a":"56001.30","A":"0.7"}`,
	)
	client := NewBinanceClient(testLogger())
	client.url = wsURL(srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := make(chan model.PriceTick)
	done := make(chan error, 1)
	go func() { done <- client.StartStream(ctx, ticks, "BTC/EUR") }()

	tk := receive(t, ticks)
	assert.Equal(t, "/ws/btceur@ticker", <-paths)
	assert.Equal(t, "binance", tk.Exchange)
	assert.Equal(t, "BTC/EUR", tk.Pair)
	assert.InDelta(t, 56000.10, tk.Bid, 1e-9)
	assert.InDelta(t, 56001.30, tk.Ask, 1e-9)
	assert.True(t, tk.Time.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestDecodeBinance_FullTickerEvent(t *testing.T) {
	message := `{"e":"24hrTicker","E":1709294400000,"s":"BTCEUR","p":"120.50","P":"0.216",` +
		`"w":"55890.12","x":"55880.00","c":"56000.70","Q":"0.01","b":"56000.10","B":"0.5",` +
		`"a":"56001.30","A":"0.7","o":"55880.20","h":"56500.00","l":"55100.00","v":"812.3",` +
		`"q":"45400000.1","O":1709208000000,"C":1709294400000,"F":1,"L":2,"n":2}`

	tk, ok, err := decodeBinance([]byte(message), "BTC/EUR")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 56000.10, tk.Bid, 1e-9)
	assert.InDelta(t, 56001.30, tk.Ask, 1e-9)
	assert.True(t, tk.Time.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))

	_, ok, err = decodeBinance([]byte(`{"result":null,"id":1}`), "BTC/EUR")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKrakenClient_StartStream(t *testing.T) {
	received := make(chan string, 1)
	srv, _ := wsServer(t, true, received,
		`{"event":"systemStatus","status":"online"}`,
		`{"event":"subscriptionStatus","status":"subscribed","pair":"XBT/EUR"}`,
		`{"event":"heartbeat"}`,
		`[340,{"a":["56001.30000",0,"0.5"],"b":["56000.10000",1,"1.2"],"c":["56000.5","0.1"]},"ticker","XBT/EUR"]`,
	)
	at := time.Date(2024, 3, 1, 12, 0, 30, 0, time.UTC)
	client := NewKrakenClient(testLogger())
	client.url = wsURL(srv)
	client.now = func() time.Time { return at }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := make(chan model.PriceTick)
	go func() { _ = client.StartStream(ctx, ticks, "BTC/EUR") }()

	tk := receive(t, ticks)
	assert.JSONEq(t, `{"event":"subscribe","pair":["XBT/EUR"],"subscription":{"name":"ticker"}}`, <-received)
	assert.Equal(t, "kraken", tk.Exchange)
	assert.Equal(t, "BTC/EUR", tk.Pair)
	assert.InDelta(t, 56000.1, tk.Bid, 1e-9)
	assert.InDelta(t, 56001.3, tk.Ask, 1e-9)
	assert.True(t, at.Equal(tk.Time))
}

func TestKrakenClient_DecodeSubscriptionError(t *testing.T) {
	client := NewKrakenClient(testLogger())
	_, ok, err := client.decode([]byte(`{"event":"subscriptionStatus","status":"error","errorMessage":"Currency pair not supported"}`), "BTC/EUR")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "not supported")
}

func TestStartStream_InvalidPair(t *testing.T) {
	ticks := make(chan model.PriceTick)
	assert.Error(t, NewBinanceClient(testLogger()).StartStream(context.Background(), ticks, "BTC"))
	assert.Error(t, NewKrakenClient(testLogger()).StartStream(context.Background(), ticks, "/EUR"))
}

func TestNewClient(t *testing.T) {
	for _, name := range []string{"kraken", "binance"} {
		c, err := NewClient(name, testLogger())
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}
	_, err := NewClient("mtgox", testLogger())
	assert.Error(t, err)
}
