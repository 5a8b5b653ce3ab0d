package binance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/reliability"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient("key", "secret", zerolog.Nop())
	client.baseURL = server.URL
	return client
}

func TestNormalizeFill(t *testing.T) {
	raw := fill{
		Symbol:          "BTCUSDT",
		ID:              101,
		OrderID:         555,
		Price:           "50000.10",
		Qty:             "0.25",
		Commission:      "0.00025",
		CommissionAsset: "BTC",
		Time:            1700000000000,
		IsBuyer:         true,
	}

	got, err := raw.normalize()
	require.NoError(t, err)

	assert.Equal(t, "binance", got.Exchange)
	assert.Equal(t, "555", got.OrderID)
	assert.Equal(t, "BTC", got.Asset)
	assert.Equal(t, "USDT", got.Quote)
	assert.Equal(t, 0.25, got.Qty)
	assert.Equal(t, 50000.10, got.Price)
	assert.Equal(t, 0.00025, got.Fee)
	assert.Equal(t, "BTC", got.FeeCurrency)
	assert.Equal(t, domain.SideBuy, got.Side)
	assert.Equal(t, 2023, got.Timestamp.Year())
}

func TestNormalizeFillErrors(t *testing.T) {
	base := fill{
		Symbol:  "BTCUSDT",
		Price:   "100",
		Qty:     "1",
		Time:    1700000000000,
		IsBuyer: false,
	}

	missing := base
	missing.Symbol = ""
	_, err := missing.normalize()
	assert.True(t, errors.Is(err, domain.ErrMissingSymbol))

	badTime := base
	badTime.Time = 0
	_, err = badTime.normalize()
	assert.True(t, errors.Is(err, domain.ErrUnparseableTimestamp))

	badQty := base
	badQty.Qty = "lots"
	_, err = badQty.normalize()
	var normErr *domain.NormalizationError
	assert.True(t, errors.As(err, &normErr))
}

func TestTradeHistory(t *testing.T) {
	fills := []fill{
		{Symbol: "BTCUSDT", ID: 1, OrderID: 10, Price: "50000", Qty: "0.5", Time: 1700000000000, IsBuyer: true},
		{Symbol: "BTCUSDT", ID: 2, OrderID: 10, Price: "50001", Qty: "0.5", Time: 1700000001000, IsBuyer: true},
		// Malformed: dropped, not fatal
		{Symbol: "BTCUSDT", ID: 3, OrderID: 11, Price: "x", Qty: "1", Time: 1700000002000, IsBuyer: false},
	}

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_ = json.NewEncoder(w).Encode(fills)
	})

	got, err := client.TradeHistory(context.Background(), "BTCUSDT", 500)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "10", got[0].OrderID)
}

func TestTradeHistoryRateLimit(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":-1003,"msg":"Too many requests"}`))
	})

	_, err := client.TradeHistory(context.Background(), "BTCUSDT", 500)
	require.Error(t, err)

	var upstream *reliability.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, reliability.KindRateLimit, upstream.Kind)
	assert.True(t, upstream.Retryable())
}

func TestTradeHistoryAuthErrorInBody(t *testing.T) {
	// Binance reports invalid keys as HTTP 400 with code -2015
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key, IP, or permissions"}`))
	})

	_, err := client.TradeHistory(context.Background(), "BTCUSDT", 500)
	require.Error(t, err)

	var upstream *reliability.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, reliability.KindAuth, upstream.Kind)
	assert.False(t, upstream.Retryable())
}

func TestTradeHistoryGeoRestricted(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnavailableForLegalReasons)
		_, _ = w.Write([]byte(`{"code":0,"msg":"Service unavailable from a restricted location"}`))
	})

	_, err := client.TradeHistory(context.Background(), "BTCUSDT", 500)
	require.Error(t, err)

	var upstream *reliability.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, reliability.KindGeoRestricted, upstream.Kind)
	assert.False(t, upstream.Retryable())
}

func TestCombinedStreamURL(t *testing.T) {
	stream := NewTickerStream(nil, zerolog.Nop())
	url := stream.combinedURL([]string{"BTCUSDT", "ETHUSDT"})
	assert.Equal(t, streamBaseURL+"?streams=btcusdt@miniTicker/ethusdt@miniTicker", url)
}
