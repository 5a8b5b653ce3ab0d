package bybit

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

func testClient(baseURL string) *Client {
	c := NewClient("test-key", "test-secret", zerolog.Nop())
	c.baseURL = baseURL
	return c
}

func TestNormalizeExecution(t *testing.T) {
	exec := execution{
		Symbol:      "ETHUSDT",
		OrderID:     "order-77",
		ExecID:      "exec-1",
		Side:        "Sell",
		ExecPrice:   "3200.50",
		ExecQty:     "0.25",
		ExecFee:     "0.80",
		FeeCurrency: "USDT",
		ExecTime:    "1700000000000",
	}

	raw, err := exec.normalize()
	require.NoError(t, err)

	assert.Equal(t, "bybit", raw.Exchange)
	assert.Equal(t, "order-77", raw.OrderID)
	assert.Equal(t, "ETH", raw.Asset)
	assert.Equal(t, "USDT", raw.Quote)
	assert.Equal(t, domain.SideSell, raw.Side)
	assert.InDelta(t, 0.25, raw.Qty, 1e-12)
	assert.InDelta(t, 3200.50, raw.Price, 1e-12)
	assert.InDelta(t, 0.80, raw.Fee, 1e-12)
	assert.Equal(t, "USDT", raw.FeeCurrency)
	assert.Equal(t, int64(1700000000000), raw.Timestamp.UnixMilli())
}

func TestNormalizeExecutionErrors(t *testing.T) {
	base := execution{
		Symbol:    "BTCUSDT",
		OrderID:   "o1",
		Side:      "Buy",
		ExecPrice: "100",
		ExecQty:   "1",
		ExecTime:  "1700000000000",
	}

	t.Run("unknown side", func(t *testing.T) {
		exec := base
		exec.Side = "Short"
		_, err := exec.normalize()
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUnknownSide)
	})

	t.Run("bad timestamp", func(t *testing.T) {
		exec := base
		exec.ExecTime = "not-a-number"
		_, err := exec.normalize()
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUnparseableTimestamp)
	})

	t.Run("bad qty", func(t *testing.T) {
		exec := base
		exec.ExecQty = "1.2.3"
		_, err := exec.normalize()
		require.Error(t, err)
		var normErr *domain.NormalizationError
		assert.ErrorAs(t, err, &normErr)
	})
}

func TestNormalizeDefaultFeeCurrency(t *testing.T) {
	exec := execution{
		Symbol:    "BTCUSDT",
		OrderID:   "o1",
		Side:      "Buy",
		ExecPrice: "100",
		ExecQty:   "1",
		ExecFee:   "0.001",
		ExecTime:  "1700000000000",
	}

	raw, err := exec.normalize()
	require.NoError(t, err)
	assert.Equal(t, "BTC", raw.FeeCurrency, "buy-side fee defaults to the base asset")

	exec.Side = "Sell"
	raw, err = exec.normalize()
	require.NoError(t, err)
	assert.Equal(t, "USDT", raw.FeeCurrency, "sell-side fee defaults to the quote")
}

func TestTradeHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/execution/list", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-BAPI-API-KEY"))
		assert.NotEmpty(t, r.Header.Get("X-BAPI-TIMESTAMP"))
		assert.NotEmpty(t, r.Header.Get("X-BAPI-SIGN"))
		assert.Equal(t, "spot", r.URL.Query().Get("category"))
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))

		resp := map[string]any{
			"retCode": 0,
			"retMsg":  "OK",
			"result": map[string]any{
				"list": []map[string]any{
					{
						"symbol":      "BTCUSDT",
						"orderId":     "order-1",
						"execId":      "e1",
						"side":        "Buy",
						"execPrice":   "40000.00",
						"execQty":     "0.5",
						"execFee":     "0.0005",
						"feeCurrency": "BTC",
						"execTime":    "1700000000000",
					},
					{
						// broken record, should be dropped
						"symbol":    "BTCUSDT",
						"orderId":   "order-2",
						"execId":    "e2",
						"side":      "Buy",
						"execPrice": "40000.00",
						"execQty":   "0.5",
						"execTime":  "garbage",
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	fills, err := testClient(server.URL).TradeHistory(context.Background(), "BTCUSDT", 100)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "order-1", fills[0].OrderID)
	assert.Equal(t, domain.SideBuy, fills[0].Side)
}

func TestTradeHistoryRetCodeClassification(t *testing.T) {
	tests := []struct {
		name    string
		retCode int
		want    reliability.ErrorKind
	}{
		{"invalid key", 10003, reliability.KindAuth},
		{"invalid signature", 10004, reliability.KindAuth},
		{"rate limited", 10006, reliability.KindRateLimit},
		{"compliance restriction", 10024, reliability.KindGeoRestricted},
		{"unknown code", 99999, reliability.KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"retCode": tt.retCode,
					"retMsg":  tt.name,
					"result":  map[string]any{"list": []any{}},
				})
			}))
			defer server.Close()

			_, err := testClient(server.URL).TradeHistory(context.Background(), "BTCUSDT", 100)
			require.Error(t, err)

			var upstreamErr *reliability.UpstreamError
			require.True(t, errors.As(err, &upstreamErr))
			assert.Equal(t, tt.want, upstreamErr.Kind)
			assert.Equal(t, "bybit", upstreamErr.Exchange)
		})
	}
}

func TestTradeHistoryHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := testClient(server.URL).TradeHistory(context.Background(), "BTCUSDT", 100)
	require.Error(t, err)

	var upstreamErr *reliability.UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, reliability.KindTransient, upstreamErr.Kind)
	assert.True(t, upstreamErr.Retryable())
}
