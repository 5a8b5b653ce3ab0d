package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/folio/internal/domain"
)

func fillAt(orderID string, qty, price float64, minute int) domain.RawFill {
	return domain.RawFill{
		Exchange:    "binance",
		OrderID:     orderID,
		Symbol:      "BTCUSDT",
		Asset:       "BTC",
		Quote:       "USDT",
		Qty:         qty,
		Price:       price,
		Fee:         0.1,
		FeeCurrency: "USDT",
		Side:        domain.SideBuy,
		Timestamp:   time.Date(2024, 3, 1, 12, minute, 0, 0, time.UTC),
	}
}

func TestAggregateVolumeWeighted(t *testing.T) {
	fills := []domain.RawFill{
		fillAt("order-1", 0.3, 100, 0),
		fillAt("order-1", 0.4, 101, 1),
		fillAt("order-1", 0.3, 102, 2),
	}

	trades, warnings := AggregateFills(fills)
	require.Len(t, trades, 1)
	assert.Empty(t, warnings)

	trade := trades[0]
	assert.InDelta(t, 1.0, trade.Amount, 1e-9)
	assert.InDelta(t, 101.0, trade.AvgPrice, 1e-9)
	assert.InDelta(t, 101.0, trade.TotalValue, 1e-9)
	assert.InDelta(t, 0.3, trade.Commission, 1e-9)
	assert.Equal(t, "USDT", trade.CommissionCurrency)
	assert.Equal(t, 3, trade.FillCount)
}

func TestAggregateTimestampIsEarliestFill(t *testing.T) {
	fills := []domain.RawFill{
		fillAt("order-1", 0.5, 100, 5),
		fillAt("order-1", 0.5, 100, 2),
		fillAt("order-1", 0.5, 100, 9),
	}

	trades, _ := AggregateFills(fills)
	require.Len(t, trades, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 2, 0, 0, time.UTC), trades[0].Timestamp)
}

func TestAggregateSeparateOrders(t *testing.T) {
	fills := []domain.RawFill{
		fillAt("order-2", 1, 100, 5),
		fillAt("order-1", 1, 100, 0),
	}

	trades, _ := AggregateFills(fills)
	require.Len(t, trades, 2)
	// Sorted by timestamp
	assert.Equal(t, "order-1", trades[0].OrderID)
	assert.Equal(t, "order-2", trades[1].OrderID)
}

func TestAggregateMixedSideWarning(t *testing.T) {
	sell := fillAt("order-1", 0.5, 100, 3)
	sell.Side = domain.SideSell

	trades, warnings := AggregateFills([]domain.RawFill{
		fillAt("order-1", 0.5, 100, 0),
		sell,
	})

	require.Len(t, trades, 1)
	assert.Equal(t, domain.SideBuy, trades[0].Side, "first fill's side wins")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Reason, "disagree on side")
}

func TestAggregateMixedFeeCurrency(t *testing.T) {
	btcFee := fillAt("order-1", 0.5, 100, 1)
	btcFee.Fee = 0.0005
	btcFee.FeeCurrency = "BTC"

	trades, warnings := AggregateFills([]domain.RawFill{
		fillAt("order-1", 0.5, 100, 0),
		btcFee,
	})

	require.Len(t, trades, 1)
	assert.Equal(t, MixedCommissionCurrency, trades[0].CommissionCurrency)
	assert.InDelta(t, 0.1005, trades[0].Commission, 1e-9, "commission is still summed")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Reason, "different currencies")
}

func TestAggregateDropsZeroAmountGroup(t *testing.T) {
	zero := fillAt("order-1", 0, 100, 0)

	trades, warnings := AggregateFills([]domain.RawFill{zero})
	assert.Empty(t, trades)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Reason, "zero total quantity")
}

func TestAggregateEmpty(t *testing.T) {
	trades, warnings := AggregateFills(nil)
	assert.Empty(t, trades)
	assert.Empty(t, warnings)
}
