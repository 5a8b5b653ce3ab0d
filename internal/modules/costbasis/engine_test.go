package costbasis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/folio/internal/modules/ledger"
)

func tx(id int64, txType ledger.TransactionType, amount, price, commission float64, date string) ledger.Transaction {
	return ledger.Transaction{
		ID:         id,
		Exchange:   "binance",
		Asset:      "BTC",
		Amount:     amount,
		PriceUSD:   price,
		Type:       txType,
		Date:       date,
		ValueUSD:   amount * price,
		Commission: commission,
	}
}

func TestFIFOMatchesEarliestLotFirst(t *testing.T) {
	e := NewEngine("binance", "BTC")

	e.RecordBuy(tx(1, ledger.TypeBuy, 1, 50000, 0, "2024-01-01"))
	e.RecordBuy(tx(2, ledger.TypeBuy, 1, 60000, 0, "2024-01-02"))
	match := e.RecordSell(tx(3, ledger.TypeSell, 1, 70000, 0, "2024-01-03"))

	assert.InDelta(t, 20000.0, match.RealizedPnLUSD, 1e-9)
	assert.InDelta(t, 20000.0, e.RealizedPnL(), 1e-9)

	// The $60,000 lot must be the one left open
	lots := e.OpenLots()
	require.Len(t, lots, 1)
	assert.Equal(t, int64(2), lots[0].SourceTransactionID)
	assert.InDelta(t, 60000.0, lots[0].UnitCostUSD, 1e-9)
}

func TestCommissionAdjustedFIFO(t *testing.T) {
	e := NewEngine("binance", "ETH")

	e.RecordBuy(tx(1, ledger.TypeBuy, 1, 3000, 10, "2024-01-01"))
	match := e.RecordSell(tx(2, ledger.TypeSell, 1, 4000, 15, "2024-01-02"))

	// proceeds 4000 - sell commission 15 - cost (3000 + 10) = 975
	assert.InDelta(t, 975.0, match.RealizedPnLUSD, 1e-9)
}

func TestPartialLotSplit(t *testing.T) {
	e := NewEngine("binance", "BTC")

	e.RecordBuy(tx(1, ledger.TypeBuy, 3, 10000, 0, "2024-01-01"))
	first := e.RecordSell(tx(2, ledger.TypeSell, 1, 12000, 0, "2024-01-02"))
	second := e.RecordSell(tx(3, ledger.TypeSell, 1, 13000, 0, "2024-01-03"))

	assert.InDelta(t, 2000.0, first.RealizedPnLUSD, 1e-9)
	assert.InDelta(t, 3000.0, second.RealizedPnLUSD, 1e-9)
	assert.InDelta(t, 5000.0, e.RealizedPnL(), 1e-9)

	// One BTC remains in the original lot at its original unit cost
	lots := e.OpenLots()
	require.Len(t, lots, 1)
	assert.InDelta(t, 1.0, lots[0].Remaining, 1e-9)
	assert.InDelta(t, 10000.0, lots[0].UnitCostUSD, 1e-9)
	assert.Equal(t, int64(1), lots[0].SourceTransactionID)
}

func TestPartiallyConsumedLotKeepsFIFOPriority(t *testing.T) {
	e := NewEngine("binance", "BTC")

	e.RecordBuy(tx(1, ledger.TypeBuy, 2, 10000, 0, "2024-01-01"))
	e.RecordBuy(tx(2, ledger.TypeBuy, 2, 20000, 0, "2024-01-02"))
	e.RecordSell(tx(3, ledger.TypeSell, 1, 30000, 0, "2024-01-03"))

	// Next sell must drain the rest of lot 1 before touching lot 2
	match := e.RecordSell(tx(4, ledger.TypeSell, 2, 30000, 0, "2024-01-04"))
	require.Len(t, match.ConsumedLots, 2)
	assert.Equal(t, int64(1), match.ConsumedLots[0].SourceTransactionID)
	assert.InDelta(t, 1.0, match.ConsumedLots[0].Amount, 1e-9)
	assert.Equal(t, int64(2), match.ConsumedLots[1].SourceTransactionID)
	assert.InDelta(t, 1.0, match.ConsumedLots[1].Amount, 1e-9)
}

func TestConservation(t *testing.T) {
	e := NewEngine("binance", "BTC")

	var bought, sold float64
	sequence := []ledger.Transaction{
		tx(1, ledger.TypeBuy, 0.5, 40000, 0, "2024-01-01"),
		tx(2, ledger.TypeBuy, 1.25, 42000, 0, "2024-01-02"),
		tx(3, ledger.TypeSell, 0.75, 45000, 0, "2024-01-03"),
		tx(4, ledger.TypeBuy, 0.1, 47000, 0, "2024-01-04"),
		tx(5, ledger.TypeSell, 0.6, 48000, 0, "2024-01-05"),
	}

	// The invariant must hold for every prefix of the sequence
	for _, t1 := range sequence {
		e.Record(t1)
		if t1.Type == ledger.TypeBuy {
			bought += t1.Amount
		} else {
			sold += t1.Amount
		}
		assert.InDelta(t, bought-sold, e.TotalRemaining(), 1e-8)
	}
}

func TestOversellFlagsUnknownCostBasis(t *testing.T) {
	e := NewEngine("binance", "BTC")

	e.RecordBuy(tx(1, ledger.TypeBuy, 1, 10000, 0, "2024-01-01"))
	match := e.RecordSell(tx(2, ledger.TypeSell, 3, 12000, 0, "2024-01-02"))

	assert.InDelta(t, 1.0, match.MatchedAmount, 1e-9)
	assert.InDelta(t, 2.0, match.UnmatchedAmount, 1e-9)

	// Realized P&L covers only the matched third of the sell:
	// proceeds 36000/3 - cost 10000 = 2000. The uncovered remainder
	// contributes nothing.
	assert.InDelta(t, 2000.0, match.RealizedPnLUSD, 1e-9)

	result := e.Result(0, false)
	assert.Contains(t, result.Flags, FlagUnknownCostBasis)
}

func TestUnrealizedPnL(t *testing.T) {
	e := NewEngine("binance", "BTC")

	e.RecordBuy(tx(1, ledger.TypeBuy, 2, 10000, 0, "2024-01-01"))
	e.RecordSell(tx(2, ledger.TypeSell, 1, 15000, 0, "2024-01-02"))

	assert.InDelta(t, 2000.0, e.UnrealizedPnL(12000), 1e-9)

	result := e.Result(12000, true)
	assert.InDelta(t, 12000.0, result.CurrentValueUSD, 1e-9)
	assert.InDelta(t, 10000.0, result.CostBasisUSD, 1e-9)
	assert.InDelta(t, 2000.0, result.UnrealizedPnLUSD, 1e-9)
	assert.InDelta(t, 5000.0, result.RealizedPnLUSD, 1e-9)
	assert.Equal(t, StatusProfit, result.Status)
	assert.True(t, result.PriceKnown)
}

func TestCommissionConversion(t *testing.T) {
	e := NewEngine("binance", "ETH")

	rate := 4.0 // PLN per USD
	buy := tx(1, ledger.TypeBuy, 1, 3000, 40, "2024-01-01")
	buy.CommissionCurrency = "PLN"
	buy.ExchangeRateUSDPLN = &rate
	e.RecordBuy(buy)

	// 40 PLN at 4 PLN/USD = $10 commission
	lots := e.OpenLots()
	require.Len(t, lots, 1)
	assert.InDelta(t, 3010.0, lots[0].UnitCostUSD, 1e-9)

	result := e.Result(0, false)
	assert.NotContains(t, result.Flags, FlagLowConfidenceCommission)
}

func TestCommissionWithoutRateIsFlagged(t *testing.T) {
	e := NewEngine("binance", "ETH")

	buy := tx(1, ledger.TypeBuy, 1, 3000, 0.01, "2024-01-01")
	buy.CommissionCurrency = "BNB" // no rate known for BNB
	e.RecordBuy(buy)

	// Face value is used, never silently dropped
	lots := e.OpenLots()
	require.Len(t, lots, 1)
	assert.InDelta(t, 3000.01, lots[0].UnitCostUSD, 1e-9)

	result := e.Result(0, false)
	assert.Contains(t, result.Flags, FlagLowConfidenceCommission)
}

func TestBreakEvenStatus(t *testing.T) {
	e := NewEngine("binance", "BTC")

	e.RecordBuy(tx(1, ledger.TypeBuy, 1, 10000, 0, "2024-01-01"))
	e.RecordSell(tx(2, ledger.TypeSell, 1, 10000, 0, "2024-01-02"))

	result := e.Result(0, false)
	assert.Equal(t, StatusBreakEven, result.Status)
	assert.Empty(t, result.OpenLots)
}
