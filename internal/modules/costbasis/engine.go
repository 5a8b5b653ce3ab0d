package costbasis

import (
	"math"

	"github.com/aristath/folio/internal/modules/ledger"
)

// statusEpsilon separates profit/loss from break-even
const statusEpsilon = 1e-9

// Engine is the FIFO matcher for one (exchange, asset) key. Transactions
// must be fed in ledger replay order: date ascending, id ascending. The
// engine assumes amount > 0 and price > 0, already enforced by transaction
// validation.
type Engine struct {
	exchange string
	asset    string

	lots     []*Lot
	realized float64
	matches  []SellMatch
	flags    map[Flag]bool
}

// NewEngine creates an engine for one (exchange, asset) key
func NewEngine(exchange, asset string) *Engine {
	return &Engine{
		exchange: exchange,
		asset:    asset,
		flags:    make(map[Flag]bool),
	}
}

// Record replays one transaction
func (e *Engine) Record(tx ledger.Transaction) {
	switch tx.Type {
	case ledger.TypeBuy:
		e.RecordBuy(tx)
	case ledger.TypeSell:
		e.RecordSell(tx)
	}
}

// RecordBuy opens a new lot. The buy commission is folded into the lot's
// unit cost, so it reduces realized P&L when the lot is eventually sold.
func (e *Engine) RecordBuy(tx ledger.Transaction) {
	commissionUSD, confident := e.commissionUSD(tx)
	if !confident {
		e.flags[FlagLowConfidenceCommission] = true
	}

	e.lots = append(e.lots, &Lot{
		Remaining:           tx.Amount,
		UnitCostUSD:         tx.PriceUSD + commissionUSD/tx.Amount,
		OpenedAt:            tx.Date,
		SourceTransactionID: tx.ID,
	})
}

// RecordSell matches a sell against the lot queue, earliest lot first.
// Proceeds and the sell commission are prorated by the consumed fraction of
// the sell. A partially consumed lot keeps front-of-queue priority for the
// next sell.
//
// If the queue is exhausted before the sell is covered (history starting
// mid-position), the uncovered remainder is excluded from realized P&L and
// the result is flagged unknown-cost-basis; inventing a zero cost basis
// would fabricate a maximal taxable gain.
func (e *Engine) RecordSell(tx ledger.Transaction) SellMatch {
	commissionUSD, confident := e.commissionUSD(tx)
	if !confident {
		e.flags[FlagLowConfidenceCommission] = true
	}

	match := SellMatch{TransactionID: tx.ID}
	remainingToMatch := tx.Amount

	for remainingToMatch > 0 && len(e.lots) > 0 {
		lot := e.lots[0]
		consumed := math.Min(lot.Remaining, remainingToMatch)

		fraction := consumed / tx.Amount
		proceeds := tx.ValueUSD * fraction
		commissionPortion := commissionUSD * fraction
		cost := consumed * lot.UnitCostUSD

		match.RealizedPnLUSD += proceeds - commissionPortion - cost
		match.MatchedAmount += consumed
		match.ConsumedLots = append(match.ConsumedLots, ConsumedLot{
			SourceTransactionID: lot.SourceTransactionID,
			Amount:              consumed,
			UnitCostUSD:         lot.UnitCostUSD,
		})

		lot.Remaining -= consumed
		remainingToMatch -= consumed

		if lot.Remaining <= 0 {
			e.lots = e.lots[1:]
		}
	}

	if remainingToMatch > 0 {
		match.UnmatchedAmount = remainingToMatch
		e.flags[FlagUnknownCostBasis] = true
	}

	e.realized += match.RealizedPnLUSD
	e.matches = append(e.matches, match)
	return match
}

// commissionUSD converts a transaction's commission to USD. PLN commissions
// use the transaction's stored USD/PLN rate; commissions already in a
// USD-pegged currency pass through. Anything else is taken at face value
// with confident=false.
func (e *Engine) commissionUSD(tx ledger.Transaction) (float64, bool) {
	if tx.Commission == 0 {
		return 0, true
	}

	switch {
	case tx.CommissionCurrency == "USD" || tx.CommissionCurrency == "USDT" ||
		tx.CommissionCurrency == "USDC" || tx.CommissionCurrency == "BUSD":
		return tx.Commission, true
	case tx.CommissionCurrency == "PLN" && tx.ExchangeRateUSDPLN != nil && *tx.ExchangeRateUSDPLN > 0:
		return tx.Commission / *tx.ExchangeRateUSDPLN, true
	default:
		return tx.Commission, false
	}
}

// RealizedPnL returns the accumulated realized P&L in USD
func (e *Engine) RealizedPnL() float64 {
	return e.realized
}

// TotalRemaining returns the open quantity across all lots
func (e *Engine) TotalRemaining() float64 {
	var total float64
	for _, lot := range e.lots {
		total += lot.Remaining
	}
	return total
}

// CostBasis returns the cost basis of the open lots
func (e *Engine) CostBasis() float64 {
	var total float64
	for _, lot := range e.lots {
		total += lot.Remaining * lot.UnitCostUSD
	}
	return total
}

// UnrealizedPnL marks the open lots to the given current price
func (e *Engine) UnrealizedPnL(currentPrice float64) float64 {
	return e.TotalRemaining()*currentPrice - e.CostBasis()
}

// OpenLots returns copies of the open lots in FIFO order
func (e *Engine) OpenLots() []Lot {
	lots := make([]Lot, 0, len(e.lots))
	for _, lot := range e.lots {
		lots = append(lots, *lot)
	}
	return lots
}

// Matches returns the recorded sell matches in replay order
func (e *Engine) Matches() []SellMatch {
	return e.matches
}

// Result builds the P&L report for this key. currentPrice may be zero when
// no price is known; unrealized P&L and current value are then omitted and
// PriceKnown is false.
func (e *Engine) Result(currentPrice float64, priceKnown bool) PnLResult {
	result := PnLResult{
		Exchange:       e.exchange,
		Asset:          e.asset,
		RealizedPnLUSD: e.realized,
		CostBasisUSD:   e.CostBasis(),
		OpenLots:       e.OpenLots(),
		PriceKnown:     priceKnown,
	}

	if priceKnown {
		result.CurrentValueUSD = e.TotalRemaining() * currentPrice
		result.UnrealizedPnLUSD = result.CurrentValueUSD - result.CostBasisUSD
	}

	for _, flag := range []Flag{FlagLowConfidenceCommission, FlagUnknownCostBasis} {
		if e.flags[flag] {
			result.Flags = append(result.Flags, flag)
		}
	}

	total := result.RealizedPnLUSD + result.UnrealizedPnLUSD
	switch {
	case total > statusEpsilon:
		result.Status = StatusProfit
	case total < -statusEpsilon:
		result.Status = StatusLoss
	default:
		result.Status = StatusBreakEven
	}

	if result.CostBasisUSD > 0 {
		result.PnLPercent = total / result.CostBasisUSD * 100
	}

	return result
}
