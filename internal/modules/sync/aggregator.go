// Package sync pulls trade history from exchanges, merges partial fills into
// whole orders, filters out trades already in the ledger, and appends the
// rest as transactions.
package sync

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/folio/internal/domain"
)

// MixedCommissionCurrency marks an order whose fills were charged fees in
// different currencies. The commission sum is still recorded; callers must
// not interpret it as a single-currency amount.
const MixedCommissionCurrency = "MIXED"

// Trade is one aggregated order: the economic unit behind a set of partial
// fills. Ephemeral, discarded after the dedup/append step.
type Trade struct {
	Exchange           string
	OrderID            string
	Asset              string
	Quote              string
	Side               domain.Side
	Amount             float64
	AvgPrice           float64
	TotalValue         float64
	Commission         float64
	CommissionCurrency string
	Timestamp          time.Time
	FillCount          int
}

// DataIntegrityWarning records an ambiguity found while aggregating one
// order. Processing continues with a best-effort resolution.
type DataIntegrityWarning struct {
	Exchange string
	OrderID  string
	Reason   string
}

func (w DataIntegrityWarning) String() string {
	return fmt.Sprintf("%s order %s: %s", w.Exchange, w.OrderID, w.Reason)
}

// AggregateFills merges raw fills into one Trade per (exchange, order id).
// Exchanges report partial fills separately, but the order is the unit that
// matters economically and for tax lot identity. Zero-amount groups are
// dropped with a warning. Output is sorted by timestamp, ties by order id,
// so repeated syncs process orders in a stable sequence.
func AggregateFills(fills []domain.RawFill) ([]Trade, []DataIntegrityWarning) {
	type groupKey struct {
		exchange string
		orderID  string
	}

	groups := make(map[groupKey][]domain.RawFill)
	var order []groupKey
	for _, fill := range fills {
		key := groupKey{fill.Exchange, fill.OrderID}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], fill)
	}

	var trades []Trade
	var warnings []DataIntegrityWarning

	for _, key := range order {
		group := groups[key]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})
		first := group[0]

		var amount, weighted, commission float64
		commissionCurrency := first.FeeCurrency
		for _, fill := range group {
			amount += fill.Qty
			weighted += fill.Qty * fill.Price
			commission += fill.Fee
			if fill.FeeCurrency != commissionCurrency {
				commissionCurrency = MixedCommissionCurrency
			}
			if fill.Side != first.Side {
				warnings = append(warnings, DataIntegrityWarning{
					Exchange: key.exchange,
					OrderID:  key.orderID,
					Reason:   "fills disagree on side, using first fill's side",
				})
			}
		}

		if amount == 0 {
			warnings = append(warnings, DataIntegrityWarning{
				Exchange: key.exchange,
				OrderID:  key.orderID,
				Reason:   "zero total quantity, dropping order",
			})
			continue
		}
		if commissionCurrency == MixedCommissionCurrency {
			warnings = append(warnings, DataIntegrityWarning{
				Exchange: key.exchange,
				OrderID:  key.orderID,
				Reason:   "fills charged fees in different currencies",
			})
		}

		trades = append(trades, Trade{
			Exchange:           first.Exchange,
			OrderID:            first.OrderID,
			Asset:              first.Asset,
			Quote:              first.Quote,
			Side:               first.Side,
			Amount:             amount,
			AvgPrice:           weighted / amount,
			TotalValue:         weighted,
			Commission:         commission,
			CommissionCurrency: commissionCurrency,
			Timestamp:          first.Timestamp,
			FillCount:          len(group),
		})
	}

	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].Timestamp.Equal(trades[j].Timestamp) {
			return trades[i].Timestamp.Before(trades[j].Timestamp)
		}
		return trades[i].OrderID < trades[j].OrderID
	})

	return trades, warnings
}
