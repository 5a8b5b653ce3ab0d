// Package costbasis computes FIFO cost-basis profit and loss from the
// transaction ledger. One lot queue exists per (exchange, asset); the engine
// is pure arithmetic with no I/O.
package costbasis

// Lot is a quantity of an asset acquired at a specific cost basis, tracked
// until fully sold. Owned exclusively by the engine's queue; Remaining never
// goes negative and the lot is removed once it reaches zero.
type Lot struct {
	Remaining           float64 `json:"remaining_amount"`
	UnitCostUSD         float64 `json:"unit_cost_usd"`
	OpenedAt            string  `json:"opened_at"`
	SourceTransactionID int64   `json:"source_transaction_id"`
}

// Flag marks a confidence or coverage issue in a P&L computation. Flags are
// surfaced, never silently resolved.
type Flag string

const (
	// FlagLowConfidenceCommission - a non-USD commission had no usable
	// exchange rate and was taken at face value
	FlagLowConfidenceCommission Flag = "low_confidence_commission"
	// FlagUnknownCostBasis - a sell exceeded recorded buy history; the
	// uncovered remainder is excluded from realized P&L
	FlagUnknownCostBasis Flag = "unknown_cost_basis"
)

// ConsumedLot records one lot consumption by a sell
type ConsumedLot struct {
	SourceTransactionID int64   `json:"source_transaction_id"`
	Amount              float64 `json:"amount"`
	UnitCostUSD         float64 `json:"unit_cost_usd"`
}

// SellMatch is the outcome of matching one sell against the lot queue
type SellMatch struct {
	TransactionID   int64         `json:"transaction_id"`
	RealizedPnLUSD  float64       `json:"realized_pnl_usd"`
	MatchedAmount   float64       `json:"matched_amount"`
	UnmatchedAmount float64       `json:"unmatched_amount"`
	ConsumedLots    []ConsumedLot `json:"consumed_lots"`
}

// PnLStatus classifies a P&L result
type PnLStatus string

const (
	StatusProfit    PnLStatus = "profit"
	StatusLoss      PnLStatus = "loss"
	StatusBreakEven PnLStatus = "break_even"
)

// PnLResult is the per-(exchange, asset) report produced by the engine
type PnLResult struct {
	Exchange         string    `json:"exchange"`
	Asset            string    `json:"asset"`
	RealizedPnLUSD   float64   `json:"realized_pnl_usd"`
	UnrealizedPnLUSD float64   `json:"unrealized_pnl_usd"`
	CostBasisUSD     float64   `json:"cost_basis_usd"`
	CurrentValueUSD  float64   `json:"current_value_usd"`
	PnLPercent       float64   `json:"pnl_percent"`
	Status           PnLStatus `json:"status"`
	Flags            []Flag    `json:"flags,omitempty"`
	OpenLots         []Lot     `json:"open_lots,omitempty"`
	PriceKnown       bool      `json:"price_known"`
}
