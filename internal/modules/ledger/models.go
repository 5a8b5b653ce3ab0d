// Package ledger maintains the durable, append-mostly transaction ledger.
// Transactions are immutable once created, except for explicit user edit or
// delete, and their ids are unique for the lifetime of the ledger.
package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// TransactionType represents the transaction direction
type TransactionType string

const (
	TypeBuy  TransactionType = "buy"
	TypeSell TransactionType = "sell"
)

// IsValid checks if the transaction type is valid
func (t TransactionType) IsValid() bool {
	return t == TypeBuy || t == TypeSell
}

// ValidationError describes why a transaction was rejected. No mutation
// happens when validation fails.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction: %s %s", e.Field, e.Reason)
}

// DateLayout is the calendar-day format used for transaction dates
const DateLayout = "2006-01-02"

// Transaction is one durable ledger entry. The JSON field names are a stable
// contract relied on by export and migration tooling.
type Transaction struct {
	ID                 int64           `json:"id"`
	Exchange           string          `json:"exchange"`
	Asset              string          `json:"asset"`
	Amount             float64         `json:"amount"`
	PriceUSD           float64         `json:"price_usd"`
	Type               TransactionType `json:"type"`
	Date               string          `json:"date"` // ISO-8601 calendar day
	ValueUSD           float64         `json:"value_usd"`
	Commission         float64         `json:"commission"`
	CommissionCurrency string          `json:"commission_currency"`
	ExchangeRateUSDPLN *float64        `json:"exchange_rate_usd_pln"`
	ValuePLN           *float64        `json:"value_pln"`
	LinkedBuys         []int64         `json:"linked_buys"`
	SourceOrderID      string          `json:"source_order_id,omitempty"`
	CreatedAt          *time.Time      `json:"created_at,omitempty"`
}

// Validate checks transaction fields and normalizes exchange/asset casing.
// Called before any persistence; a failed validation leaves the ledger
// untouched.
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.Exchange) == "" {
		return &ValidationError{Field: "exchange", Reason: "cannot be empty"}
	}
	if strings.TrimSpace(t.Asset) == "" {
		return &ValidationError{Field: "asset", Reason: "cannot be empty"}
	}
	if t.Amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if t.PriceUSD <= 0 {
		return &ValidationError{Field: "price_usd", Reason: "must be positive"}
	}
	if !t.Type.IsValid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("must be buy or sell, got %q", t.Type)}
	}
	if t.Commission < 0 {
		return &ValidationError{Field: "commission", Reason: "cannot be negative"}
	}
	if _, err := time.Parse(DateLayout, truncateToDay(t.Date)); err != nil {
		return &ValidationError{Field: "date", Reason: fmt.Sprintf("not an ISO-8601 date: %q", t.Date)}
	}

	t.Exchange = strings.ToLower(strings.TrimSpace(t.Exchange))
	t.Asset = strings.ToUpper(strings.TrimSpace(t.Asset))
	t.Date = truncateToDay(t.Date)
	t.ValueUSD = t.Amount * t.PriceUSD
	if t.CommissionCurrency == "" {
		t.CommissionCurrency = "USD"
	}

	return nil
}

// BuildTransactionKey computes the heuristic dedup fingerprint: exchange
// lowercased, asset uppercased, type lowercased, amount and price rounded to
// 8 decimals, date truncated to the calendar day. Used internally by the
// dedup filter and by external audit tooling that compares exchange balances
// against ledger history.
func BuildTransactionKey(exchange, asset string, txType TransactionType, amount, priceUSD float64, date string) string {
	return fmt.Sprintf("%s|%s|%s|%.8f|%.8f|%s",
		strings.ToLower(strings.TrimSpace(exchange)),
		strings.ToUpper(strings.TrimSpace(asset)),
		strings.ToLower(string(txType)),
		round8(amount),
		round8(priceUSD),
		truncateToDay(date),
	)
}

// Key returns the transaction's heuristic fingerprint
func (t *Transaction) Key() string {
	return BuildTransactionKey(t.Exchange, t.Asset, t.Type, t.Amount, t.PriceUSD, t.Date)
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

// truncateToDay reduces a full ISO-8601 timestamp to its calendar day
func truncateToDay(date string) string {
	if len(date) > len(DateLayout) {
		return date[:len(DateLayout)]
	}
	return date
}
