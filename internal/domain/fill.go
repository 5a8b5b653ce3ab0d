// Package domain contains the canonical trade types shared by all exchange
// integrations. The domain layer is pure: no I/O, no infrastructure
// dependencies.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Side represents the trade direction
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// IsValid checks if the side is valid
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}

// SideFromString creates a Side from exchange-specific string encodings
// (case-insensitive). Returns ErrUnknownSide for anything else.
func SideFromString(value string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSide, value)
	}
}

// SideFromIsBuyer creates a Side from boolean encodings ("isBuyer" style)
func SideFromIsBuyer(isBuyer bool) Side {
	if isBuyer {
		return SideBuy
	}
	return SideSell
}

// Normalization failure reasons. Malformed raw fills are dropped and logged;
// the sync continues.
var (
	ErrUnparseableTimestamp = errors.New("unparseable timestamp")
	ErrMissingSymbol        = errors.New("missing symbol")
	ErrUnknownSide          = errors.New("unknown side")
)

// NormalizationError wraps a normalization failure with its source exchange
type NormalizationError struct {
	Exchange string
	Err      error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization failed for %s: %v", e.Exchange, e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// RawFill is the canonical shape of one exchange fill. Exchange clients map
// their own payload types into this; nothing downstream ever sees an
// exchange-specific record.
type RawFill struct {
	Exchange    string
	OrderID     string
	Symbol      string
	Asset       string // Base asset, split from Symbol
	Quote       string // Quote currency, split from Symbol
	Qty         float64
	Price       float64
	Fee         float64
	FeeCurrency string
	Side        Side
	Timestamp   time.Time
}

// quoteSuffixes are the known quote currencies, tried longest-match first
// when splitting a trading pair symbol.
var quoteSuffixes = []string{
	"FDUSD", "USDT", "USDC", "BUSD", "TUSD",
	"USD", "EUR", "PLN", "DAI", "BTC", "ETH", "BNB",
}

// SplitSymbol splits a trading pair symbol into (asset, quote) by trying
// known quote suffixes longest-match first. A symbol with no recognized
// suffix is treated as an asset quoted in USD. Empty symbols fail with
// ErrMissingSymbol.
func SplitSymbol(symbol string) (asset, quote string, err error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", "", ErrMissingSymbol
	}

	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(symbol, suffix) && len(symbol) > len(suffix) {
			return symbol[:len(symbol)-len(suffix)], suffix, nil
		}
	}

	return symbol, "USD", nil
}

// TimeFromMillis converts an epoch-milliseconds timestamp as reported by
// exchange APIs. Zero and negative values fail with ErrUnparseableTimestamp.
func TimeFromMillis(ms int64) (time.Time, error) {
	if ms <= 0 {
		return time.Time{}, fmt.Errorf("%w: %d", ErrUnparseableTimestamp, ms)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// usdPegged is the set of quote currencies treated as USD for pricing.
var usdPegged = map[string]bool{
	"USD": true, "USDT": true, "USDC": true,
	"BUSD": true, "TUSD": true, "FDUSD": true, "DAI": true,
}

// IsUSDQuote reports whether a quote currency is USD or a USD-pegged
// stablecoin, i.e. whether fill prices can be recorded as USD directly.
func IsUSDQuote(quote string) bool {
	return usdPegged[strings.ToUpper(quote)]
}
