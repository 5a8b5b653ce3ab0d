// Package clientdata provides persistent caching for external API client
// responses. All data is stored as JSON blobs with expiration timestamps for
// cache-first behavior.
package clientdata

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Cache tables in cache.db
const (
	TableExchangeRates = "exchange_rates"
	TableCurrentPrices = "current_prices"
)

// AllTables lists all cache tables for cleanup operations
var AllTables = []string{
	TableExchangeRates,
	TableCurrentPrices,
}

// TTL constants for different data types
const (
	// TTLHistoricalRate - historical FX rates are facts and never change;
	// a year keeps the table bounded without refetching the same dates
	TTLHistoricalRate = 365 * 24 * time.Hour
	// TTLCurrentPrice - current price cache for unrealized P&L
	TTLCurrentPrice = 10 * time.Minute
)

// validTables is a set for table name validation, preventing SQL injection
// through table names.
var validTables = func() map[string]bool {
	m := make(map[string]bool, len(AllTables))
	for _, t := range AllTables {
		m[t] = true
	}
	return m
}()

// Repository provides cache operations for client data
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new client data repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func validateTable(table string) error {
	if !validTables[table] {
		return fmt.Errorf("invalid table name: %s", table)
	}
	return nil
}

// Store saves data with expiration = now + ttl, upserting on conflict
func (r *Repository) Store(table, key string, data interface{}, ttl time.Duration) error {
	if err := validateTable(table); err != nil {
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	expiresAt := time.Now().Add(ttl).Unix()

	query := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (key, data, expires_at) VALUES (?, ?, ?)",
		table,
	)
	if _, err := r.db.Exec(query, key, string(jsonData), expiresAt); err != nil {
		return fmt.Errorf("failed to store data in %s: %w", table, err)
	}

	return nil
}

// GetIfFresh returns data only if expires_at > now; nil, nil if the key does
// not exist or the data is expired.
func (r *Repository) GetIfFresh(table, key string) (json.RawMessage, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	query := fmt.Sprintf("SELECT data FROM %s WHERE key = ? AND expires_at > ?", table)

	var data string
	err := r.db.QueryRow(query, key, now).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get data from %s: %w", table, err)
	}

	return json.RawMessage(data), nil
}

// DeleteAllExpired removes expired entries from every cache table and
// returns per-table deletion counts.
func (r *Repository) DeleteAllExpired() (map[string]int64, error) {
	now := time.Now().Unix()
	results := make(map[string]int64, len(AllTables))

	var failures []string
	for _, table := range AllTables {
		query := fmt.Sprintf("DELETE FROM %s WHERE expires_at <= ?", table)
		res, err := r.db.Exec(query, now)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", table, err))
			continue
		}
		deleted, _ := res.RowsAffected()
		results[table] = deleted
	}

	if len(failures) > 0 {
		return results, fmt.Errorf("cleanup failed for: %s", strings.Join(failures, "; "))
	}
	return results, nil
}

// cachedPrice is the structure stored in the current_prices table
type cachedPrice struct {
	Price float64 `json:"price"`
}

// StorePrice caches a current price for (exchange, asset)
func (r *Repository) StorePrice(exchange, asset string, price float64) error {
	return r.Store(TableCurrentPrices, priceKey(exchange, asset), cachedPrice{Price: price}, TTLCurrentPrice)
}

// CurrentPrice returns a fresh cached price for (exchange, asset).
// Satisfies the cost basis service's price source.
func (r *Repository) CurrentPrice(exchange, asset string) (float64, bool) {
	data, err := r.GetIfFresh(TableCurrentPrices, priceKey(exchange, asset))
	if err != nil || data == nil {
		return 0, false
	}

	var cached cachedPrice
	if err := json.Unmarshal(data, &cached); err != nil {
		return 0, false
	}
	return cached.Price, true
}

func priceKey(exchange, asset string) string {
	return strings.ToLower(exchange) + ":" + strings.ToUpper(asset)
}
