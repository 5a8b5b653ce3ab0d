package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/database"
)

// AmountTolerance is the absolute amount difference under which two
// same-fingerprint trades are treated as the same economic event. Absorbs
// rounding drift between exchange reports and ledger history.
const AmountTolerance = 1e-4

// transactionColumns lists the columns of the transactions table.
// Column order must match the scan functions below.
const transactionColumns = `id, exchange, asset, amount, price_usd, type, date, value_usd,
	commission, commission_currency, exchange_rate_usd_pln, value_pln, linked_buys,
	source_order_id, created_at`

// Repository handles transaction ledger database operations.
// All writes are serialized behind a single mutex so id allocation stays
// monotonic under concurrent syncs.
type Repository struct {
	ledgerDB *sql.DB
	mu       sync.Mutex
	log      zerolog.Logger
}

// NewRepository creates a new ledger repository
func NewRepository(ledgerDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "ledger").Logger(),
	}
}

// AddTransaction validates and appends a transaction, allocating its id from
// the persisted monotonic counter. The counter read, increment and insert
// happen in one SQL transaction: append is all-or-nothing.
func (r *Repository) AddTransaction(tx Transaction) (*Transaction, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	err := database.WithTransaction(r.ledgerDB, func(sqlTx *sql.Tx) error {
		var nextID int64
		err := sqlTx.QueryRow(
			`SELECT value FROM ledger_meta WHERE key = 'next_transaction_id'`,
		).Scan(&nextID)
		if err != nil {
			return fmt.Errorf("failed to read id counter: %w", err)
		}

		linkedBuys, err := marshalLinkedBuys(tx.LinkedBuys)
		if err != nil {
			return err
		}

		_, err = sqlTx.Exec(`
			INSERT INTO transactions
			(id, exchange, asset, amount, price_usd, type, date, value_usd,
			 commission, commission_currency, exchange_rate_usd_pln, value_pln,
			 linked_buys, source_order_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nextID,
			tx.Exchange,
			tx.Asset,
			tx.Amount,
			tx.PriceUSD,
			string(tx.Type),
			tx.Date,
			tx.ValueUSD,
			tx.Commission,
			tx.CommissionCurrency,
			tx.ExchangeRateUSDPLN,
			tx.ValuePLN,
			linkedBuys,
			nullString(tx.SourceOrderID),
			now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}

		_, err = sqlTx.Exec(
			`UPDATE ledger_meta SET value = ? WHERE key = 'next_transaction_id'`,
			nextID+1,
		)
		if err != nil {
			return fmt.Errorf("failed to advance id counter: %w", err)
		}

		tx.ID = nextID
		return nil
	})
	if err != nil {
		return nil, err
	}

	tx.CreatedAt = &now

	r.log.Info().
		Int64("id", tx.ID).
		Str("exchange", tx.Exchange).
		Str("asset", tx.Asset).
		Str("type", string(tx.Type)).
		Float64("amount", tx.Amount).
		Msg("Transaction appended")

	return &tx, nil
}

// DeleteTransaction removes a transaction by id. The id counter is never
// decremented, so the id is never reused.
func (r *Repository) DeleteTransaction(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.ledgerDB.Exec(`DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("transaction %d not found", id)
	}

	r.log.Info().Int64("id", id).Msg("Transaction deleted")
	return nil
}

// GetAllTransactions returns the full ledger ordered by date ascending, ties
// broken by id ascending. This is the replay order the cost basis engine
// depends on.
func (r *Repository) GetAllTransactions() ([]Transaction, error) {
	rows, err := r.ledgerDB.Query(
		"SELECT " + transactionColumns + " FROM transactions ORDER BY date ASC, id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// GetTransactionsForKey returns the ledger entries for one (exchange, asset)
// in replay order.
func (r *Repository) GetTransactionsForKey(exchange, asset string) ([]Transaction, error) {
	rows, err := r.ledgerDB.Query(
		"SELECT "+transactionColumns+
			" FROM transactions WHERE exchange = ? AND asset = ? ORDER BY date ASC, id ASC",
		exchange, asset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions for %s/%s: %w", exchange, asset, err)
	}
	defer rows.Close()

	var transactions []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// ExistsOrderID checks whether a transaction from the given exchange order is
// already recorded. This is the preferred dedup key when the source supplies
// an order id.
func (r *Repository) ExistsOrderID(exchange, orderID string) (bool, error) {
	if orderID == "" {
		return false, nil
	}

	var one int
	err := r.ledgerDB.QueryRow(
		`SELECT 1 FROM transactions WHERE exchange = ? AND source_order_id = ? LIMIT 1`,
		exchange, orderID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check order id: %w", err)
	}
	return true, nil
}

// FindDuplicate checks for an existing transaction matching the candidate's
// heuristic fingerprint: same exchange, asset, type and calendar day, price
// equal to 8 decimals, amount within AmountTolerance.
func (r *Repository) FindDuplicate(candidate Transaction) (bool, error) {
	rows, err := r.ledgerDB.Query(
		`SELECT amount, price_usd FROM transactions
		 WHERE exchange = ? AND asset = ? AND type = ? AND date = ?`,
		candidate.Exchange, candidate.Asset, string(candidate.Type), candidate.Date,
	)
	if err != nil {
		return false, fmt.Errorf("failed to query duplicate candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var amount, price float64
		if err := rows.Scan(&amount, &price); err != nil {
			return false, fmt.Errorf("failed to scan duplicate candidate: %w", err)
		}
		if math.Abs(amount-candidate.Amount) <= AmountTolerance &&
			round8(price) == round8(candidate.PriceUSD) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// SetLinkedBuys records which buy lots a sell consumed. This is the only
// permitted mutation of an existing transaction besides delete.
func (r *Repository) SetLinkedBuys(id int64, buyIDs []int64) error {
	linkedBuys, err := marshalLinkedBuys(buyIDs)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.ledgerDB.Exec(`UPDATE transactions SET linked_buys = ? WHERE id = ?`, linkedBuys, id)
	if err != nil {
		return fmt.Errorf("failed to set linked buys for %d: %w", id, err)
	}
	return nil
}

// Count returns the number of ledger entries
func (r *Repository) Count() (int, error) {
	var count int
	err := r.ledgerDB.QueryRow(`SELECT COUNT(*) FROM transactions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// scanTransaction reads one row in transactionColumns order
func scanTransaction(rows *sql.Rows) (Transaction, error) {
	var tx Transaction
	var txType string
	var rate, valuePLN sql.NullFloat64
	var linkedBuys, orderID sql.NullString
	var createdAt int64

	err := rows.Scan(
		&tx.ID, &tx.Exchange, &tx.Asset, &tx.Amount, &tx.PriceUSD, &txType,
		&tx.Date, &tx.ValueUSD, &tx.Commission, &tx.CommissionCurrency,
		&rate, &valuePLN, &linkedBuys, &orderID, &createdAt,
	)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Type = TransactionType(txType)
	if rate.Valid {
		tx.ExchangeRateUSDPLN = &rate.Float64
	}
	if valuePLN.Valid {
		tx.ValuePLN = &valuePLN.Float64
	}
	if orderID.Valid {
		tx.SourceOrderID = orderID.String
	}
	if linkedBuys.Valid && linkedBuys.String != "" {
		if err := json.Unmarshal([]byte(linkedBuys.String), &tx.LinkedBuys); err != nil {
			return Transaction{}, fmt.Errorf("failed to decode linked buys for %d: %w", tx.ID, err)
		}
	}
	created := time.Unix(createdAt, 0).UTC()
	tx.CreatedAt = &created

	return tx, nil
}

func marshalLinkedBuys(ids []int64) (interface{}, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to encode linked buys: %w", err)
	}
	return string(data), nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
