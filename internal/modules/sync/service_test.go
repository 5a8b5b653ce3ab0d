package sync

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/costbasis"
	"github.com/aristath/folio/internal/modules/ledger"
	"github.com/aristath/folio/internal/modules/valuation"
	"github.com/aristath/folio/internal/reliability"
)

const testSchema = `
CREATE TABLE transactions (
    id                    INTEGER PRIMARY KEY,
    exchange              TEXT    NOT NULL,
    asset                 TEXT    NOT NULL,
    amount                REAL    NOT NULL CHECK (amount > 0),
    price_usd             REAL    NOT NULL CHECK (price_usd > 0),
    type                  TEXT    NOT NULL CHECK (type IN ('buy', 'sell')),
    date                  TEXT    NOT NULL,
    value_usd             REAL    NOT NULL,
    commission            REAL    NOT NULL DEFAULT 0,
    commission_currency   TEXT    NOT NULL DEFAULT 'USD',
    exchange_rate_usd_pln REAL,
    value_pln             REAL,
    linked_buys           TEXT,
    source_order_id       TEXT,
    created_at            INTEGER NOT NULL
);
CREATE UNIQUE INDEX idx_transactions_order
    ON transactions(exchange, source_order_id)
    WHERE source_order_id IS NOT NULL;
CREATE TABLE ledger_meta (key TEXT PRIMARY KEY, value INTEGER NOT NULL);
INSERT INTO ledger_meta (key, value) VALUES ('next_transaction_id', 1);
`

// fakeClient serves canned fills, or a fixed error
type fakeClient struct {
	name  string
	fills []domain.RawFill
	err   error
	calls int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) TradeHistory(_ context.Context, _ string, _ int) ([]domain.RawFill, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.fills, nil
}

// fixedRates is a valuation rate source with one constant rate
type fixedRates struct{ mid float64 }

func (r fixedRates) USDToPLNRate(_ context.Context, _ string) (float64, bool, error) {
	return r.mid, r.mid > 0, nil
}

type noPrices struct{}

func (noPrices) CurrentPrice(_, _ string) (float64, bool) { return 0, false }

func setupService(t *testing.T, clients ...ExchangeClient) (*Service, *ledger.Repository) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	repo := ledger.NewRepository(db, zerolog.Nop())
	valuationSvc := valuation.NewService(fixedRates{mid: 4.0}, zerolog.Nop())
	costBasisSvc := costbasis.NewService(repo, noPrices{}, zerolog.Nop())
	retry := reliability.NewRetryPolicy(zerolog.Nop())
	retry.BaseDelay = time.Millisecond

	svc := NewService(clients, repo, valuationSvc, costBasisSvc, retry,
		[]string{"BTCUSDT"}, 500, zerolog.Nop())
	return svc, repo
}

func buyFill(exchange, orderID string, qty, price float64) domain.RawFill {
	return domain.RawFill{
		Exchange:    exchange,
		OrderID:     orderID,
		Symbol:      "BTCUSDT",
		Asset:       "BTC",
		Quote:       "USDT",
		Qty:         qty,
		Price:       price,
		Fee:         1.0,
		FeeCurrency: "USDT",
		Side:        domain.SideBuy,
		Timestamp:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRunAppendsAggregatedTrades(t *testing.T) {
	client := &fakeClient{name: "binance", fills: []domain.RawFill{
		buyFill("binance", "order-1", 0.5, 40000),
		buyFill("binance", "order-1", 0.5, 40000),
		buyFill("binance", "order-2", 1.0, 41000),
	}}
	svc, repo := setupService(t, client)

	report := svc.Run(context.Background())
	require.Len(t, report.Summaries, 1)
	assert.NotEmpty(t, report.RunID)

	summary := report.Summaries[0]
	assert.Equal(t, "binance", summary.Exchange)
	assert.Equal(t, 3, summary.Fetched)
	assert.Equal(t, 2, summary.Grouped)
	assert.Equal(t, 2, summary.Added)
	assert.Equal(t, 0, summary.SkippedDuplicate)
	assert.Equal(t, 0, summary.Failed)

	all, err := repo.GetAllTransactions()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "order-1", all[0].SourceOrderID)
	assert.InDelta(t, 1.0, all[0].Amount, 1e-9)
	require.NotNil(t, all[0].ExchangeRateUSDPLN)
	assert.InDelta(t, 4.0, *all[0].ExchangeRateUSDPLN, 1e-9)
	require.NotNil(t, all[0].ValuePLN)
	assert.InDelta(t, all[0].ValueUSD*4.0, *all[0].ValuePLN, 1e-6)
}

func TestRunIsIdempotent(t *testing.T) {
	client := &fakeClient{name: "binance", fills: []domain.RawFill{
		buyFill("binance", "order-1", 1.0, 40000),
		buyFill("binance", "order-2", 0.5, 41000),
	}}
	svc, repo := setupService(t, client)

	first := svc.Run(context.Background())
	assert.Equal(t, 2, first.Summaries[0].Added)

	second := svc.Run(context.Background())
	assert.Equal(t, 0, second.Summaries[0].Added)
	assert.Equal(t, 2, second.Summaries[0].SkippedDuplicate)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRunAuthFailureAbortsOneExchangeOnly(t *testing.T) {
	broken := &fakeClient{name: "bybit", err: &reliability.UpstreamError{
		Exchange: "bybit",
		Kind:     reliability.KindAuth,
		Err:      assert.AnError,
	}}
	healthy := &fakeClient{name: "binance", fills: []domain.RawFill{
		buyFill("binance", "order-1", 1.0, 40000),
	}}
	svc, repo := setupService(t, broken, healthy)

	report := svc.Run(context.Background())
	require.Len(t, report.Summaries, 2)

	byName := map[string]Summary{}
	for _, summary := range report.Summaries {
		byName[summary.Exchange] = summary
	}
	assert.NotEmpty(t, byName["bybit"].Error)
	assert.Equal(t, 0, byName["bybit"].Added)
	assert.Equal(t, 1, broken.calls, "auth failures are not retried")
	assert.Equal(t, 1, byName["binance"].Added)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	flaky := &fakeClient{name: "binance", err: &reliability.UpstreamError{
		Exchange: "binance",
		Kind:     reliability.KindTransient,
		Err:      assert.AnError,
	}}
	svc, _ := setupService(t, flaky)

	report := svc.Run(context.Background())
	assert.Equal(t, 1, report.Summaries[0].Failed)
	assert.Equal(t, 3, flaky.calls, "transient failures retry up to the attempt cap")
}

func TestRunSkipsNonUSDQuotes(t *testing.T) {
	fill := buyFill("binance", "order-1", 1.0, 0.05)
	fill.Symbol = "ETHBTC"
	fill.Asset = "ETH"
	fill.Quote = "BTC"

	client := &fakeClient{name: "binance", fills: []domain.RawFill{fill}}
	svc, repo := setupService(t, client)

	report := svc.Run(context.Background())
	assert.Equal(t, 1, report.Summaries[0].Grouped)
	assert.Equal(t, 0, report.Summaries[0].Added)
	assert.Equal(t, 1, report.Summaries[0].Failed)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDedupFilterPrefersOrderID(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	repo := ledger.NewRepository(db, zerolog.Nop())

	tx := ledger.Transaction{
		Exchange:      "binance",
		Asset:         "BTC",
		Amount:        1.0,
		PriceUSD:      40000,
		Type:          ledger.TypeBuy,
		Date:          "2024-03-01",
		SourceOrderID: "order-1",
	}
	_, err = repo.AddTransaction(tx)
	require.NoError(t, err)

	filter := NewDedupFilter(repo)

	// Same order id, different amount: still a duplicate
	changed := tx
	changed.Amount = 2.0
	dup, err := filter.IsDuplicate(changed)
	require.NoError(t, err)
	assert.True(t, dup)

	// No order id, same economic shape: heuristic match
	manual := tx
	manual.SourceOrderID = ""
	dup, err = filter.IsDuplicate(manual)
	require.NoError(t, err)
	assert.True(t, dup)

	// Different order id and different shape: not a duplicate
	fresh := tx
	fresh.SourceOrderID = "order-2"
	fresh.PriceUSD = 45000
	dup, err = filter.IsDuplicate(fresh)
	require.NoError(t, err)
	assert.False(t, dup)
}
