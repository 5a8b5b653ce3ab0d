package database

// schemas maps database names to their embedded schema definitions.
// Every statement must be idempotent (IF NOT EXISTS) because Migrate runs on
// every startup.
var schemas = map[string]string{
	"ledger": ledgerSchema,
	"cache":  cacheSchema,
}

// ledgerSchema defines the immutable transaction ledger.
//
// The transactions table is the persisted record shape relied on by export
// and migration tooling; renaming columns requires a migration step.
// next_transaction_id in ledger_meta is the explicit monotonic id counter:
// ids are never derived from row counts, so deletions never cause id reuse.
const ledgerSchema = `
CREATE TABLE IF NOT EXISTS transactions (
    id                    INTEGER PRIMARY KEY,
    exchange              TEXT    NOT NULL,
    asset                 TEXT    NOT NULL,
    amount                REAL    NOT NULL CHECK (amount > 0),
    price_usd             REAL    NOT NULL CHECK (price_usd > 0),
    type                  TEXT    NOT NULL CHECK (type IN ('buy', 'sell')),
    date                  TEXT    NOT NULL,
    value_usd             REAL    NOT NULL,
    commission            REAL    NOT NULL DEFAULT 0 CHECK (commission >= 0),
    commission_currency   TEXT    NOT NULL DEFAULT 'USD',
    exchange_rate_usd_pln REAL,
    value_pln             REAL,
    linked_buys           TEXT,
    source_order_id       TEXT,
    created_at            INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_key
    ON transactions(exchange, asset, type, date);
CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_order
    ON transactions(exchange, source_order_id)
    WHERE source_order_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS ledger_meta (
    key   TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);

INSERT OR IGNORE INTO ledger_meta (key, value) VALUES ('next_transaction_id', 1);
`

// cacheSchema holds ephemeral client data: historical FX rates and current
// prices, stored as JSON blobs with expiration timestamps.
const cacheSchema = `
CREATE TABLE IF NOT EXISTS exchange_rates (
    key        TEXT PRIMARY KEY,
    data       TEXT    NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS current_prices (
    key        TEXT PRIMARY KEY,
    data       TEXT    NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exchange_rates_expires ON exchange_rates(expires_at);
CREATE INDEX IF NOT EXISTS idx_current_prices_expires ON current_prices(expires_at);
`
