package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_email ON customers(lower(email));
`

const schemaAccounts = `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    balance REAL NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (customer_id, type)
);

CREATE INDEX IF NOT EXISTS idx_accounts_customer ON accounts(customer_id);
`

const schemaMerchants = `
CREATE TABLE IF NOT EXISTS merchants (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    category TEXT,
    risk_tier TEXT NOT NULL DEFAULT 'med'
);
`

const schemaDevices = `
CREATE TABLE IF NOT EXISTS devices (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
    fingerprint TEXT NOT NULL,
    label TEXT,
    first_seen TIMESTAMP NOT NULL,
    last_seen TIMESTAMP NOT NULL,
    UNIQUE (customer_id, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_devices_customer ON devices(customer_id);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    merchant_id TEXT REFERENCES merchants(id),
    device_id TEXT REFERENCES devices(id),
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    direction TEXT NOT NULL DEFAULT 'debit',
    status TEXT NOT NULL,
    ts TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_account_ts ON transactions(account_id, ts);
CREATE INDEX IF NOT EXISTS idx_transactions_ts ON transactions(ts);
`

// The unique (transaction_id, rule_code) pair is the alert ledger's
// correctness backstop under concurrent evaluation.
const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
    rule_code TEXT NOT NULL,
    severity TEXT NOT NULL,
    details TEXT,
    status TEXT NOT NULL DEFAULT 'open',
    created_at TIMESTAMP NOT NULL,
    UNIQUE (transaction_id, rule_code)
);

CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
`

const schemaNotifications = `
CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
    channel TEXT NOT NULL,
    title TEXT NOT NULL,
    body TEXT NOT NULL,
    meta TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_customer ON notifications(customer_id, created_at);
`

// AllSchemas returns all schema statements in dependency order.
func AllSchemas() []string {
	return []string{
		schemaCustomers,
		schemaAccounts,
		schemaMerchants,
		schemaDevices,
		schemaTransactions,
		schemaAlerts,
		schemaNotifications,
	}
}
