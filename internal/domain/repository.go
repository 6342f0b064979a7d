package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
//
// The two conditional writes -- ResolveDevice and CreateAlertIfAbsent -- are
// the system's only serialization points. Implementations must back them with
// uniqueness constraints, not read-then-write sequences, so they stay correct
// under concurrent evaluation of the same transaction or device.
type Repository interface {
	// Customer operations
	CreateCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, id string) (*Customer, error)

	// Account operations
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	AdjustBalance(ctx context.Context, accountID string, delta float64) error

	// Merchant operations
	CreateMerchant(ctx context.Context, m *Merchant) error
	GetMerchant(ctx context.Context, id string) (*Merchant, error)

	// Device registry: atomic insert-if-absent, else touch last_seen.
	// Returns the device whether it was created or already existed.
	ResolveDevice(ctx context.Context, customerID, fingerprint, label string) (*Device, error)
	GetDevice(ctx context.Context, id string) (*Device, error)
	ListDevices(ctx context.Context, customerID string, limit int) ([]*Device, error)

	// Transaction operations
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]*Transaction, error)
	TransactionsInWindow(ctx context.Context, accountID string, from, to time.Time) ([]*Transaction, error)
	AvgAmountSince(ctx context.Context, accountID string, since time.Time) (float64, error)

	// Alert ledger: atomic insert-if-absent on (transaction_id, rule_code).
	// A duplicate reports created=false with the existing alert's id, never
	// an error.
	CreateAlertIfAbsent(ctx context.Context, a *Alert) (created bool, id string, err error)
	GetAlert(ctx context.Context, id string) (*Alert, error)
	ListAlerts(ctx context.Context, status string, limit int) ([]*Alert, error)
	UpdateAlertStatus(ctx context.Context, id, status string) error

	// Notification operations
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, customerID string, limit int) ([]*Notification, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
