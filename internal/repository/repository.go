// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harrierhq/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// CreateCustomer stores a new customer.
func (r *SQLRepository) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	if c.Name == "" || c.Email == "" {
		return fmt.Errorf("%w: name and email are required", ErrInvalidInput)
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO customers (id, name, email, created_at) VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query), c.ID, c.Name, c.Email, c.CreatedAt)
	return err
}

// GetCustomer retrieves a customer by ID.
func (r *SQLRepository) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	query := `SELECT id, name, email, created_at FROM customers WHERE id = ?`

	var c domain.Customer
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&c.ID, &c.Name, &c.Email, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateAccount stores a new account. The unique (customer_id, type)
// constraint rejects a second account of the same type for a customer.
func (r *SQLRepository) CreateAccount(ctx context.Context, a *domain.Account) error {
	if a.CustomerID == "" || a.Type == "" {
		return fmt.Errorf("%w: customerId and type are required", ErrInvalidInput)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = "active"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO accounts (id, customer_id, type, status, balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.CustomerID, a.Type, a.Status, a.Balance, a.CreatedAt,
	)
	return err
}

// GetAccount retrieves an account by ID.
func (r *SQLRepository) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT id, customer_id, type, status, balance, created_at FROM accounts WHERE id = ?`

	var a domain.Account
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&a.ID, &a.CustomerID, &a.Type, &a.Status, &a.Balance, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// AdjustBalance applies a signed delta to an account's balance.
func (r *SQLRepository) AdjustBalance(ctx context.Context, accountID string, delta float64) error {
	query := `UPDATE accounts SET balance = balance + ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), delta, accountID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return nil
}

// CreateMerchant stores a new merchant.
func (r *SQLRepository) CreateMerchant(ctx context.Context, m *domain.Merchant) error {
	if m.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.RiskTier = domain.NormalizeRiskTier(m.RiskTier)

	query := `INSERT INTO merchants (id, name, category, risk_tier) VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query), m.ID, m.Name, m.Category, m.RiskTier)
	return err
}

// GetMerchant retrieves a merchant by ID.
func (r *SQLRepository) GetMerchant(ctx context.Context, id string) (*domain.Merchant, error) {
	query := `SELECT id, name, category, risk_tier FROM merchants WHERE id = ?`

	var m domain.Merchant
	var category sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&m.ID, &m.Name, &category, &m.RiskTier,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("merchant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	m.Category = category.String
	return &m, nil
}

// ResolveDevice implements the registry's insert-if-absent-else-touch
// contract as a single upsert. The unique (customer_id, fingerprint)
// constraint guarantees at most one row per pair even under concurrent
// calls; first_seen is written once and never part of the update.
func (r *SQLRepository) ResolveDevice(ctx context.Context, customerID, fingerprint, label string) (*domain.Device, error) {
	if customerID == "" || fingerprint == "" {
		return nil, fmt.Errorf("%w: customerId and fingerprint are required", ErrInvalidInput)
	}

	// The customer FK is checked explicitly so the caller gets NotFound
	// instead of a driver-specific constraint error.
	if _, err := r.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO devices (id, customer_id, fingerprint, label, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (customer_id, fingerprint) DO UPDATE SET last_seen = excluded.last_seen
		RETURNING id, customer_id, fingerprint, label, first_seen, last_seen
	`

	var d domain.Device
	var lbl sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		uuid.New().String(), customerID, fingerprint, nullable(label), now, now,
	).Scan(&d.ID, &d.CustomerID, &d.Fingerprint, &lbl, &d.FirstSeen, &d.LastSeen)
	if err != nil {
		return nil, err
	}
	d.Label = lbl.String
	return &d, nil
}

// GetDevice retrieves a device by ID.
func (r *SQLRepository) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	query := `SELECT id, customer_id, fingerprint, label, first_seen, last_seen FROM devices WHERE id = ?`

	var d domain.Device
	var lbl sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&d.ID, &d.CustomerID, &d.Fingerprint, &lbl, &d.FirstSeen, &d.LastSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	d.Label = lbl.String
	return &d, nil
}

// ListDevices retrieves a customer's devices, most recently seen first.
func (r *SQLRepository) ListDevices(ctx context.Context, customerID string, limit int) ([]*domain.Device, error) {
	query := `
		SELECT id, customer_id, fingerprint, label, first_seen, last_seen
		FROM devices
		WHERE customer_id = ?
		ORDER BY last_seen DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		var d domain.Device
		var lbl sql.NullString
		if err := rows.Scan(&d.ID, &d.CustomerID, &d.Fingerprint, &lbl, &d.FirstSeen, &d.LastSeen); err != nil {
			return nil, err
		}
		d.Label = lbl.String
		devices = append(devices, &d)
	}
	return devices, rows.Err()
}

// CreateTransaction stores a transaction row.
func (r *SQLRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.AccountID == "" {
		return fmt.Errorf("%w: accountId is required", ErrInvalidInput)
	}
	if tx.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = tx.Timestamp
	}

	query := `
		INSERT INTO transactions (
			id, account_id, merchant_id, device_id,
			amount, currency, direction, status, ts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.AccountID, nullable(tx.MerchantID), nullable(tx.DeviceID),
		tx.Amount, tx.Currency, tx.Direction, tx.Status, tx.Timestamp, tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `
		SELECT id, account_id, merchant_id, device_id,
		       amount, currency, direction, status, ts, created_at
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var merchantID, deviceID sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&tx.ID, &tx.AccountID, &merchantID, &deviceID,
		&tx.Amount, &tx.Currency, &tx.Direction, &tx.Status, &tx.Timestamp, &tx.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	tx.MerchantID = merchantID.String
	tx.DeviceID = deviceID.String
	return &tx, nil
}

// ListTransactions retrieves recent transactions, newest first.
func (r *SQLRepository) ListTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	query := `
		SELECT id, account_id, merchant_id, device_id,
		       amount, currency, direction, status, ts, created_at
		FROM transactions
		ORDER BY ts DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// TransactionsInWindow retrieves an account's transactions with timestamps
// in [from, to], both bounds inclusive, oldest first. This is the velocity
// rule's point-in-time snapshot read.
func (r *SQLRepository) TransactionsInWindow(ctx context.Context, accountID string, from, to time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT id, account_id, merchant_id, device_id,
		       amount, currency, direction, status, ts, created_at
		FROM transactions
		WHERE account_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// AvgAmountSince returns the account's average transaction amount since the
// given time, or zero when there is no history.
func (r *SQLRepository) AvgAmountSince(ctx context.Context, accountID string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(AVG(amount), 0)
		FROM transactions
		WHERE account_id = ? AND ts >= ?
	`

	var avg float64
	err := r.db.QueryRowContext(ctx, r.rebind(query), accountID, since).Scan(&avg)
	if err != nil {
		return 0, err
	}
	return avg, nil
}

// CreateAlertIfAbsent records an alert unless one already exists for the
// (transaction_id, rule_code) pair. The uniqueness constraint enforces the
// contract atomically; a rejected duplicate is reported as created=false
// with the existing alert's id, never as an error.
func (r *SQLRepository) CreateAlertIfAbsent(ctx context.Context, a *domain.Alert) (bool, string, error) {
	if a.TransactionID == "" || a.RuleCode == "" {
		return false, "", fmt.Errorf("%w: transactionId and ruleCode are required", ErrInvalidInput)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = domain.AlertOpen
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	details, _ := json.Marshal(a.Details)

	query := `
		INSERT INTO alerts (id, transaction_id, rule_code, severity, details, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id, rule_code) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.TransactionID, a.RuleCode, a.Severity, string(details), a.Status, a.CreatedAt,
	)
	if err != nil {
		return false, "", err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, "", err
	}
	if rows > 0 {
		return true, a.ID, nil
	}

	// Already recorded: surface the existing alert's id.
	var existingID string
	lookup := `SELECT id FROM alerts WHERE transaction_id = ? AND rule_code = ?`
	err = r.db.QueryRowContext(ctx, r.rebind(lookup), a.TransactionID, a.RuleCode).Scan(&existingID)
	if err != nil {
		return false, "", err
	}
	return false, existingID, nil
}

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, id string) (*domain.Alert, error) {
	query := `
		SELECT id, transaction_id, rule_code, severity, details, status, created_at
		FROM alerts
		WHERE id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return a, err
}

// ListAlerts retrieves alerts ordered by creation time descending,
// optionally filtered by status.
func (r *SQLRepository) ListAlerts(ctx context.Context, status string, limit int) ([]*domain.Alert, error) {
	query := `
		SELECT id, transaction_id, rule_code, severity, details, status, created_at
		FROM alerts
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, normalizeLimit(limit))

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// UpdateAlertStatus transitions an alert's lifecycle status.
func (r *SQLRepository) UpdateAlertStatus(ctx context.Context, id, status string) error {
	switch status {
	case domain.AlertOpen, domain.AlertCleared, domain.AlertConfirmed:
	default:
		return fmt.Errorf("%w: unknown alert status %q", ErrInvalidInput, status)
	}

	query := `UPDATE alerts SET status = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), status, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateNotification appends a notification row.
func (r *SQLRepository) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if n.CustomerID == "" {
		return fmt.Errorf("%w: customerId is required", ErrInvalidInput)
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	meta, _ := json.Marshal(n.Meta)

	query := `
		INSERT INTO notifications (id, customer_id, channel, title, body, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		n.ID, n.CustomerID, n.Channel, n.Title, n.Body, string(meta), n.CreatedAt,
	)
	return err
}

// ListNotifications retrieves a customer's notifications, newest first.
func (r *SQLRepository) ListNotifications(ctx context.Context, customerID string, limit int) ([]*domain.Notification, error) {
	query := `
		SELECT id, customer_id, channel, title, body, meta, created_at
		FROM notifications
		WHERE customer_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		var meta sql.NullString
		if err := rows.Scan(&n.ID, &n.CustomerID, &n.Channel, &n.Title, &n.Body, &meta, &n.CreatedAt); err != nil {
			return nil, err
		}
		if meta.String != "" {
			json.Unmarshal([]byte(meta.String), &n.Meta)
		}
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (*domain.Alert, error) {
	var a domain.Alert
	var details sql.NullString
	err := row.Scan(&a.ID, &a.TransactionID, &a.RuleCode, &a.Severity, &details, &a.Status, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if details.String != "" {
		json.Unmarshal([]byte(details.String), &a.Details)
	}
	return &a, nil
}

func scanTransactions(rows *sql.Rows) ([]*domain.Transaction, error) {
	var transactions []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var merchantID, deviceID sql.NullString
		if err := rows.Scan(
			&tx.ID, &tx.AccountID, &merchantID, &deviceID,
			&tx.Amount, &tx.Currency, &tx.Direction, &tx.Status, &tx.Timestamp, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		tx.MerchantID = merchantID.String
		tx.DeviceID = deviceID.String
		transactions = append(transactions, &tx)
	}
	return transactions, rows.Err()
}

// nullable maps an empty string to NULL for optional FK columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
