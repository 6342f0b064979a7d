package domain

import (
	"time"
)

// Transaction directions.
const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
)

// Transaction is an immutable ledger fact. It reaches its customer via the
// owning account; merchant and device are optional.
type Transaction struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"accountId"`
	MerchantID string    `json:"merchantId,omitempty"`
	DeviceID   string    `json:"deviceId,omitempty"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	Direction  string    `json:"direction"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	CreatedAt  time.Time `json:"createdAt"`
}

// BalanceDelta is the signed effect of posting this transaction:
// credits add, debits subtract.
func (t *Transaction) BalanceDelta() float64 {
	if t.Direction == DirectionCredit {
		return t.Amount
	}
	return -t.Amount
}

// TransactionRequest is the API payload for recording a transaction.
type TransactionRequest struct {
	AccountID   string  `json:"accountId"`
	MerchantID  string  `json:"merchantId,omitempty"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Direction   string  `json:"direction,omitempty"`
	Status      string  `json:"status,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"` // RFC 3339; defaults to now
	Fingerprint string  `json:"fingerprint,omitempty"`
	DeviceLabel string  `json:"deviceLabel,omitempty"`
}

// ToTransaction converts a request to a Transaction, applying defaults.
// The device, if any, is resolved separately from the fingerprint.
func (r *TransactionRequest) ToTransaction(now time.Time) *Transaction {
	direction := r.Direction
	if direction != DirectionCredit {
		direction = DirectionDebit
	}

	status := r.Status
	if status == "" {
		status = "approved"
	}

	ts := now
	if r.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
			ts = parsed.UTC()
		}
	}

	return &Transaction{
		AccountID:  r.AccountID,
		MerchantID: r.MerchantID,
		Amount:     r.Amount,
		Currency:   r.Currency,
		Direction:  direction,
		Status:     status,
		Timestamp:  ts,
		CreatedAt:  now,
	}
}
