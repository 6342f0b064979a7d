package domain

import (
	"context"
	"time"
)

// Alert severities.
const (
	SeverityLow  = "low"
	SeverityMed  = "med"
	SeverityHigh = "high"
)

// Alert lifecycle statuses. An alert opens when a rule first fires; clearing
// or confirming it belongs to the reviewer workflow.
const (
	AlertOpen      = "open"
	AlertCleared   = "cleared"
	AlertConfirmed = "confirmed"
)

// Alert is the durable record of a rule firing for a transaction.
// The pair (TransactionID, RuleCode) is unique: a rule fires for a given
// transaction at most once, ever.
type Alert struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transactionId"`
	RuleCode      string         `json:"ruleCode"`
	Severity      string         `json:"severity"`
	Details       map[string]any `json:"details,omitempty"`
	Status        string         `json:"status"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Notification is a best-effort user-facing message. Append-only, no dedup:
// suppressing repeats is the caller's concern, not the sink's.
type Notification struct {
	ID         string         `json:"id"`
	CustomerID string         `json:"customerId"`
	Channel    string         `json:"channel"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Meta       map[string]any `json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// NotificationSink appends user-facing messages. Implementations must treat
// delivery as best-effort; a sink failure never rolls back the alert it
// accompanies.
type NotificationSink interface {
	Notify(ctx context.Context, customerID, channel, title, body string, meta map[string]any) error
}
