package domain

import (
	"time"
)

// EvalContext is everything a rule may consult, loaded once per evaluation.
// Rules are pure functions of this snapshot: they never reach back into
// storage and they all agree on the same EvalTime.
type EvalContext struct {
	// Transaction under evaluation, with its owning account and customer.
	Transaction *Transaction
	Account     *Account
	CustomerID  string

	// Device attached to the transaction, nil when it has none.
	Device *Device

	// WindowTransactions are the account's transactions inside the velocity
	// window anchored at the transaction's own timestamp, inclusive of the
	// triggering transaction.
	WindowTransactions []*Transaction

	// RollingAvgAmount is the account's average transaction amount over the
	// configured lookback, zero when there is no history.
	RollingAvgAmount float64

	// MerchantRiskTier is the normalized risk tier of the transaction's
	// merchant, RiskMed when the transaction has none.
	MerchantRiskTier string

	// EvalTime is the wall clock captured once when the evaluation started.
	EvalTime time.Time
}

// NotificationDraft is the user-facing message a rule wants delivered on its
// first firing.
type NotificationDraft struct {
	Channel string
	Title   string
	Body    string
	Meta    map[string]any
}

// AlertDraft is an in-memory candidate alert produced by a rule, not yet
// durably recorded.
type AlertDraft struct {
	RuleCode string
	Severity string
	Details  map[string]any

	// Notification, when non-nil, is delivered only if the draft is newly
	// recorded, never on a deduplicated repeat.
	Notification *NotificationDraft
}

// EvalResult reports one orchestrated evaluation of a transaction.
type EvalResult struct {
	TransactionID string   `json:"transactionId"`
	Created       []*Alert `json:"created"`
	RulesRun      int      `json:"rulesRun"`
	EvalMs        int64    `json:"evalMs"`
}
