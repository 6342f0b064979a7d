// Package domain defines the core entities and interfaces for Harrier.
package domain

import (
	"time"
)

// Customer owns accounts, devices, and notifications.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"` // unique, matched case-insensitively
	CreatedAt time.Time `json:"createdAt"`
}

// Account types supported by the ledger.
const (
	AccountChecking = "checking"
	AccountSavings  = "savings"
	AccountCredit   = "credit"
)

// Account is a customer's monetary account. A customer holds at most one
// account per type.
type Account struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	Balance    float64   `json:"balance"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Merchant risk tiers used to scale alert severity.
const (
	RiskLow  = "low"
	RiskMed  = "med"
	RiskHigh = "high"
)

// Merchant is a counterparty with an assigned risk tier.
type Merchant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	RiskTier string `json:"riskTier"`
}

// NormalizeRiskTier maps arbitrary input to a known tier, defaulting to med.
func NormalizeRiskTier(tier string) string {
	switch tier {
	case RiskLow, RiskMed, RiskHigh:
		return tier
	default:
		return RiskMed
	}
}
