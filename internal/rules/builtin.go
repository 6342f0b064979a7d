package rules

import (
	"fmt"
	"time"

	"github.com/harrierhq/harrier/internal/domain"
)

// AmountSpikeRule fires when a single transaction exceeds a fixed high-value
// threshold. Strictly greater: an amount exactly at the threshold passes.
type AmountSpikeRule struct {
	Threshold float64
}

func (r *AmountSpikeRule) Code() string { return CodeAmountSpike }

func (r *AmountSpikeRule) Evaluate(ec *domain.EvalContext) *domain.AlertDraft {
	tx := ec.Transaction
	if tx.Amount <= r.Threshold {
		return nil
	}
	return &domain.AlertDraft{
		RuleCode: r.Code(),
		Severity: domain.SeverityHigh,
		Details: map[string]any{
			"amount":    tx.Amount,
			"currency":  tx.Currency,
			"threshold": r.Threshold,
		},
	}
}

// NewDeviceRule fires when the transaction rides a device first seen within
// the recency window of the evaluation time. The only notifying rule in the
// built-in set: customers should hear about sign-ins from devices they have
// never used before.
type NewDeviceRule struct {
	Window time.Duration
}

func (r *NewDeviceRule) Code() string { return CodeNewDevice }

func (r *NewDeviceRule) Evaluate(ec *domain.EvalContext) *domain.AlertDraft {
	d := ec.Device
	if d == nil {
		return nil
	}
	if d.Age(ec.EvalTime) > r.Window {
		return nil
	}
	return &domain.AlertDraft{
		RuleCode: r.Code(),
		Severity: domain.SeverityMed,
		Details: map[string]any{
			"deviceId":  d.ID,
			"firstSeen": d.FirstSeen,
		},
		Notification: &domain.NotificationDraft{
			Channel: "ui",
			Title:   "New device used",
			Body: fmt.Sprintf("A device not seen before was used for a %s %.2f %s transaction.",
				ec.Transaction.Direction, ec.Transaction.Amount, ec.Transaction.Currency),
			Meta: map[string]any{
				"deviceId":      d.ID,
				"deviceLabel":   d.Label,
				"transactionId": ec.Transaction.ID,
				"ruleCode":      r.Code(),
			},
		},
	}
}

// VelocityRule fires when the account accumulates Count or more transactions
// inside the window ending at the triggering transaction's own timestamp.
// Anchoring at the transaction timestamp, not the evaluation clock, keeps
// backfill evaluation honest.
type VelocityRule struct {
	Count  int
	Window time.Duration
}

func (r *VelocityRule) Code() string { return CodeVelocity }

func (r *VelocityRule) Evaluate(ec *domain.EvalContext) *domain.AlertDraft {
	count := len(ec.WindowTransactions)
	if count < r.Count {
		return nil
	}
	return &domain.AlertDraft{
		RuleCode: r.Code(),
		Severity: domain.SeverityMed,
		Details: map[string]any{
			"count":  count,
			"window": r.Window.String(),
		},
	}
}

// SpikeVsAvgRule fires when the amount dwarfs the account's rolling average.
// Severity scales with the merchant's risk tier: a large amount at a
// low-risk merchant is more anomalous than the same amount at one where
// large tickets are routine.
type SpikeVsAvgRule struct {
	Multiplier float64
}

func (r *SpikeVsAvgRule) Code() string { return CodeSpikeVsAvg }

func (r *SpikeVsAvgRule) Evaluate(ec *domain.EvalContext) *domain.AlertDraft {
	avg := ec.RollingAvgAmount
	amount := ec.Transaction.Amount
	if avg <= 0 || amount < avg*r.Multiplier {
		return nil
	}

	ratio := amount / avg
	return &domain.AlertDraft{
		RuleCode: r.Code(),
		Severity: spikeSeverity(ratio, ec.MerchantRiskTier),
		Details: map[string]any{
			"amount":     amount,
			"rollingAvg": avg,
			"ratio":      ratio,
		},
	}
}

func spikeSeverity(ratio float64, tier string) string {
	switch tier {
	case domain.RiskLow:
		if ratio >= 2.0 {
			return domain.SeverityHigh
		}
		return domain.SeverityMed
	case domain.RiskHigh:
		if ratio >= 4.0 {
			return domain.SeverityMed
		}
		return domain.SeverityLow
	default:
		if ratio >= 3.0 {
			return domain.SeverityHigh
		}
		return domain.SeverityMed
	}
}
