// Package engine orchestrates fraud rule evaluation for recorded
// transactions.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harrierhq/harrier/internal/domain"
	"github.com/harrierhq/harrier/internal/rules"
)

var tracer = otel.Tracer("harrier-engine")

// Engine runs the registered rule set against a transaction and materializes
// alerts and notifications. The whole operation is idempotent: re-evaluating
// a transaction reports an empty newly-created set while the alerts persist.
type Engine struct {
	repo     domain.Repository
	sink     domain.NotificationSink
	cache    domain.Cache
	ruleSet  []rules.Rule
	cfg      domain.RulesConfig
	cacheTTL time.Duration
}

// New creates an evaluation engine. The rule set is sorted by code so
// evaluation order is deterministic. cache may be nil.
func New(repo domain.Repository, sink domain.NotificationSink, cache domain.Cache, ruleSet []rules.Rule, cfg domain.RulesConfig) *Engine {
	rules.Sort(ruleSet)
	return &Engine{
		repo:     repo,
		sink:     sink,
		cache:    cache,
		ruleSet:  ruleSet,
		cfg:      cfg,
		cacheTTL: 5 * time.Minute,
	}
}

// RulesCount returns the number of registered rules.
func (e *Engine) RulesCount() int {
	return len(e.ruleSet)
}

// Evaluate runs every registered rule against the transaction and persists
// the drafts that fired. It returns the alerts newly created by this call;
// drafts already recorded by an earlier call are deduplicated by the alert
// ledger and do not reappear.
//
// A failure persisting one rule's draft never stops the remaining rules, and
// a notification failure never affects alert durability.
func (e *Engine) Evaluate(ctx context.Context, txID string) (*domain.EvalResult, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "engine.evaluate",
		trace.WithAttributes(attribute.String("transaction.id", txID)),
	)
	defer span.End()

	ec, err := e.loadContext(ctx, txID)
	if err != nil {
		return nil, err
	}

	result := &domain.EvalResult{
		TransactionID: txID,
		RulesRun:      len(e.ruleSet),
	}

	for _, rule := range e.ruleSet {
		// Abandoning mid-ruleset is safe: a retry re-runs the full set and
		// the ledger absorbs the drafts already recorded.
		if err := ctx.Err(); err != nil {
			return result, err
		}

		draft := evaluateIsolated(rule, ec)
		if draft == nil {
			continue
		}

		alert := &domain.Alert{
			TransactionID: txID,
			RuleCode:      draft.RuleCode,
			Severity:      draft.Severity,
			Details:       draft.Details,
			Status:        domain.AlertOpen,
			CreatedAt:     ec.EvalTime,
		}

		created, alertID, err := e.repo.CreateAlertIfAbsent(ctx, alert)
		if err != nil {
			slog.Error("failed to record alert",
				"transaction_id", txID,
				"rule_code", draft.RuleCode,
				"error", err,
			)
			continue
		}
		if !created {
			continue
		}

		alert.ID = alertID
		result.Created = append(result.Created, alert)

		slog.Info("alert created",
			"alert_id", alertID,
			"transaction_id", txID,
			"rule_code", draft.RuleCode,
			"severity", draft.Severity,
		)

		if draft.Notification != nil {
			e.deliver(ctx, ec.CustomerID, draft.Notification)
		}
	}

	result.EvalMs = time.Since(start).Milliseconds()
	span.SetAttributes(attribute.Int("alerts.created", len(result.Created)))

	return result, nil
}

// evaluateIsolated runs one rule, containing panics so a misbehaving rule
// cannot take down the rest of the set.
func evaluateIsolated(rule rules.Rule, ec *domain.EvalContext) (draft *domain.AlertDraft) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("rule panicked",
				"rule_code", rule.Code(),
				"transaction_id", ec.Transaction.ID,
				"panic", p,
			)
			draft = nil
		}
	}()
	return rule.Evaluate(ec)
}

// deliver writes one notification, best-effort.
func (e *Engine) deliver(ctx context.Context, customerID string, n *domain.NotificationDraft) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Notify(ctx, customerID, n.Channel, n.Title, n.Body, n.Meta); err != nil {
		slog.Warn("notification delivery failed",
			"customer_id", customerID,
			"channel", n.Channel,
			"error", err,
		)
	}
}

// loadContext fetches the evaluation context in one pass. The evaluation
// clock is captured here, once, so every rule sees the same "now".
func (e *Engine) loadContext(ctx context.Context, txID string) (*domain.EvalContext, error) {
	tx, err := e.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	account, err := e.repo.GetAccount(ctx, tx.AccountID)
	if err != nil {
		return nil, err
	}

	ec := &domain.EvalContext{
		Transaction:      tx,
		Account:          account,
		CustomerID:       account.CustomerID,
		MerchantRiskTier: domain.RiskMed,
		EvalTime:         time.Now().UTC(),
	}

	if tx.DeviceID != "" {
		device, err := e.repo.GetDevice(ctx, tx.DeviceID)
		if err != nil {
			return nil, err
		}
		ec.Device = device
	}

	// The velocity window anchors at the transaction's own timestamp, not
	// the evaluation clock, so backfilled transactions evaluate against the
	// history they actually had.
	from := tx.Timestamp.Add(-e.cfg.VelocityWindow)
	window, err := e.repo.TransactionsInWindow(ctx, tx.AccountID, from, tx.Timestamp)
	if err != nil {
		return nil, err
	}
	ec.WindowTransactions = window

	if e.cfg.SpikeLookback > 0 {
		avg, err := e.repo.AvgAmountSince(ctx, tx.AccountID, tx.Timestamp.Add(-e.cfg.SpikeLookback))
		if err != nil {
			return nil, err
		}
		ec.RollingAvgAmount = avg
	}

	if tx.MerchantID != "" {
		ec.MerchantRiskTier = e.merchantRiskTier(ctx, tx.MerchantID)
	}

	return ec, nil
}

// merchantRiskTier resolves a merchant's risk tier through the lookaside
// cache. Risk tiers are read-mostly reference data; a stale tier only skews
// severity, never correctness, so caching is acceptable here where it is not
// for device or velocity reads.
func (e *Engine) merchantRiskTier(ctx context.Context, merchantID string) string {
	key := "merchant_risk:" + merchantID

	if e.cache != nil {
		if val, err := e.cache.Get(ctx, key); err == nil && val != nil {
			var tier string
			if json.Unmarshal(val, &tier) == nil {
				return domain.NormalizeRiskTier(tier)
			}
		}
	}

	m, err := e.repo.GetMerchant(ctx, merchantID)
	if err != nil {
		return domain.RiskMed
	}

	if e.cache != nil {
		if val, err := json.Marshal(m.RiskTier); err == nil {
			if err := e.cache.Set(ctx, key, val, e.cacheTTL); err != nil {
				slog.Debug("risk tier cache write failed", "merchant_id", merchantID, "error", err)
			}
		}
	}

	return domain.NormalizeRiskTier(m.RiskTier)
}

// String describes the engine for startup logs.
func (e *Engine) String() string {
	return fmt.Sprintf("engine(%d rules)", len(e.ruleSet))
}
