// Package worker provides async evaluation of recorded transactions.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/harrierhq/harrier/internal/domain"
	"github.com/harrierhq/harrier/internal/engine"
	"github.com/harrierhq/harrier/internal/repository"
)

// Worker evaluates transactions published on the event bus. It serves both
// the async online path and backfill jobs: because the engine is idempotent,
// a message delivered twice, or racing an inline evaluation of the same
// transaction, records each alert exactly once.
type Worker struct {
	bus    domain.EventBus
	engine *engine.Engine

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// TransactionRecorded is the payload published on TopicTransactionRecorded.
type TransactionRecorded struct {
	TransactionID string `json:"transactionId"`
}

// AlertCreated is the payload published on TopicAlertCreated.
type AlertCreated struct {
	AlertID       string `json:"alertId"`
	TransactionID string `json:"transactionId"`
	RuleCode      string `json:"ruleCode"`
	Severity      string `json:"severity"`
}

// New creates an async worker.
func New(bus domain.EventBus, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the transaction-recorded topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionRecorded, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("evaluation worker started", "topic", domain.TopicTransactionRecorded)
	return nil
}

// Stop cancels subscriptions and halts processing.
func (w *Worker) Stop() error {
	w.cancel()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil

	slog.Info("evaluation worker stopped")
	return nil
}

// handleMessage evaluates one recorded transaction.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var payload TransactionRecorded
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		slog.Error("invalid transaction message", "msg_id", msg.ID, "error", err)
		return err
	}
	if payload.TransactionID == "" {
		slog.Error("transaction message missing id", "msg_id", msg.ID)
		return nil
	}

	result, err := w.engine.Evaluate(ctx, payload.TransactionID)
	if err != nil {
		// A vanished transaction is a permanent caller error; everything
		// else is transient and worth surfacing for redelivery.
		if errors.Is(err, repository.ErrNotFound) {
			slog.Warn("transaction not found, dropping message",
				"transaction_id", payload.TransactionID,
			)
			return nil
		}
		slog.Error("async evaluation failed",
			"transaction_id", payload.TransactionID,
			"error", err,
		)
		return err
	}

	for _, alert := range result.Created {
		w.publishAlert(ctx, alert)
	}

	slog.Debug("async evaluation complete",
		"transaction_id", payload.TransactionID,
		"alerts_created", len(result.Created),
		"eval_ms", result.EvalMs,
	)
	return nil
}

// publishAlert emits an alert-created event, best-effort.
func (w *Worker) publishAlert(ctx context.Context, alert *domain.Alert) {
	payload, err := json.Marshal(AlertCreated{
		AlertID:       alert.ID,
		TransactionID: alert.TransactionID,
		RuleCode:      alert.RuleCode,
		Severity:      alert.Severity,
	})
	if err != nil {
		return
	}
	if err := w.bus.Publish(ctx, domain.TopicAlertCreated, payload); err != nil {
		slog.Warn("failed to publish alert event",
			"alert_id", alert.ID,
			"error", err,
		)
	}
}
