package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/harrierhq/harrier/internal/cache"
	"github.com/harrierhq/harrier/internal/domain"
	"github.com/harrierhq/harrier/internal/notify"
	"github.com/harrierhq/harrier/internal/repository"
	"github.com/harrierhq/harrier/internal/rules"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-engine-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestEngine(t *testing.T, repo domain.Repository, sink domain.NotificationSink) *Engine {
	t.Helper()
	cfg := domain.DefaultRulesConfig()
	return New(repo, sink, nil, rules.Builtin(cfg), cfg)
}

type fixture struct {
	customerID string
	accountID  string
}

func seed(t *testing.T, repo domain.Repository) fixture {
	t.Helper()
	ctx := context.Background()

	c := &domain.Customer{Name: "Dana Developer", Email: "dana@example.com"}
	if err := repo.CreateCustomer(ctx, c); err != nil {
		t.Fatalf("CreateCustomer failed: %v", err)
	}
	a := &domain.Account{CustomerID: c.ID, Type: domain.AccountChecking, Balance: 5000}
	if err := repo.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return fixture{customerID: c.ID, accountID: a.ID}
}

func recordTx(t *testing.T, repo domain.Repository, f fixture, amount float64, ts time.Time, deviceID string) *domain.Transaction {
	t.Helper()
	tx := &domain.Transaction{
		AccountID: f.accountID,
		DeviceID:  deviceID,
		Amount:    amount,
		Currency:  "USD",
		Direction: domain.DirectionDebit,
		Status:    "approved",
		Timestamp: ts,
	}
	if err := repo.CreateTransaction(context.Background(), tx); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	return tx
}

func ruleCodes(alerts []*domain.Alert) map[string]bool {
	codes := make(map[string]bool)
	for _, a := range alerts {
		codes[a.RuleCode] = true
	}
	return codes
}

func TestEvaluateAmountSpike(t *testing.T) {
	repo := newTestRepo(t)
	eng := newTestEngine(t, repo, notify.NewRepositorySink(repo))
	ctx := context.Background()
	f := seed(t, repo)

	tx := recordTx(t, repo, f, 7500, time.Now().UTC(), "")

	result, err := eng.Evaluate(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	codes := ruleCodes(result.Created)
	if !codes[rules.CodeAmountSpike] {
		t.Errorf("expected AMOUNT_SPIKE alert, got %v", codes)
	}
	if result.RulesRun != eng.RulesCount() {
		t.Errorf("expected %d rules run, got %d", eng.RulesCount(), result.RulesRun)
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	eng := newTestEngine(t, repo, notify.NewRepositorySink(repo))
	ctx := context.Background()
	f := seed(t, repo)

	tx := recordTx(t, repo, f, 9000, time.Now().UTC(), "")

	first, err := eng.Evaluate(ctx, tx.ID)
	if err != nil {
		t.Fatalf("first Evaluate failed: %v", err)
	}
	if len(first.Created) == 0 {
		t.Fatal("expected alerts on first evaluation")
	}

	second, err := eng.Evaluate(ctx, tx.ID)
	if err != nil {
		t.Fatalf("second Evaluate failed: %v", err)
	}
	if len(second.Created) != 0 {
		t.Errorf("re-evaluation must create nothing, got %d alerts", len(second.Created))
	}

	alerts, err := repo.ListAlerts(ctx, "", 50)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != len(first.Created) {
		t.Errorf("expected %d persisted alerts, got %d", len(first.Created), len(alerts))
	}
}

func TestEvaluateNewDeviceNotifies(t *testing.T) {
	repo := newTestRepo(t)
	eng := newTestEngine(t, repo, notify.NewRepositorySink(repo))
	ctx := context.Background()
	f := seed(t, repo)

	device, err := repo.ResolveDevice(ctx, f.customerID, "fp-new-phone", "New Phone")
	if err != nil {
		t.Fatalf("ResolveDevice failed: %v", err)
	}
	tx := recordTx(t, repo, f, 25, time.Now().UTC(), device.ID)

	result, err := eng.Evaluate(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !ruleCodes(result.Created)[rules.CodeNewDevice] {
		t.Fatalf("expected NEW_DEVICE alert, got %v", ruleCodes(result.Created))
	}

	notifications, err := repo.ListNotifications(ctx, f.customerID, 10)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifications))
	}
	if notifications[0].Channel != "ui" {
		t.Errorf("expected ui channel, got %s", notifications[0].Channel)
	}

	// Re-evaluation deduplicates the alert, so no second notification.
	if _, err := eng.Evaluate(ctx, tx.ID); err != nil {
		t.Fatalf("second Evaluate failed: %v", err)
	}
	notifications, err = repo.ListNotifications(ctx, f.customerID, 10)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(notifications) != 1 {
		t.Errorf("duplicate evaluation must not re-notify, got %d notifications", len(notifications))
	}
}

type failingSink struct{}

func (failingSink) Notify(context.Context, string, string, string, string, map[string]any) error {
	return errors.New("sink unavailable")
}

func TestNotificationFailureDoesNotAffectAlerts(t *testing.T) {
	repo := newTestRepo(t)
	eng := newTestEngine(t, repo, failingSink{})
	ctx := context.Background()
	f := seed(t, repo)

	device, err := repo.ResolveDevice(ctx, f.customerID, "fp-flaky", "")
	if err != nil {
		t.Fatalf("ResolveDevice failed: %v", err)
	}
	tx := recordTx(t, repo, f, 25, time.Now().UTC(), device.ID)

	result, err := eng.Evaluate(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Evaluate must not fail on sink errors: %v", err)
	}
	if !ruleCodes(result.Created)[rules.CodeNewDevice] {
		t.Error("alert must be reported as created despite the failed notification")
	}

	alerts, err := repo.ListAlerts(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) == 0 {
		t.Error("alert must persist despite the failed notification")
	}
}

func TestEvaluateVelocity(t *testing.T) {
	repo := newTestRepo(t)
	eng := newTestEngine(t, repo, nil)
	ctx := context.Background()
	f := seed(t, repo)

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	recordTx(t, repo, f, 10, base, "")
	recordTx(t, repo, f, 10, base.Add(30*time.Second), "")
	third := recordTx(t, repo, f, 10, base.Add(70*time.Second), "")

	result, err := eng.Evaluate(ctx, third.ID)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !ruleCodes(result.Created)[rules.CodeVelocity] {
		t.Errorf("expected velocity alert for 3 transactions in 70s, got %v", ruleCodes(result.Created))
	}

	t.Run("SpreadOutTransactionsDoNotFire", func(t *testing.T) {
		f2 := seed2(t, repo, "spread@example.com")
		recordTx(t, repo, f2, 10, base, "")
		recordTx(t, repo, f2, 10, base.Add(3*time.Minute), "")
		last := recordTx(t, repo, f2, 10, base.Add(6*time.Minute), "")

		result, err := eng.Evaluate(ctx, last.ID)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if ruleCodes(result.Created)[rules.CodeVelocity] {
			t.Error("transactions 3 minutes apart must not trip velocity")
		}
	})
}

func seed2(t *testing.T, repo domain.Repository, email string) fixture {
	t.Helper()
	ctx := context.Background()
	c := &domain.Customer{Name: "Second Customer", Email: email}
	if err := repo.CreateCustomer(ctx, c); err != nil {
		t.Fatalf("CreateCustomer failed: %v", err)
	}
	a := &domain.Account{CustomerID: c.ID, Type: domain.AccountChecking}
	if err := repo.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return fixture{customerID: c.ID, accountID: a.ID}
}

type panickingRule struct{}

func (panickingRule) Code() string { return "PANICKY" }
func (panickingRule) Evaluate(*domain.EvalContext) *domain.AlertDraft {
	panic("rule bug")
}

func TestRuleFailureIsolation(t *testing.T) {
	repo := newTestRepo(t)
	cfg := domain.DefaultRulesConfig()
	set := append(rules.Builtin(cfg), panickingRule{})
	eng := New(repo, nil, nil, set, cfg)
	ctx := context.Background()
	f := seed(t, repo)

	tx := recordTx(t, repo, f, 6000, time.Now().UTC(), "")

	result, err := eng.Evaluate(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Evaluate must survive a panicking rule: %v", err)
	}
	if !ruleCodes(result.Created)[rules.CodeAmountSpike] {
		t.Error("other rules must still run when one panics")
	}
}

func TestEvaluateUnknownTransaction(t *testing.T) {
	repo := newTestRepo(t)
	eng := newTestEngine(t, repo, nil)

	_, err := eng.Evaluate(context.Background(), "no-such-tx")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMerchantRiskTierCaching(t *testing.T) {
	repo := newTestRepo(t)
	lru := cache.NewLRUCache(10)
	t.Cleanup(func() { lru.Close() })

	cfg := domain.DefaultRulesConfig()
	eng := New(repo, nil, lru, rules.Builtin(cfg), cfg)
	ctx := context.Background()
	f := seed(t, repo)

	m := &domain.Merchant{Name: "Crypto Exchange Ltd", RiskTier: domain.RiskHigh}
	if err := repo.CreateMerchant(ctx, m); err != nil {
		t.Fatalf("CreateMerchant failed: %v", err)
	}

	// Establish a rolling average, then spike against it through the
	// high-risk merchant. The lookback average includes the spike itself:
	// (100*3 + 900) / 4 = 300, a 3x ratio, which a high-risk tier maps to
	// low severity.
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		recordTx(t, repo, f, 100, base.Add(time.Duration(i)*10*time.Minute), "")
	}
	spike := &domain.Transaction{
		AccountID:  f.accountID,
		MerchantID: m.ID,
		Amount:     900,
		Currency:   "USD",
		Direction:  domain.DirectionDebit,
		Status:     "approved",
		Timestamp:  time.Now().UTC(),
	}
	if err := repo.CreateTransaction(ctx, spike); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}

	result, err := eng.Evaluate(ctx, spike.ID)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	var spikeAlert *domain.Alert
	for _, a := range result.Created {
		if a.RuleCode == rules.CodeSpikeVsAvg {
			spikeAlert = a
		}
	}
	if spikeAlert == nil {
		t.Fatalf("expected a rolling-average spike alert, got %v", ruleCodes(result.Created))
	}
	if spikeAlert.Severity != domain.SeverityLow {
		t.Errorf("high-risk merchant at ~3x should map to low severity, got %s", spikeAlert.Severity)
	}

	// The tier should now be cached.
	val, err := lru.Get(ctx, "merchant_risk:"+m.ID)
	if err != nil {
		t.Fatalf("cache Get failed: %v", err)
	}
	if val == nil {
		t.Error("expected merchant risk tier to be cached after evaluation")
	}
}

func TestEngineString(t *testing.T) {
	eng := newTestEngine(t, newTestRepo(t), nil)
	want := fmt.Sprintf("engine(%d rules)", eng.RulesCount())
	if eng.String() != want {
		t.Errorf("expected %q, got %q", want, eng.String())
	}
}
