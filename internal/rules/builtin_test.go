package rules

import (
	"testing"
	"time"

	"github.com/harrierhq/harrier/internal/domain"
)

func testContext(amount float64) *domain.EvalContext {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tx := &domain.Transaction{
		ID:        "tx-1",
		AccountID: "acc-1",
		Amount:    amount,
		Currency:  "USD",
		Direction: domain.DirectionDebit,
		Status:    "approved",
		Timestamp: now,
	}
	return &domain.EvalContext{
		Transaction:        tx,
		Account:            &domain.Account{ID: "acc-1", CustomerID: "cust-1"},
		CustomerID:         "cust-1",
		WindowTransactions: []*domain.Transaction{tx},
		MerchantRiskTier:   domain.RiskMed,
		EvalTime:           now,
	}
}

func TestAmountSpikeRule(t *testing.T) {
	rule := &AmountSpikeRule{Threshold: 5000}

	t.Run("FiresAboveThreshold", func(t *testing.T) {
		draft := rule.Evaluate(testContext(5000.01))
		if draft == nil {
			t.Fatal("expected alert for amount 5000.01")
		}
		if draft.Severity != domain.SeverityHigh {
			t.Errorf("expected severity high, got %s", draft.Severity)
		}
		if draft.Details["threshold"] != 5000.0 {
			t.Errorf("expected threshold in details, got %v", draft.Details)
		}
	})

	t.Run("ExactThresholdPasses", func(t *testing.T) {
		if draft := rule.Evaluate(testContext(5000)); draft != nil {
			t.Error("amount exactly at the threshold must not fire")
		}
	})

	t.Run("SmallAmountPasses", func(t *testing.T) {
		if draft := rule.Evaluate(testContext(12.50)); draft != nil {
			t.Error("expected no alert for a small amount")
		}
	})
}

func TestNewDeviceRule(t *testing.T) {
	rule := &NewDeviceRule{Window: time.Minute}

	t.Run("NoDevicePasses", func(t *testing.T) {
		if draft := rule.Evaluate(testContext(100)); draft != nil {
			t.Error("a transaction without a device must not fire")
		}
	})

	t.Run("RecentDeviceFires", func(t *testing.T) {
		ec := testContext(100)
		ec.Device = &domain.Device{
			ID:        "dev-1",
			Label:     "Ada's iPhone",
			FirstSeen: ec.EvalTime.Add(-30 * time.Second),
			LastSeen:  ec.EvalTime,
		}

		draft := rule.Evaluate(ec)
		if draft == nil {
			t.Fatal("expected alert for a 30s-old device")
		}
		if draft.Severity != domain.SeverityMed {
			t.Errorf("expected severity med, got %s", draft.Severity)
		}
		if draft.Notification == nil {
			t.Fatal("expected a customer notification draft")
		}
		if draft.Notification.Channel != "ui" {
			t.Errorf("expected ui channel, got %s", draft.Notification.Channel)
		}
		if draft.Notification.Meta["deviceLabel"] != "Ada's iPhone" {
			t.Errorf("expected device label in meta, got %v", draft.Notification.Meta)
		}
	})

	t.Run("OldDevicePasses", func(t *testing.T) {
		ec := testContext(100)
		ec.Device = &domain.Device{
			ID:        "dev-2",
			FirstSeen: ec.EvalTime.Add(-2 * time.Minute),
			LastSeen:  ec.EvalTime,
		}
		if draft := rule.Evaluate(ec); draft != nil {
			t.Error("a device first seen two minutes ago must not fire")
		}
	})

	t.Run("ExactWindowEdgeFires", func(t *testing.T) {
		ec := testContext(100)
		ec.Device = &domain.Device{
			ID:        "dev-3",
			FirstSeen: ec.EvalTime.Add(-time.Minute),
			LastSeen:  ec.EvalTime,
		}
		if draft := rule.Evaluate(ec); draft == nil {
			t.Error("a device aged exactly the window is still new")
		}
	})
}

func TestVelocityRule(t *testing.T) {
	rule := &VelocityRule{Count: 3, Window: 2 * time.Minute}

	window := func(ec *domain.EvalContext, offsets ...time.Duration) {
		base := ec.Transaction.Timestamp
		var txs []*domain.Transaction
		for i, off := range offsets {
			txs = append(txs, &domain.Transaction{
				ID:        string(rune('a' + i)),
				AccountID: ec.Transaction.AccountID,
				Amount:    10,
				Timestamp: base.Add(off),
			})
		}
		ec.WindowTransactions = txs
	}

	t.Run("ThreeInWindowFires", func(t *testing.T) {
		ec := testContext(10)
		// t, t+30s, t+70s all land inside a 2m window anchored at the last.
		window(ec, -70*time.Second, -40*time.Second, 0)

		draft := rule.Evaluate(ec)
		if draft == nil {
			t.Fatal("expected alert for 3 transactions inside the window")
		}
		if draft.Details["count"] != 3 {
			t.Errorf("expected count 3 in details, got %v", draft.Details["count"])
		}
	})

	t.Run("TwoInWindowPasses", func(t *testing.T) {
		ec := testContext(10)
		window(ec, -30*time.Second, 0)
		if draft := rule.Evaluate(ec); draft != nil {
			t.Error("expected no alert for only 2 transactions in the window")
		}
	})

	t.Run("MoreThanCountStillFires", func(t *testing.T) {
		ec := testContext(10)
		window(ec, -90*time.Second, -60*time.Second, -30*time.Second, 0)
		draft := rule.Evaluate(ec)
		if draft == nil {
			t.Fatal("expected alert for 4 transactions in the window")
		}
		if draft.Details["count"] != 4 {
			t.Errorf("expected count 4, got %v", draft.Details["count"])
		}
	})
}

func TestSpikeVsAvgRule(t *testing.T) {
	rule := &SpikeVsAvgRule{Multiplier: 2.5}

	t.Run("NoHistoryPasses", func(t *testing.T) {
		ec := testContext(10000)
		ec.RollingAvgAmount = 0
		if draft := rule.Evaluate(ec); draft != nil {
			t.Error("no history means no baseline to spike against")
		}
	})

	t.Run("BelowMultiplePasses", func(t *testing.T) {
		ec := testContext(200)
		ec.RollingAvgAmount = 100
		if draft := rule.Evaluate(ec); draft != nil {
			t.Error("2x the average is below the 2.5x multiplier")
		}
	})

	t.Run("FiresAtMultiple", func(t *testing.T) {
		ec := testContext(250)
		ec.RollingAvgAmount = 100
		draft := rule.Evaluate(ec)
		if draft == nil {
			t.Fatal("expected alert at exactly the multiplier")
		}
		if draft.Details["ratio"] != 2.5 {
			t.Errorf("expected ratio 2.5, got %v", draft.Details["ratio"])
		}
	})

	t.Run("SeverityScalesWithMerchantRisk", func(t *testing.T) {
		cases := []struct {
			name   string
			tier   string
			amount float64
			want   string
		}{
			{"LowTierModerateRatio", domain.RiskLow, 250, domain.SeverityHigh},
			{"MedTierModerateRatio", domain.RiskMed, 250, domain.SeverityMed},
			{"MedTierLargeRatio", domain.RiskMed, 300, domain.SeverityHigh},
			{"HighTierModerateRatio", domain.RiskHigh, 250, domain.SeverityLow},
			{"HighTierHugeRatio", domain.RiskHigh, 400, domain.SeverityMed},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				ec := testContext(tc.amount)
				ec.RollingAvgAmount = 100
				ec.MerchantRiskTier = tc.tier

				draft := rule.Evaluate(ec)
				if draft == nil {
					t.Fatal("expected alert")
				}
				if draft.Severity != tc.want {
					t.Errorf("tier %s ratio %.1f: expected %s, got %s",
						tc.tier, tc.amount/100, tc.want, draft.Severity)
				}
			})
		}
	})
}

func TestRulesAreIndependent(t *testing.T) {
	cfg := domain.DefaultRulesConfig()
	set := Builtin(cfg)

	// A context that trips every built-in at once.
	ec := testContext(10000)
	ec.Device = &domain.Device{
		ID:        "dev-1",
		FirstSeen: ec.EvalTime.Add(-10 * time.Second),
		LastSeen:  ec.EvalTime,
	}
	ec.WindowTransactions = []*domain.Transaction{
		{ID: "a", Timestamp: ec.EvalTime.Add(-time.Minute)},
		{ID: "b", Timestamp: ec.EvalTime.Add(-30 * time.Second)},
		ec.Transaction,
	}
	ec.RollingAvgAmount = 100

	fired := map[string]bool{}
	for _, rule := range set {
		if draft := rule.Evaluate(ec); draft != nil {
			fired[draft.RuleCode] = true
		}
	}

	for _, code := range []string{CodeAmountSpike, CodeNewDevice, CodeVelocity, CodeSpikeVsAvg} {
		if !fired[code] {
			t.Errorf("expected %s to fire independently, fired: %v", code, fired)
		}
	}
}
