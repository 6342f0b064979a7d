//go:build integration
// +build integration

// Package integration exercises a running Harrier instance end to end:
//
//	record transaction → rule evaluation → alert ledger → notification feed
//
// Start a server first (go run cmd/harrier/main.go), then:
//
//	go test -tags=integration -v ./tests/integration/...
//
// The tests create their own customers and accounts, so they can run against
// a non-empty database, but they assume the default rule thresholds:
// amount spike above 5000, new-device window of 1 minute, 3 transactions in
// 2 minutes for velocity.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

func baseURL() string {
	if url := os.Getenv("HARRIER_TEST_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

type apiClient struct {
	t    *testing.T
	base string
}

func newClient(t *testing.T) *apiClient {
	t.Helper()
	c := &apiClient{t: t, base: baseURL()}

	resp, err := http.Get(c.base + "/health")
	if err != nil {
		t.Skipf("harrier not reachable at %s: %v", c.base, err)
	}
	resp.Body.Close()
	return c
}

func (c *apiClient) post(path string, body any, out any) int {
	c.t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		c.t.Fatalf("failed to marshal request: %v", err)
	}
	resp, err := http.Post(c.base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("POST %s: failed to decode response: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (c *apiClient) get(path string, out any) int {
	c.t.Helper()

	resp, err := http.Get(c.base + path)
	if err != nil {
		c.t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("GET %s: failed to decode response: %v", path, err)
		}
	}
	return resp.StatusCode
}

type idResponse struct {
	ID string `json:"id"`
}

type alertJSON struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
	RuleCode      string `json:"ruleCode"`
	Severity      string `json:"severity"`
	Status        string `json:"status"`
}

type txResponse struct {
	Transaction struct {
		ID string `json:"id"`
	} `json:"transaction"`
	Created []alertJSON `json:"created"`
	Queued  bool        `json:"queued"`
}

// seedCustomer creates a fresh customer and checking account. The unique
// email keeps repeated runs against the same database from colliding.
func seedCustomer(c *apiClient) (customerID, accountID string) {
	c.t.Helper()

	email := fmt.Sprintf("it-%d@example.com", time.Now().UnixNano())
	var customer idResponse
	if code := c.post("/customers", map[string]any{
		"name": "Integration Test", "email": email,
	}, &customer); code != http.StatusCreated {
		c.t.Fatalf("create customer: status %d", code)
	}

	var account idResponse
	if code := c.post("/accounts", map[string]any{
		"customerId": customer.ID, "type": "checking", "balance": 10000.0,
	}, &account); code != http.StatusCreated {
		c.t.Fatalf("create account: status %d", code)
	}
	return customer.ID, account.ID
}

// alertsFor collects the rule codes recorded for one transaction, waiting
// out the async path when the deployment runs in that mode.
func alertsFor(c *apiClient, txID string) map[string]alertJSON {
	c.t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		var alerts []alertJSON
		c.get("/alerts?limit=200", &alerts)

		found := make(map[string]alertJSON)
		for _, a := range alerts {
			if a.TransactionID == txID {
				found[a.RuleCode] = a
			}
		}
		if len(found) > 0 || time.Now().After(deadline) {
			return found
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestAmountSpikePipeline(t *testing.T) {
	c := newClient(t)
	_, accountID := seedCustomer(c)

	var resp txResponse
	code := c.post("/transactions", map[string]any{
		"accountId": accountID, "amount": 7500.0, "currency": "USD",
	}, &resp)
	if code != http.StatusCreated && code != http.StatusAccepted {
		t.Fatalf("record transaction: status %d", code)
	}

	found := alertsFor(c, resp.Transaction.ID)
	a, ok := found["AMOUNT_SPIKE"]
	if !ok {
		t.Fatalf("expected AMOUNT_SPIKE alert, got %v", found)
	}
	if a.Severity != "high" {
		t.Errorf("expected high severity, got %s", a.Severity)
	}
}

func TestNewDeviceNotification(t *testing.T) {
	c := newClient(t)
	customerID, accountID := seedCustomer(c)

	var resp txResponse
	code := c.post("/transactions", map[string]any{
		"accountId":   accountID,
		"amount":      42.0,
		"currency":    "USD",
		"fingerprint": fmt.Sprintf("fp-it-%d", time.Now().UnixNano()),
		"deviceLabel": "Integration Device",
	}, &resp)
	if code != http.StatusCreated && code != http.StatusAccepted {
		t.Fatalf("record transaction: status %d", code)
	}

	if _, ok := alertsFor(c, resp.Transaction.ID)["NEW_DEVICE"]; !ok {
		t.Fatal("expected NEW_DEVICE alert for a first-seen device")
	}

	var notifications []struct {
		Channel string `json:"channel"`
		Title   string `json:"title"`
	}
	c.get("/customers/"+customerID+"/notifications", &notifications)
	if len(notifications) == 0 {
		t.Fatal("expected a customer notification")
	}
	if notifications[0].Title != "New device used" {
		t.Errorf("unexpected notification title %q", notifications[0].Title)
	}
}

func TestVelocityPipeline(t *testing.T) {
	c := newClient(t)
	_, accountID := seedCustomer(c)

	var last txResponse
	for i := 0; i < 3; i++ {
		code := c.post("/transactions", map[string]any{
			"accountId": accountID, "amount": 15.0, "currency": "USD",
		}, &last)
		if code != http.StatusCreated && code != http.StatusAccepted {
			t.Fatalf("record transaction %d: status %d", i, code)
		}
	}

	if _, ok := alertsFor(c, last.Transaction.ID)["VELOCITY_3_IN_2MIN"]; !ok {
		t.Fatal("expected velocity alert on the third rapid transaction")
	}
}

func TestReEvaluationIsIdempotent(t *testing.T) {
	c := newClient(t)
	_, accountID := seedCustomer(c)

	var resp txResponse
	code := c.post("/transactions", map[string]any{
		"accountId": accountID, "amount": 9999.0, "currency": "USD",
	}, &resp)
	if code != http.StatusCreated && code != http.StatusAccepted {
		t.Fatalf("record transaction: status %d", code)
	}
	before := alertsFor(c, resp.Transaction.ID)
	if len(before) == 0 {
		t.Fatal("expected at least one alert before re-evaluation")
	}

	var result struct {
		Created []alertJSON `json:"created"`
	}
	if code := c.post("/transactions/"+resp.Transaction.ID+"/evaluate", nil, &result); code != http.StatusOK {
		t.Fatalf("re-evaluate: status %d", code)
	}
	if len(result.Created) != 0 {
		t.Errorf("re-evaluation must create nothing, got %d alerts", len(result.Created))
	}

	after := alertsFor(c, resp.Transaction.ID)
	if len(after) != len(before) {
		t.Errorf("alert count changed across re-evaluation: %d then %d", len(before), len(after))
	}
}
