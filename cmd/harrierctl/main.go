// harrierctl - operator CLI for a running Harrier instance.
//
// Usage:
//   harrierctl [-url http://localhost:8080] <command> [flags]
//
// Commands:
//   seed              Create a demo customer with accounts and merchants
//   add-transaction   Record a transaction and print created alerts
//   list-transactions List recent transactions for an account
//   list-alerts       List alerts, newest first
//   alerts-feed       Poll the alert feed and print new alerts as they appear
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type client struct {
	base string
	http *http.Client
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	c := &client{
		base: strings.TrimRight(*baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}

	var err error
	switch args[0] {
	case "seed":
		err = cmdSeed(c, args[1:])
	case "add-transaction":
		err = cmdAddTransaction(c, args[1:])
	case "list-transactions":
		err = cmdListTransactions(c, args[1:])
	case "list-alerts":
		err = cmdListAlerts(c, args[1:])
	case "alerts-feed":
		err = cmdAlertsFeed(c, args[1:])
	default:
		fmt.Printf("unknown command: %s\n\n", args[0])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: harrierctl [-url http://localhost:8080] <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  seed              Create a demo customer, accounts and merchants")
	fmt.Println("  add-transaction   Record a transaction and print created alerts")
	fmt.Println("  list-transactions List recent transactions for an account")
	fmt.Println("  list-alerts       List alerts, newest first")
	fmt.Println("  alerts-feed       Poll the alert feed for new alerts")
}

// cmdSeed creates a demo customer with a checking and a savings account plus
// two merchants, and prints the generated ids for use with other commands.
func cmdSeed(c *client, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	name := fs.String("name", "Dana Developer", "Customer name")
	email := fs.String("email", "dana@example.com", "Customer email")
	fs.Parse(args)

	var customer struct {
		ID string `json:"id"`
	}
	if err := c.post("/customers", map[string]any{
		"name":  *name,
		"email": *email,
	}, &customer); err != nil {
		return fmt.Errorf("create customer: %w", err)
	}
	fmt.Printf("customer  %s  (%s)\n", customer.ID, *name)

	for _, acct := range []struct {
		kind    string
		balance float64
	}{
		{"checking", 4200},
		{"savings", 15000},
	} {
		var account struct {
			ID string `json:"id"`
		}
		if err := c.post("/accounts", map[string]any{
			"customerId": customer.ID,
			"type":       acct.kind,
			"balance":    acct.balance,
		}, &account); err != nil {
			return fmt.Errorf("create %s account: %w", acct.kind, err)
		}
		fmt.Printf("account   %s  (%s, %.2f)\n", account.ID, acct.kind, acct.balance)
	}

	for _, m := range []struct {
		name string
		tier string
	}{
		{"Corner Grocery", "low"},
		{"Crypto Exchange Ltd", "high"},
	} {
		var merchant struct {
			ID string `json:"id"`
		}
		if err := c.post("/merchants", map[string]any{
			"name":     m.name,
			"riskTier": m.tier,
		}, &merchant); err != nil {
			return fmt.Errorf("create merchant: %w", err)
		}
		fmt.Printf("merchant  %s  (%s, %s risk)\n", merchant.ID, m.name, m.tier)
	}

	return nil
}

func cmdAddTransaction(c *client, args []string) error {
	fs := flag.NewFlagSet("add-transaction", flag.ExitOnError)
	accountID := fs.String("account", "", "Account ID (required)")
	amount := fs.Float64("amount", 0, "Amount (required)")
	currency := fs.String("currency", "USD", "Currency code")
	direction := fs.String("direction", "debit", "debit or credit")
	merchantID := fs.String("merchant", "", "Merchant ID (optional)")
	fingerprint := fs.String("device", "", "Device fingerprint (optional)")
	deviceLabel := fs.String("device-label", "", "Device label (optional)")
	timestamp := fs.String("ts", "", "RFC3339 timestamp (default now)")
	fs.Parse(args)

	if *accountID == "" || *amount == 0 {
		fs.PrintDefaults()
		return fmt.Errorf("-account and -amount are required")
	}

	req := map[string]any{
		"accountId": *accountID,
		"amount":    *amount,
		"currency":  *currency,
		"direction": *direction,
	}
	if *merchantID != "" {
		req["merchantId"] = *merchantID
	}
	if *fingerprint != "" {
		req["fingerprint"] = *fingerprint
		req["deviceLabel"] = *deviceLabel
	}
	if *timestamp != "" {
		req["timestamp"] = *timestamp
	}

	var resp struct {
		Transaction struct {
			ID        string    `json:"id"`
			Amount    float64   `json:"amount"`
			Currency  string    `json:"currency"`
			Timestamp time.Time `json:"timestamp"`
		} `json:"transaction"`
		Created []struct {
			ID       string `json:"id"`
			RuleCode string `json:"ruleCode"`
			Severity string `json:"severity"`
		} `json:"created"`
		Queued bool `json:"queued"`
	}
	if err := c.post("/transactions", req, &resp); err != nil {
		return err
	}

	fmt.Printf("transaction %s  %.2f %s  @ %s\n",
		resp.Transaction.ID, resp.Transaction.Amount, resp.Transaction.Currency,
		resp.Transaction.Timestamp.Format(time.RFC3339))

	if resp.Queued {
		fmt.Println("evaluation queued (async mode); check list-alerts shortly")
		return nil
	}
	if len(resp.Created) == 0 {
		fmt.Println("no alerts")
		return nil
	}
	for _, a := range resp.Created {
		fmt.Printf("  ALERT %-22s %-6s %s\n", a.RuleCode, a.Severity, a.ID)
	}
	return nil
}

func cmdListTransactions(c *client, args []string) error {
	fs := flag.NewFlagSet("list-transactions", flag.ExitOnError)
	accountID := fs.String("account", "", "Account ID (required)")
	limit := fs.Int("limit", 20, "Maximum rows")
	fs.Parse(args)

	if *accountID == "" {
		fs.PrintDefaults()
		return fmt.Errorf("-account is required")
	}

	var txs []struct {
		ID        string    `json:"id"`
		Amount    float64   `json:"amount"`
		Currency  string    `json:"currency"`
		Direction string    `json:"direction"`
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}
	q := url.Values{}
	q.Set("accountId", *accountID)
	q.Set("limit", fmt.Sprint(*limit))
	if err := c.get("/transactions?"+q.Encode(), &txs); err != nil {
		return err
	}

	for _, tx := range txs {
		fmt.Printf("%s  %-6s %10.2f %s  %-8s %s\n",
			tx.Timestamp.Format(time.RFC3339), tx.Direction, tx.Amount, tx.Currency,
			tx.Status, tx.ID)
	}
	fmt.Printf("%d transactions\n", len(txs))
	return nil
}

func cmdListAlerts(c *client, args []string) error {
	fs := flag.NewFlagSet("list-alerts", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status (open, cleared, confirmed)")
	limit := fs.Int("limit", 20, "Maximum rows")
	fs.Parse(args)

	alerts, err := fetchAlerts(c, *status, *limit)
	if err != nil {
		return err
	}
	for _, a := range alerts {
		printAlert(a)
	}
	fmt.Printf("%d alerts\n", len(alerts))
	return nil
}

// cmdAlertsFeed polls GET /alerts and prints alerts it has not seen before.
func cmdAlertsFeed(c *client, args []string) error {
	fs := flag.NewFlagSet("alerts-feed", flag.ExitOnError)
	interval := fs.Duration("interval", 2*time.Second, "Poll interval")
	fs.Parse(args)

	seen := make(map[string]bool)
	first := true
	for {
		alerts, err := fetchAlerts(c, "", 100)
		if err != nil {
			return err
		}
		// Newest first; print in chronological order within a poll.
		for i := len(alerts) - 1; i >= 0; i-- {
			a := alerts[i]
			if seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			if !first {
				printAlert(a)
			}
		}
		if first {
			fmt.Printf("watching alert feed (%d existing alerts skipped)\n", len(alerts))
			first = false
		}
		time.Sleep(*interval)
	}
}

type alertRow struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	RuleCode      string    `json:"ruleCode"`
	Severity      string    `json:"severity"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

func fetchAlerts(c *client, status string, limit int) ([]alertRow, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	if status != "" {
		q.Set("status", status)
	}
	var alerts []alertRow
	if err := c.get("/alerts?"+q.Encode(), &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func printAlert(a alertRow) {
	fmt.Printf("%s  %-22s %-6s %-9s tx=%s  %s\n",
		a.CreatedAt.Format(time.RFC3339), a.RuleCode, a.Severity, a.Status,
		a.TransactionID, a.ID)
}

func (c *client) post(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func (c *client) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
