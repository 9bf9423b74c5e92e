// Benchmark tool for testing Harrier against synthetic bank statements.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8086 -accounts 200
//
// This tool:
//  1. Registers a tariff grid for a synthetic bank
//  2. Generates one month of statement lines per account, injecting a
//     known anomaly (duplicated fee or overcharged fee) into a fraction
//     of the accounts
//  3. Runs an analysis per account and compares flagged accounts with
//     the injected labels
//  4. Calculates precision, recall, F1-score and latency
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// statement is one generated account with its injected ground truth.
type statement struct {
	AccountID string
	Lines     []transactionRequest
	// Injected is empty for clean accounts, otherwise the anomaly kind
	// ("duplicate" or "overcharge").
	Injected string
}

type transactionRequest struct {
	ClientID    string  `json:"clientId"`
	BankID      string  `json:"bankId"`
	AccountID   string  `json:"accountId"`
	Date        string  `json:"date"`
	Amount      float64 `json:"amount"`
	Balance     float64 `json:"balance"`
	Description string  `json:"description"`
}

type analysisRequest struct {
	ClientID  string `json:"clientId"`
	BankID    string `json:"bankId"`
	AccountID string `json:"accountId"`
	From      string `json:"from"`
	To        string `json:"to"`
}

type analysisResponse struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Anomalies []struct {
		Type     string  `json:"type"`
		Severity string  `json:"severity"`
		Amount   float64 `json:"amount"`
	} `json:"anomalies"`
}

// metrics tracks benchmark results.
type metrics struct {
	TruePositives  int64 // injected anomaly, account flagged
	FalsePositives int64 // clean account flagged
	TrueNegatives  int64 // clean account not flagged
	FalseNegatives int64 // injected anomaly missed

	TotalProcessed int64
	TotalInjected  int64
	TotalClean     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8086", "Harrier base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	accounts := flag.Int("accounts", 200, "Number of synthetic accounts")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	anomalyRate := flag.Float64("anomaly-rate", 0.3, "Fraction of accounts with an injected anomaly")
	seed := flag.Int64("seed", 42, "Random seed for reproducible statements")
	verbose := flag.Bool("verbose", false, "Print each account result")
	flag.Parse()

	fmt.Println("+---------------------------------------------------------------+")
	fmt.Println("|        HARRIER BENCHMARK - Synthetic Statement Audit          |")
	fmt.Println("+---------------------------------------------------------------+")
	fmt.Printf("\nHarrier URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:    %s\n", *tenantID)
	fmt.Printf("Accounts:     %d\n", *accounts)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Anomaly Rate: %.2f\n", *anomalyRate)
	fmt.Printf("Seed:         %d\n", *seed)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run cmd/harrier/main.go")
		os.Exit(1)
	}
	fmt.Println("Harrier is healthy")

	client := &http.Client{Timeout: 30 * time.Second}
	if err := registerConditions(client, *baseURL, *tenantID); err != nil {
		fmt.Printf("ERROR: failed to register tariff grid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Tariff grid registered")

	rng := rand.New(rand.NewSource(*seed))
	statements := generateStatements(rng, *accounts, *anomalyRate)

	injected := 0
	for _, s := range statements {
		if s.Injected != "" {
			injected++
		}
	}
	fmt.Printf("\nGenerated %d accounts (%d with injected anomalies)\n", len(statements), injected)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	m := runBenchmark(statements, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(m, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// registerConditions installs the grid the overcharge injection violates:
// account keeping fee fixed at 12.00.
func registerConditions(client *http.Client, baseURL, tenantID string) error {
	fixedFee := 12.0
	grid := map[string]any{
		"bankId":        "bench-bank",
		"version":       "2025-T1",
		"effectiveDate": "2025-01-01T00:00:00Z",
		"fees": []map[string]any{
			{"code": "TENUE_COMPTE", "name": "Frais de tenue de compte", "fixedAmount": fixedFee},
		},
	}
	return postJSON(client, baseURL+"/conditions", tenantID, grid, nil)
}

// generateStatements builds one month of lines per account. Clean accounts
// get one legitimate keeping fee at the contracted amount; anomalous
// accounts get either a duplicated fee pair or an overcharged fee.
func generateStatements(rng *rand.Rand, accounts int, anomalyRate float64) []statement {
	statements := make([]statement, 0, accounts)

	for i := 0; i < accounts; i++ {
		accountID := fmt.Sprintf("bench-acc-%04d", i)
		balance := 2000.0 + rng.Float64()*8000.0
		lines := []transactionRequest{}

		addLine := func(day int, amount float64, desc string) {
			balance += amount
			lines = append(lines, transactionRequest{
				ClientID:    "bench-client",
				BankID:      "bench-bank",
				AccountID:   accountID,
				Date:        fmt.Sprintf("2025-03-%02d", day),
				Amount:      amount,
				Balance:     balance,
				Description: desc,
			})
		}

		// Ordinary activity: credits and card payments
		for day := 1; day <= 25; day++ {
			if rng.Float64() < 0.6 {
				addLine(day, 20+rng.Float64()*300, fmt.Sprintf("VIREMENT RECU REF %06d", rng.Intn(1000000)))
			}
			if rng.Float64() < 0.4 {
				addLine(day, -(10 + rng.Float64()*150), fmt.Sprintf("PAIEMENT CB COMMERCE %04d", rng.Intn(10000)))
			}
		}

		injected := ""
		switch {
		case rng.Float64() >= anomalyRate:
			// Clean: one keeping fee at the contracted amount
			addLine(3, -12.0, "FRAIS DE TENUE DE COMPTE")
		case rng.Float64() < 0.5:
			// Duplicate: same fee twice, two days apart
			injected = "duplicate"
			addLine(3, -12.0, "FRAIS DE TENUE DE COMPTE")
			addLine(5, -12.0, "FRAIS DE TENUE DE COMPTE")
		default:
			// Overcharge: fee well above the contracted amount
			injected = "overcharge"
			addLine(3, -31.0, "FRAIS DE TENUE DE COMPTE")
		}

		statements = append(statements, statement{
			AccountID: accountID,
			Lines:     lines,
			Injected:  injected,
		})
	}

	return statements
}

func runBenchmark(statements []statement, baseURL, tenantID string, numWorkers int, verbose bool) *metrics {
	m := &metrics{}

	work := make(chan statement, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 60 * time.Second}

			for s := range work {
				start := time.Now()
				result, err := auditAccount(client, baseURL, tenantID, s)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&m.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&m.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&m.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", s.AccountID, err)
					}
					continue
				}

				actual := s.Injected != ""
				if actual {
					atomic.AddInt64(&m.TotalInjected, 1)
				} else {
					atomic.AddInt64(&m.TotalClean, 1)
				}

				predicted := len(result.Anomalies) > 0

				switch {
				case predicted && actual:
					atomic.AddInt64(&m.TruePositives, 1)
				case predicted && !actual:
					atomic.AddInt64(&m.FalsePositives, 1)
				case !predicted && !actual:
					atomic.AddInt64(&m.TrueNegatives, 1)
				default:
					atomic.AddInt64(&m.FalseNegatives, 1)
				}

				if verbose {
					status := "ok  "
					if predicted != actual {
						status = "MISS"
					}
					fmt.Printf("%s %s | injected: %-10s | flagged: %d anomalies\n",
						status, s.AccountID, orNone(s.Injected), len(result.Anomalies))
				}
			}
		}()
	}

	for _, s := range statements {
		work <- s
	}
	close(work)

	wg.Wait()
	return m
}

// auditAccount registers the account's lines then runs one analysis.
func auditAccount(client *http.Client, baseURL, tenantID string, s statement) (*analysisResponse, error) {
	if err := postJSON(client, baseURL+"/transactions", tenantID, s.Lines, nil); err != nil {
		return nil, fmt.Errorf("register lines: %w", err)
	}

	var result analysisResponse
	req := analysisRequest{
		ClientID:  "bench-client",
		BankID:    "bench-bank",
		AccountID: s.AccountID,
		From:      "2025-03-01",
		To:        "2025-03-31",
	}
	if err := postJSON(client, baseURL+"/analyses", tenantID, req, &result); err != nil {
		return nil, fmt.Errorf("run analysis: %w", err)
	}
	return &result, nil
}

func postJSON(client *http.Client, url, tenantID string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func printResults(m *metrics, duration time.Duration) {
	fmt.Println("\n+---------------------------------------------------------------+")
	fmt.Println("|                      BENCHMARK RESULTS                        |")
	fmt.Println("+---------------------------------------------------------------+")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Accounts Processed: %d\n", m.TotalProcessed)
	fmt.Printf("   With Anomaly:       %d\n", m.TotalInjected)
	fmt.Printf("   Clean:              %d\n", m.TotalClean)
	fmt.Printf("   Errors:             %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                          Predicted")
	fmt.Println("                    Flagged      Clean")
	fmt.Printf("   Anomalous      %8d   %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("   Clean          %8d   %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged accounts, how many had an injected anomaly)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of injected anomalies, how many were caught)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		aps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms per account\n", avgMs)
		fmt.Printf("   Throughput:       %.2f accounts/sec\n", aps)
	}

	fmt.Println()
}
