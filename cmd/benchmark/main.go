// Benchmark tool for replaying a model's integration sample against a
// running Kestrel server.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -algorithm decision_tree
//
// This tool:
//  1. Loads the integration sample stored with the trained bundle
//  2. Sends each row to POST /model/v0/prediction/{transaction_id}
//  3. Compares transaction_to_block with the tx_fraud label
//  4. Reports the confusion matrix, precision, recall and F1-score
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/table"
)

// Transaction is one replayed row of the integration sample.
type Transaction struct {
	ID      string
	IsFraud bool
	Body    map[string]any
}

// PredictionResponse is the Kestrel API response format
type PredictionResponse struct {
	TransactionID string `json:"transaction_id"`
	Block         int    `json:"transaction_to_block"`
}

// Result is the outcome of one replayed transaction.
type Result struct {
	Transaction
	Block     int
	LatencyMs int64
	Err       error
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud blocked
	FalsePositives int64 // Legitimate blocked
	TrueNegatives  int64 // Legitimate allowed
	FalseNegatives int64 // Fraud allowed (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

// Record adds one result to the counters. Safe for concurrent use.
func (m *Metrics) Record(r Result) {
	atomic.AddInt64(&m.ProcessingTimeMs, r.LatencyMs)
	atomic.AddInt64(&m.TotalProcessed, 1)
	if r.Err != nil {
		atomic.AddInt64(&m.TotalErrors, 1)
		return
	}

	if r.IsFraud {
		atomic.AddInt64(&m.TotalFraud, 1)
	} else {
		atomic.AddInt64(&m.TotalNonFraud, 1)
	}

	predicted := r.Block == 1
	switch {
	case predicted && r.IsFraud:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !r.IsFraud:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !r.IsFraud:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

// Precision is TP / (TP + FP), 0 without positives.
func (m *Metrics) Precision() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
}

// Recall is TP / (TP + FN), 0 without fraud.
func (m *Metrics) Recall() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of correct decisions among answered requests.
func (m *Metrics) Accuracy() float64 {
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	return ratio(m.TruePositives+m.TrueNegatives, total)
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default $KESTREL_CONFIG)")
	algorithm := flag.String("algorithm", "", "bundle to replay (default pipeline.algorithm)")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 0, "Maximum transactions to replay (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	outPath := flag.String("out", "", "Write per-transaction results to this CSV file")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("ERROR: failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *algorithm == "" {
		*algorithm = cfg.Pipeline.Algorithm
	}

	fmt.Println("KESTREL BENCHMARK - integration sample replay")
	fmt.Printf("\nAlgorithm:   %s\n", *algorithm)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	sample, err := loadSample(context.Background(), cfg, *algorithm)
	if err != nil {
		fmt.Printf("ERROR: failed to load integration sample: %v\n", err)
		os.Exit(1)
	}
	transactions, err := Transactions(sample, *limit)
	if err != nil {
		fmt.Printf("ERROR: malformed integration sample: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions\n", len(transactions))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics, results := runBenchmark(transactions, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	if *outPath != "" {
		if err := writeResults(*outPath, results); err != nil {
			fmt.Printf("ERROR: failed to write results: %v\n", err)
		} else {
			fmt.Printf("Results written to %s\n", *outPath)
		}
	}

	printResults(metrics, duration)
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

func loadSample(ctx context.Context, cfg *domain.Config, algorithm string) (*table.Table, error) {
	var repo domain.Repository
	if cfg.Artifacts.Store == "repository" {
		r, err := repository.New(cfg.Repository)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		repo = r
	}
	store, err := artifact.New(cfg.Artifacts, repo)
	if err != nil {
		return nil, err
	}
	bundle, err := store.Load(ctx, algorithm)
	if err != nil {
		return nil, err
	}
	return bundle.IntegrationSample, nil
}

// Transactions turns sample rows into flat prediction bodies: tx_datetime
// in epoch milliseconds plus every float column except the label.
func Transactions(sample *table.Table, limit int) ([]Transaction, error) {
	times, err := sample.Times(domain.ColDatetime)
	if err != nil {
		return nil, err
	}
	labels, err := sample.Floats(domain.ColFraud)
	if err != nil {
		return nil, err
	}

	features := map[string][]float64{}
	for _, name := range sample.Columns() {
		if name == domain.ColDatetime || name == domain.ColFraud {
			continue
		}
		kind, err := sample.Kind(name)
		if err != nil || kind != table.Float {
			continue
		}
		if features[name], err = sample.Floats(name); err != nil {
			return nil, err
		}
	}

	n := sample.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	index := sample.Index()
	transactions := make([]Transaction, 0, n)
	for i := range n {
		body := map[string]any{domain.ColDatetime: times[i].UnixMilli()}
		for name, values := range features {
			body[name] = values[i]
		}
		transactions = append(transactions, Transaction{
			ID:      strconv.FormatInt(index[i], 10),
			IsFraud: labels[i] == 1,
			Body:    body,
		})
	}
	return transactions, nil
}

func runBenchmark(transactions []Transaction, baseURL, tenantID string, numWorkers int, verbose bool) (*Metrics, []Result) {
	metrics := &Metrics{}
	results := make([]Result, len(transactions))

	work := make(chan int, 100)
	var wg sync.WaitGroup

	for range max(numWorkers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for i := range work {
				tx := transactions[i]
				start := time.Now()
				resp, err := predict(client, baseURL, tenantID, tx)

				r := Result{Transaction: tx, LatencyMs: time.Since(start).Milliseconds(), Err: err}
				if err == nil {
					r.Block = resp.Block
				}
				results[i] = r
				metrics.Record(r)

				if verbose {
					printResult(r)
				}
			}
		}()
	}

	for i := range transactions {
		work <- i
	}
	close(work)

	wg.Wait()
	return metrics, results
}

func predict(client *http.Client, baseURL, tenantID string, tx Transaction) (*PredictionResponse, error) {
	body, err := json.Marshal(tx.Body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/model/v0/prediction/"+tx.ID, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result PredictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResult(r Result) {
	if r.Err != nil {
		fmt.Printf("ERROR: %s -> %v\n", r.ID, r.Err)
		return
	}
	status := "ok  "
	if (r.Block == 1) != r.IsFraud {
		status = "MISS"
	}
	fmt.Printf("%s %-10s | Fraud: %-5v | Block: %d | %d ms\n", status, r.ID, r.IsFraud, r.Block, r.LatencyMs)
}

func writeResults(path string, results []Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"transaction_id", "tx_fraud", "transaction_to_block", "latency_ms", "error"}); err != nil {
		return err
	}
	for _, r := range results {
		fraud := "0"
		if r.IsFraud {
			fraud = "1"
		}
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		record := []string{r.ID, fraud, strconv.Itoa(r.Block), strconv.FormatInt(r.LatencyMs, 10), errText}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   BLOCK      ALLOW")
	fmt.Printf("   Actual  F    %8d   %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF    %8d   %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of blocks, how many were actual fraud)\n", m.Precision())
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", m.Recall())
	fmt.Printf("   F1-Score:   %.4f\n", m.F1())
	fmt.Printf("   Accuracy:   %.4f\n", m.Accuracy())

	if m.TotalFraud > 0 {
		fmt.Printf("\n   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, 100*ratio(m.TruePositives, m.TotalFraud))
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalFraud, 100*ratio(m.FalseNegatives, m.TotalFraud))
	}
	if m.TotalNonFraud > 0 {
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, 100*ratio(m.FalsePositives, m.TotalNonFraud))
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
		fmt.Printf("   Throughput:       %.2f tx/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}
