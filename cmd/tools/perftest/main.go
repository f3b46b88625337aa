// main.go - Load testing tool for the popup event endpoints
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"log/slog"

	v1 "referly/api/v1"
)

// PerfConfig holds the configuration for the performance test
type PerfConfig struct {
	BaseURL      string
	PopupID      int
	Domains      []string
	ClickRatio   float64
	Concurrency  int
	Duration     time.Duration
	EventsPerSec int
	Timeout      time.Duration
	Verify       bool
}

// PerfStats holds statistics about the performance test
type PerfStats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	AcceptedViews      int64
	AcceptedClicks     int64
	StartTime          time.Time
	EndTime            time.Time

	mu            sync.Mutex
	statusCodes   map[int]int64
	responseTimes []time.Duration
}

// Result captures the result of a single request
type Result struct {
	Duration   time.Duration
	StatusCode int
	Click      bool
	Error      error
}

// popupTotals is the part of GET /api/popups/:id the verification reads.
type popupTotals struct {
	ViewsTotal  int64 `json:"views_total"`
	ClicksTotal int64 `json:"clicks_total"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "Base URL of the API")
	popupID := flag.Int("popup", 1, "Popup id to send events for")
	domains := flag.String("domains", "blog.example,news.example,reviews.example", "Comma separated referring domains")
	clickRatio := flag.Float64("clicks", 0.1, "Fraction of events that are clicks")
	concurrency := flag.Int("c", 10, "Number of concurrent clients")
	duration := flag.Duration("d", 30*time.Second, "Duration of the test")
	eventsPerSec := flag.Int("rate", 0, "Target events per second (0 = unlimited)")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	verify := flag.Bool("verify", true, "Compare popup totals before and after the run")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	config := &PerfConfig{
		BaseURL:      strings.TrimSuffix(*baseURL, "/"),
		PopupID:      *popupID,
		Domains:      strings.Split(*domains, ","),
		ClickRatio:   *clickRatio,
		Concurrency:  *concurrency,
		Duration:     *duration,
		EventsPerSec: *eventsPerSec,
		Timeout:      *timeout,
		Verify:       *verify,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: config.Timeout}

	var before popupTotals
	if config.Verify {
		var err error
		if before, err = fetchTotals(client, config); err != nil {
			logger.Error("Failed to read popup totals", slog.Any("error", err))
			os.Exit(1)
		}
	}

	fmt.Printf("Sending popup %d events with %d clients for %v\n", config.PopupID, config.Concurrency, config.Duration)
	stats := &PerfStats{statusCodes: make(map[int]int64), StartTime: time.Now()}

	testCtx, cancel := context.WithTimeout(ctx, config.Duration)
	defer cancel()
	for result := range runTest(testCtx, client, config, logger) {
		processResult(result, stats)
	}
	stats.EndTime = time.Now()

	printResults(stats)

	if config.Verify {
		after, err := fetchTotals(client, config)
		if err != nil {
			logger.Error("Failed to read popup totals", slog.Any("error", err))
			os.Exit(1)
		}
		if !verifyTotals(before, after, stats) {
			os.Exit(2)
		}
	}
}

// runTest starts the workers and returns a channel for results
func runTest(ctx context.Context, client *http.Client, config *PerfConfig, logger *slog.Logger) <-chan Result {
	resultChan := make(chan Result, config.Concurrency*10)
	var wg sync.WaitGroup

	perWorker := 0.0
	if config.EventsPerSec > 0 {
		perWorker = float64(config.EventsPerSec) / float64(config.Concurrency)
		logger.Info("Rate limiting enabled", slog.Float64("requestsPerSecPerWorker", perWorker))
	}

	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(workerID)))

			var ticker *time.Ticker
			if perWorker > 0 {
				ticker = time.NewTicker(time.Duration(float64(time.Second) / perWorker))
				defer ticker.Stop()
			}

			for {
				if ticker != nil {
					select {
					case <-ticker.C:
					case <-ctx.Done():
						return
					}
				} else if ctx.Err() != nil {
					return
				}

				click := rng.Float64() < config.ClickRatio
				domain := config.Domains[rng.IntN(len(config.Domains))]
				resultChan <- sendRequest(ctx, client, config, domain, click)
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	return resultChan
}

// sendRequest records one view or click
func sendRequest(ctx context.Context, client *http.Client, config *PerfConfig, domain string, click bool) Result {
	kind := "view"
	if click {
		kind = "click"
	}
	payload, err := json.Marshal(v1.RecordEventParams{Domain: domain})
	if err != nil {
		return Result{Click: click, Error: err}
	}

	url := fmt.Sprintf("%s/api/popups/%d/%s", config.BaseURL, config.PopupID, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{Click: click, Error: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		// Requests cut off by the end of the test are not failures.
		if ctx.Err() != nil {
			return Result{Click: click, Error: ctx.Err()}
		}
		return Result{Duration: elapsed, Click: click, Error: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return Result{Duration: elapsed, StatusCode: resp.StatusCode, Click: click}
}

func processResult(result Result, stats *PerfStats) {
	if errors.Is(result.Error, context.DeadlineExceeded) || errors.Is(result.Error, context.Canceled) {
		return
	}
	atomic.AddInt64(&stats.TotalRequests, 1)
	if result.Error != nil {
		atomic.AddInt64(&stats.FailedRequests, 1)
		return
	}

	stats.mu.Lock()
	stats.statusCodes[result.StatusCode]++
	stats.responseTimes = append(stats.responseTimes, result.Duration)
	stats.mu.Unlock()

	if result.StatusCode != http.StatusAccepted {
		atomic.AddInt64(&stats.FailedRequests, 1)
		return
	}
	atomic.AddInt64(&stats.SuccessfulRequests, 1)
	if result.Click {
		atomic.AddInt64(&stats.AcceptedClicks, 1)
	} else {
		atomic.AddInt64(&stats.AcceptedViews, 1)
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// printResults displays the test results in an aligned table
func printResults(stats *PerfStats) {
	elapsed := stats.EndTime.Sub(stats.StartTime)
	sort.Slice(stats.responseTimes, func(i, j int) bool {
		return stats.responseTimes[i] < stats.responseTimes[j]
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "\n%s\t%s\n", "METRIC", "VALUE")
	fmt.Fprintf(w, "%s\t%s\n", "------", "-----")
	fmt.Fprintf(w, "Duration\t%v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Total Requests\t%d\n", stats.TotalRequests)
	fmt.Fprintf(w, "Requests Per Second\t%.2f\n", float64(stats.TotalRequests)/elapsed.Seconds())
	fmt.Fprintf(w, "Accepted Views\t%d\n", stats.AcceptedViews)
	fmt.Fprintf(w, "Accepted Clicks\t%d\n", stats.AcceptedClicks)
	fmt.Fprintf(w, "Failed Requests\t%d\n", stats.FailedRequests)
	fmt.Fprintf(w, "p50 Latency\t%v\n", percentile(stats.responseTimes, 0.50))
	fmt.Fprintf(w, "p95 Latency\t%v\n", percentile(stats.responseTimes, 0.95))
	fmt.Fprintf(w, "p99 Latency\t%v\n", percentile(stats.responseTimes, 0.99))
	w.Flush()

	if len(stats.statusCodes) > 0 {
		codes := make([]int, 0, len(stats.statusCodes))
		for code := range stats.statusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		fmt.Println("\nStatus Code Distribution:")
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, code := range codes {
			fmt.Fprintf(w, "%d\t%d\n", code, stats.statusCodes[code])
		}
		w.Flush()
	}
}

func fetchTotals(client *http.Client, config *PerfConfig) (popupTotals, error) {
	var totals popupTotals
	resp, err := client.Get(fmt.Sprintf("%s/api/popups/%d", config.BaseURL, config.PopupID))
	if err != nil {
		return totals, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return totals, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&totals)
	return totals, err
}

// verifyTotals checks that every accepted event was counted exactly once.
// Other traffic hitting the same popup during the run shows up as a surplus.
func verifyTotals(before, after popupTotals, stats *PerfStats) bool {
	views := after.ViewsTotal - before.ViewsTotal
	clicks := after.ClicksTotal - before.ClicksTotal

	fmt.Println("\nCounter Verification:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\t%s\n", "COUNTER", "ACCEPTED", "STORED")
	fmt.Fprintf(w, "views\t%d\t%d\n", stats.AcceptedViews, views)
	fmt.Fprintf(w, "clicks\t%d\t%d\n", stats.AcceptedClicks, clicks)
	w.Flush()

	if views < stats.AcceptedViews || clicks < stats.AcceptedClicks {
		fmt.Println("LOST UPDATES: stored totals are below the accepted events")
		return false
	}
	fmt.Println("OK: no accepted event was lost")
	return true
}
