package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	owners      int
	amount      string
)

var (
	totalRequests uint64
	replays       uint64 // Idempotent-Replayed responses
	success201    uint64
	fail409       uint64 // state conflicts
	fail422       uint64 // rejected, mostly exceeds due
	fail503       uint64 // lock timeouts, retryable
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API base URL")
	flag.IntVar(&concurrency, "workers", 10, "number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "test duration")
	flag.StringVar(&workload, "workload", "uniform", "workload type: uniform | hotspot")
	flag.IntVar(&owners, "owners", 1000, "number of seeded owners (ids 1..n)")
	flag.StringVar(&amount, "amount", "1.00", "amount of each payment")
}

func main() {
	flag.Parse()
	if workload != "uniform" && workload != "hotspot" {
		slog.Error("unknown workload", "workload", workload)
		os.Exit(2)
	}
	slog.Info("starting benchmark", "workload", workload, "workers", concurrency, "duration", duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}
	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		owner := pickOwner()
		method := "cash"
		if rand.IntN(2) == 0 {
			method = "online"
		}
		body, _ := json.Marshal(map[string]string{"amount": amount, "method": method})

		url := fmt.Sprintf("%s/api/v1/owners/%d/payments", targetURL, owner)
		req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", uuid.NewString())

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.Header.Get("Idempotent-Replayed") == "true":
			atomic.AddUint64(&replays, 1)
		case resp.StatusCode == http.StatusCreated:
			atomic.AddUint64(&success201, 1)
		case resp.StatusCode == http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case resp.StatusCode == http.StatusUnprocessableEntity:
			atomic.AddUint64(&fail422, 1)
		case resp.StatusCode == http.StatusServiceUnavailable:
			atomic.AddUint64(&fail503, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// pickOwner sends 90% of hotspot traffic to owner 1, so every such
// request queues on the same owner lock.
func pickOwner() int64 {
	if workload == "hotspot" && rand.Float32() < 0.90 {
		return 1
	}
	return int64(rand.IntN(owners) + 1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	f503 := atomic.LoadUint64(&fail503)

	var retryRate float64
	if total > 0 {
		retryRate = float64(f503) / float64(total) * 100
	}
	results := map[string]any{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  float64(total) / d.Seconds(),
		"success_created": atomic.LoadUint64(&success201),
		"success_replay":  atomic.LoadUint64(&replays),
		"conflicts":       atomic.LoadUint64(&fail409),
		"rejected":        atomic.LoadUint64(&fail422),
		"unavailable":     f503,
		"unavailable_pct": retryRate,
		"errors":          atomic.LoadUint64(&failOther),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		slog.Error("unable to write results", "file", filename, "error", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
