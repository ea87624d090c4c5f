// Command loadtest drives the retriever over its RPC transport and reports
// latency percentiles, the degraded ratio and the winning cascade stages.
//
// Usage:
//
//	go run ./cmd/loadtest -addr localhost:9000 -concurrency 16 -duration 30s [-rps 200]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/proto"
)

type Config struct {
	Addr        string
	Concurrency int
	Duration    time.Duration
	RPS         float64
	Timeout     time.Duration
	Queries     []model.QueryContext
	Candidates  []model.Chunk
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	degradedCount atomic.Int64
	cacheHits     atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	stages    map[model.Stage]int64
	codes     map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 100000),
		stages:    make(map[model.Stage]int64),
		codes:     make(map[int]int64),
	}
}

func (s *Stats) Record(duration time.Duration, resp *proto.RetrieveResponse, err error) {
	s.totalRequests.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		code := 0
		var rpcErr *grpc.Error
		if errors.As(err, &rpcErr) {
			code = rpcErr.Code
		}
		s.mu.Lock()
		s.codes[code]++
		s.mu.Unlock()
		return
	}
	s.successCount.Add(1)
	if resp.Degraded {
		s.degradedCount.Add(1)
	}
	if resp.CacheHit {
		s.cacheHits.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, duration)
	s.stages[resp.Stage]++
	s.mu.Unlock()
}

func main() {
	addr := flag.String("addr", "localhost:9000", "RPC address of the retriever")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers, each with its own connection")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	rps := flag.Float64("rps", 0, "global request rate limit, 0 for unlimited")
	timeout := flag.Duration("timeout", 5*time.Second, "per-call deadline")
	flag.Parse()

	cfg := Config{
		Addr:        *addr,
		Concurrency: *concurrency,
		Duration:    *duration,
		RPS:         *rps,
		Timeout:     *timeout,
		Queries:     sampleQueries(),
		Candidates:  sampleCandidates(),
	}

	fmt.Println("=== Retrieval Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.Addr)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique, %d candidates each\n", len(cfg.Queries), len(cfg.Candidates))
	fmt.Println()

	stats, err := runLoadTest(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}
	printReport(stats, cfg.Duration)
}

func runLoadTest(cfg Config) (*Stats, error) {
	clients := make([]*grpc.Client, cfg.Concurrency)
	for i := range clients {
		c, err := grpc.Dial(cfg.Addr)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		clients[i] = c
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Concurrency)
	}

	stats := NewStats()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")
	for w, client := range clients {
		wg.Add(1)
		go func(workerID int, client *grpc.Client) {
			defer wg.Done()
			queryIdx := workerID
			for ctx.Err() == nil {
				if limiter != nil && limiter.Wait(ctx) != nil {
					return
				}
				req := proto.RetrieveRequest{
					Query:  cfg.Queries[queryIdx%len(cfg.Queries)],
					Chunks: cfg.Candidates,
				}
				queryIdx++

				callCtx, callCancel := context.WithTimeout(ctx, cfg.Timeout)
				start := time.Now()
				var resp proto.RetrieveResponse
				err := client.CallContext(callCtx, proto.MethodRetrieve, req, &resp)
				callCancel()
				if ctx.Err() != nil {
					return
				}
				stats.Record(time.Since(start), &resp, err)
			}
		}(w, client)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats, nil
}

func sampleQueries() []model.QueryContext {
	raw := []struct {
		text     string
		category string
		keywords []string
	}{
		{"vpn keeps disconnecting", "network", []string{"vpn", "disconnect"}},
		{"reset my password", "accounts", []string{"password", "reset"}},
		{"printer offline after update", "hardware", []string{"printer", "offline"}},
		{"outlook not syncing mail", "email", []string{"outlook", "sync"}},
		{"request software license", "software", []string{"license"}},
		{"wifi slow on floor three", "network", []string{"wifi", "slow"}},
		{"mfa code not arriving", "accounts", []string{"mfa", "code"}},
		{"laptop battery drains fast", "hardware", []string{"battery"}},
	}
	queries := make([]model.QueryContext, len(raw))
	for i, r := range raw {
		queries[i] = model.QueryContext{
			RawText:         r.text,
			PrimaryCategory: r.category,
			Keywords:        r.keywords,
		}
	}
	return queries
}

func sampleCandidates() []model.Chunk {
	texts := []struct {
		text     string
		category string
	}{
		{"Reconnect the VPN client and check the tunnel status in the tray icon", "network"},
		{"VPN disconnects are usually caused by idle timeouts on the gateway", "network"},
		{"Use the self-service portal to reset a forgotten password", "accounts"},
		{"MFA codes can be delayed; use the authenticator app instead of SMS", "accounts"},
		{"Set the printer back online from the devices control panel", "hardware"},
		{"Outlook sync issues are fixed by rebuilding the offline cache", "email"},
		{"Software licenses are requested through the service catalog", "software"},
		{"Slow wifi on a single floor points at an overloaded access point", "network"},
		{"Battery drain can be reduced by lowering screen brightness", "hardware"},
		{"Clear cached credentials after a password change to stop lockouts", "accounts"},
	}
	chunks := make([]model.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = model.Chunk{
			ID:         fmt.Sprintf("kb-%02d", i),
			DocumentID: fmt.Sprintf("doc-%d", i/2),
			Text:       t.text,
			Metadata:   model.ChunkMetadata{Categories: []string{t.category}, TechnicalLevel: 1 + i%3},
		}
	}
	return chunks
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	failed := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", failed)
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(failed)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}
	if success > 0 {
		fmt.Printf("Degraded:        %.2f%%\n", float64(stats.degradedCount.Load())/float64(success)*100)
		fmt.Printf("Cache Hits:      %.2f%%\n", float64(stats.cacheHits.Load())/float64(success)*100)
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()

	latencies := stats.latencies
	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])

		var sumSquared float64
		for _, l := range latencies {
			diff := float64(l) - float64(avg)
			sumSquared += diff * diff
		}
		fmt.Printf("StdDev: %s\n", time.Duration(math.Sqrt(sumSquared/float64(len(latencies)))))
	}

	if len(stats.stages) > 0 {
		fmt.Println()
		fmt.Println("=== Winning Stage ===")
		names := make([]string, 0, len(stats.stages))
		for stage := range stats.stages {
			names = append(names, string(stage))
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-16s %d\n", name, stats.stages[model.Stage(name)])
		}
	}

	if len(stats.codes) > 0 {
		fmt.Println()
		fmt.Println("=== Error Codes ===")
		codes := make([]int, 0, len(stats.codes))
		for code := range stats.codes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Printf("  %d: %d\n", code, stats.codes[code])
		}
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the retriever running?")
	}
}

func percentile(sorted []time.Duration, pct float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(pct/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
