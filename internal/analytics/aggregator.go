package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/kafka"
)

const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalRetrievals     int64            `json:"total_retrievals"`
	DegradedCount       int64            `json:"degraded_count"`
	DegradedRate        float64          `json:"degraded_rate"`
	CacheHits           int64            `json:"cache_hits"`
	CacheMisses         int64            `json:"cache_misses"`
	ZeroResultCount     int64            `json:"zero_result_count"`
	AvgLatencyMs        float64          `json:"avg_latency_ms"`
	P50LatencyMs        int64            `json:"p50_latency_ms"`
	P95LatencyMs        int64            `json:"p95_latency_ms"`
	P99LatencyMs        int64            `json:"p99_latency_ms"`
	Stages              map[string]int64 `json:"stages"`
	Reasons             map[string]int64 `json:"reasons"`
	RerankOutcomes      map[string]int64 `json:"rerank_outcomes"`
	TopQueries          []QueryCount     `json:"top_queries"`
	ZeroResultQueries   []QueryCount     `json:"zero_result_queries"`
	RetrievalsPerMinute float64          `json:"retrievals_per_minute"`
	SnapshotSwaps       int64            `json:"snapshot_swaps"`
	SnapshotVersion     int64            `json:"snapshot_version"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds retrieval and snapshot events into running totals. Only
// the most recent latency samples are kept for the percentiles.
type Aggregator struct {
	mu                sync.RWMutex
	total             int64
	degraded          int64
	cacheHits         int64
	cacheMisses       int64
	zeroResults       int64
	latencies         []int64
	latencyNext       int
	stages            map[string]int64
	reasons           map[string]int64
	rerankOutcomes    map[string]int64
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	snapshotSwaps     int64
	snapshotVersion   int64
	startTime         time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, 1024),
		stages:            make(map[string]int64),
		reasons:           make(map[string]int64),
		rerankOutcomes:    make(map[string]int64),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent adapts the aggregator to a Kafka consumer. Undecodable
// messages are logged and skipped so they do not block the partition.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		var envelope struct {
			Type EventType `json:"type"`
		}
		if err := json.Unmarshal(value, &envelope); err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		switch envelope.Type {
		case EventRetrieval:
			event, err := kafka.DecodeJSON[RetrievalEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode retrieval event", "error", err)
				return nil
			}
			agg.RecordRetrieval(event)
		case EventSnapshotSwap:
			event, err := kafka.DecodeJSON[SnapshotEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode snapshot event", "error", err)
				return nil
			}
			agg.RecordSnapshot(event)
		default:
			agg.logger.Warn("unknown analytics event type", "type", envelope.Type, "key", string(key))
		}
		return nil
	}
}

func (a *Aggregator) RecordRetrieval(event RetrievalEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	if event.Degraded {
		a.degraded++
	}
	if event.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	a.stages[event.Stage]++
	for _, r := range event.Reasons {
		a.reasons[r]++
	}
	if event.RerankOutcome != "" {
		a.rerankOutcomes[event.RerankOutcome]++
	}
	a.queryCounts[event.Query]++
	if event.Returned == 0 {
		a.zeroResults++
		a.zeroResultQueries[event.Query]++
	}

	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.latencyNext] = event.LatencyMs
		a.latencyNext = (a.latencyNext + 1) % maxLatencySamples
	}
}

func (a *Aggregator) RecordSnapshot(event SnapshotEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshotSwaps++
	if event.Version > a.snapshotVersion {
		a.snapshotVersion = event.Version
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalRetrievals: a.total,
		DegradedCount:   a.degraded,
		CacheHits:       a.cacheHits,
		CacheMisses:     a.cacheMisses,
		ZeroResultCount: a.zeroResults,
		Stages:          copyCounts(a.stages),
		Reasons:         copyCounts(a.reasons),
		RerankOutcomes:  copyCounts(a.rerankOutcomes),
		SnapshotSwaps:   a.snapshotSwaps,
		SnapshotVersion: a.snapshotVersion,
	}
	if a.total > 0 {
		stats.DegradedRate = float64(a.degraded) / float64(a.total)
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.RetrievalsPerMinute = float64(a.total) / elapsed
	}
	return stats
}

// Restore seeds the counters from a persisted snapshot. Latency samples
// are not persisted and start empty.
func (a *Aggregator) Restore(stats AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total = stats.TotalRetrievals
	a.degraded = stats.DegradedCount
	a.cacheHits = stats.CacheHits
	a.cacheMisses = stats.CacheMisses
	a.zeroResults = stats.ZeroResultCount
	a.stages = copyCounts(stats.Stages)
	a.reasons = copyCounts(stats.Reasons)
	a.rerankOutcomes = copyCounts(stats.RerankOutcomes)
	for _, q := range stats.TopQueries {
		a.queryCounts[q.Query] = q.Count
	}
	for _, q := range stats.ZeroResultQueries {
		a.zeroResultQueries[q.Query] = q.Count
	}
	a.snapshotSwaps = stats.SnapshotSwaps
	a.snapshotVersion = stats.SnapshotVersion
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n largest counts, ties broken by query text.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
