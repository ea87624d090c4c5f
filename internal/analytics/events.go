package analytics

import (
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
)

type EventType string

const (
	EventRetrieval    EventType = "retrieval"
	EventSnapshotSwap EventType = "snapshot_swap"
)

// RetrievalEvent summarises one answered retrieval.
type RetrievalEvent struct {
	Type            EventType `json:"type"`
	RetrievalID     string    `json:"retrieval_id"`
	RequestID       string    `json:"request_id,omitempty"`
	Query           string    `json:"query"`
	PrimaryCategory string    `json:"primary_category,omitempty"`
	Stage           string    `json:"stage"`
	Degraded        bool      `json:"degraded"`
	Reasons         []string  `json:"reasons,omitempty"`
	Candidates      int       `json:"candidates"`
	Returned        int       `json:"returned"`
	RerankOutcome   string    `json:"rerank_outcome"`
	CacheHit        bool      `json:"cache_hit"`
	SnapshotVersion int64     `json:"snapshot_version"`
	LatencyMs       int64     `json:"latency_ms"`
	Timestamp       time.Time `json:"timestamp"`
}

// SnapshotEvent records a corpus snapshot swap.
type SnapshotEvent struct {
	Type            EventType `json:"type"`
	Version         int64     `json:"version"`
	PreviousVersion int64     `json:"previous_version"`
	Documents       int64     `json:"documents"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewRetrievalEvent builds the event for a finished retrieval.
func NewRetrievalEvent(q model.QueryContext, candidates int, result model.RetrievalResult, cacheHit bool, latency time.Duration) RetrievalEvent {
	reasons := make([]string, len(result.Reasons))
	for i, r := range result.Reasons {
		reasons[i] = string(r)
	}
	query := q.RawText
	if query == "" && len(q.Keywords) > 0 {
		query = strings.Join(q.Keywords, " ")
	}
	return RetrievalEvent{
		Type:            EventRetrieval,
		RetrievalID:     result.RetrievalID,
		Query:           query,
		PrimaryCategory: q.PrimaryCategory,
		Stage:           string(result.Stage),
		Degraded:        result.Degraded,
		Reasons:         reasons,
		Candidates:      candidates,
		Returned:        len(result.Candidates),
		RerankOutcome:   RerankOutcome(result),
		CacheHit:        cacheHit,
		SnapshotVersion: result.SnapshotVersion,
		LatencyMs:       latency.Milliseconds(),
		Timestamp:       time.Now().UTC(),
	}
}

// RerankOutcome infers what the reranker did from the result alone.
func RerankOutcome(result model.RetrievalResult) string {
	switch {
	case result.HasReason(model.ReasonRerankTimeout):
		return "timeout"
	case result.HasReason(model.ReasonRerankMalformed):
		return "malformed"
	case result.HasReason(model.ReasonRerankFailed):
		return "failed"
	}
	for _, c := range result.Candidates {
		if c.IsReranked() {
			return "ok"
		}
	}
	return "skipped"
}
