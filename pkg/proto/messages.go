// Package proto defines the messages exchanged with the retriever, both as
// HTTP JSON bodies and over the JSON-over-TCP RPC layer in pkg/grpc.
package proto

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
)

// RPC method names.
const (
	MethodRetrieve = "RetrievalService.Retrieve"
	MethodSnapshot = "RetrievalService.Snapshot"
	MethodHealth   = "RetrievalService.Health"
)

// RetrieveRequest is the input to Retrieve. Candidates are given either
// inline as Chunks or as CandidateIDs resolved through the chunk store; when
// both are set the inline chunks come first.
type RetrieveRequest struct {
	Query        model.QueryContext `json:"query"`
	CandidateIDs []string           `json:"candidate_ids,omitempty"`
	Chunks       []model.Chunk      `json:"chunks,omitempty"`
	// SkipCache forces a fresh retrieval.
	SkipCache bool `json:"skip_cache,omitempty"`
}

// RetrieveResponse wraps the engine result with request-level facts.
type RetrieveResponse struct {
	model.RetrievalResult
	CacheHit          bool     `json:"cache_hit"`
	MissingCandidates []string `json:"missing_candidates,omitempty"`
	LatencyMs         int64    `json:"latency_ms"`
}

// SnapshotInfo describes the corpus snapshot currently in use.
type SnapshotInfo struct {
	Loaded             bool      `json:"loaded"`
	Version            int64     `json:"version"`
	BuiltAt            time.Time `json:"built_at"`
	TotalDocuments     int64     `json:"total_documents"`
	AverageChunkLength float64   `json:"average_chunk_length"`
	Terms              int       `json:"terms"`
}

// HealthCheckResponse mirrors the gRPC health check statuses.
type HealthCheckResponse struct {
	Status string `json:"status"` // SERVING, NOT_SERVING
}
