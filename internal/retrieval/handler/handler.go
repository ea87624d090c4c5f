// Package handler exposes the retrieval engine over HTTP and the internal
// RPC transport. Both paths share one code path that resolves candidates,
// consults the result cache and reports the outcome to analytics.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/cache"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/engine"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/proto"
)

const maxBodyBytes = 8 << 20

type Retriever interface {
	Retrieve(ctx context.Context, req engine.Request) (model.RetrievalResult, error)
}

// ChunkSource resolves candidate ids to chunks and reports the ids it could
// not find.
type ChunkSource interface {
	Get(ctx context.Context, ids []string) ([]model.Chunk, []string, error)
}

type Handler struct {
	retriever Retriever
	snapshots corpus.Source
	chunks    ChunkSource
	cache     *cache.ResultCache
	tracker   analytics.Tracker
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New wires a handler. chunks, resultCache, tracker and m may be nil.
func New(
	retriever Retriever,
	snapshots corpus.Source,
	chunks ChunkSource,
	resultCache *cache.ResultCache,
	tracker analytics.Tracker,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		retriever: retriever,
		snapshots: snapshots,
		chunks:    chunks,
		cache:     resultCache,
		tracker:   tracker,
		metrics:   m,
		logger:    slog.Default().With("component", "retrieval-handler"),
	}
}

// Routes registers the HTTP endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/retrieve", h.Retrieve)
	mux.HandleFunc("GET /api/v1/snapshot", h.Snapshot)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// RegisterRPC exposes the same operations on an RPC server.
func (h *Handler) RegisterRPC(s *grpc.Server) {
	s.Register(proto.MethodRetrieve, func(ctx context.Context, params json.RawMessage) (any, error) {
		var req proto.RetrieveRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("%w: decoding request: %v", apperrors.ErrInvalidInput, err)
		}
		return h.retrieve(ctx, req)
	})
	s.Register(proto.MethodSnapshot, func(context.Context, json.RawMessage) (any, error) {
		return h.snapshotInfo(), nil
	})
	s.Register(proto.MethodHealth, func(context.Context, json.RawMessage) (any, error) {
		status := "SERVING"
		if h.snapshots.Current() == nil {
			status = "NOT_SERVING"
		}
		return proto.HealthCheckResponse{Status: status}, nil
	})
}

func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req proto.RetrieveRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	resp, err := h.retrieve(r.Context(), req)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) retrieve(ctx context.Context, req proto.RetrieveRequest) (proto.RetrieveResponse, error) {
	start := time.Now()
	log := logger.FromContext(ctx)

	candidates, missing, err := h.resolveCandidates(ctx, req)
	if err != nil {
		return proto.RetrieveResponse{}, err
	}
	engineReq := engine.Request{
		RetrievalID: uuid.NewString(),
		Query:       req.Query,
		Candidates:  candidates,
	}

	var result model.RetrievalResult
	cacheStatus := "bypass"
	cacheHit := false
	if h.cache != nil && !req.SkipCache {
		var version int64
		if snap := h.snapshots.Current(); snap != nil {
			version = snap.Version
		}
		result, cacheHit, err = h.cache.GetOrCompute(ctx, version, engineReq, func(ctx context.Context) (model.RetrievalResult, error) {
			return h.retriever.Retrieve(ctx, engineReq)
		})
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	} else {
		result, err = h.retriever.Retrieve(ctx, engineReq)
	}
	latency := time.Since(start)
	if h.metrics != nil {
		h.metrics.RetrievalLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	}
	if err != nil {
		log.Error("retrieval failed",
			"retrieval_id", engineReq.RetrievalID,
			"candidates", len(candidates),
			"error", err,
		)
		return proto.RetrieveResponse{}, err
	}

	log.Info("retrieval completed",
		"retrieval_id", result.RetrievalID,
		"stage", result.Stage,
		"returned", len(result.Candidates),
		"degraded", result.Degraded,
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	if h.tracker != nil {
		event := analytics.NewRetrievalEvent(req.Query, len(candidates), result, cacheHit, latency)
		event.RequestID = logger.RequestID(ctx)
		h.tracker.Track(result.RetrievalID, event)
	}

	return proto.RetrieveResponse{
		RetrievalResult:   result,
		CacheHit:          cacheHit,
		MissingCandidates: missing,
		LatencyMs:         latency.Milliseconds(),
	}, nil
}

// resolveCandidates returns the inline chunks followed by the stored chunks
// for CandidateIDs. Unknown ids are reported, not fatal.
func (h *Handler) resolveCandidates(ctx context.Context, req proto.RetrieveRequest) ([]model.Chunk, []string, error) {
	if len(req.CandidateIDs) == 0 {
		return req.Chunks, nil, nil
	}
	if h.chunks == nil {
		return nil, nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"candidate_ids given but no chunk store is configured")
	}
	stored, missing, err := h.chunks.Get(ctx, req.CandidateIDs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, nil, fmt.Errorf("%w: resolving candidates: %v", apperrors.ErrTimeout, err)
		}
		return nil, nil, apperrors.Newf(apperrors.ErrInternal, http.StatusServiceUnavailable,
			"resolving candidates: %v", err)
	}
	if len(missing) > 0 {
		logger.FromContext(ctx).Warn("candidate ids not found", "missing", len(missing))
	}
	candidates := make([]model.Chunk, 0, len(req.Chunks)+len(stored))
	candidates = append(candidates, req.Chunks...)
	candidates = append(candidates, stored...)
	return candidates, missing, nil
}

func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.snapshotInfo())
}

func (h *Handler) snapshotInfo() proto.SnapshotInfo {
	snap := h.snapshots.Current()
	if snap == nil {
		return proto.SnapshotInfo{}
	}
	return proto.SnapshotInfo{
		Loaded:             true,
		Version:            snap.Version,
		BuiltAt:            snap.BuiltAt,
		TotalDocuments:     snap.TotalDocuments,
		AverageChunkLength: snap.AverageChunkLength,
		Terms:              len(snap.DocumentFrequency),
	}
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": hitRate,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.InvalidateAll(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
