package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/cache"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/engine"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/proto"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/redis"
)

type fakeRetriever struct {
	calls    atomic.Int32
	err      error
	degraded bool
	mu       sync.Mutex
	lastReq  engine.Request
}

func (f *fakeRetriever) Retrieve(_ context.Context, req engine.Request) (model.RetrievalResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastReq = req
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return model.RetrievalResult{}, err
	}
	result := model.RetrievalResult{RetrievalID: req.RetrievalID, Stage: model.StageStrict, SnapshotVersion: 4}
	for i, c := range req.Candidates {
		result.Candidates = append(result.Candidates, model.ScoredCandidate{
			ChunkID:       c.ID,
			DocumentID:    c.DocumentID,
			CombinedScore: 1 / float64(i+1),
			Source:        model.SourceBoth,
		})
	}
	if f.degraded {
		result.AddReason(model.ReasonEmbeddingUnavailable)
	}
	return result, nil
}

func (f *fakeRetriever) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeRetriever) last() engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

type fakeChunks struct {
	stored map[string]model.Chunk
	err    error
}

func (f *fakeChunks) Get(_ context.Context, ids []string) ([]model.Chunk, []string, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	var found []model.Chunk
	var missing []string
	for _, id := range ids {
		if c, ok := f.stored[id]; ok {
			found = append(found, c)
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing, nil
}

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.RetrievalEvent
}

func (r *recordingTracker) Track(_ string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, value.(analytics.RetrievalEvent))
}

type fixture struct {
	handler   *Handler
	retriever *fakeRetriever
	tracker   *recordingTracker
	metrics   *metrics.Metrics
	mux       *http.ServeMux
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	var rc *cache.ResultCache
	if withCache {
		mr := miniredis.RunT(t)
		client, err := pkgredis.NewClient(config.RedisConfig{Addr: mr.Addr(), PoolSize: 4})
		require.NoError(t, err)
		t.Cleanup(func() { client.Close() })
		rc = cache.New(client, time.Minute, m)
	}
	chunks := &fakeChunks{stored: map[string]model.Chunk{
		"s1": {ID: "s1", DocumentID: "d9", Text: "stored vpn chunk"},
	}}
	f := &fixture{
		retriever: &fakeRetriever{},
		tracker:   &recordingTracker{},
		metrics:   m,
		mux:       http.NewServeMux(),
	}
	holder := corpus.NewHolder(&corpus.Snapshot{
		Version:            4,
		TotalDocuments:     10,
		AverageChunkLength: 3.5,
		DocumentFrequency:  map[string]int64{"vpn": 2, "wifi": 1},
	})
	f.handler = New(f.retriever, holder, chunks, rc, f.tracker, m)
	f.handler.Routes(f.mux)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(logger.WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func inlineRequest() proto.RetrieveRequest {
	return proto.RetrieveRequest{
		Query: model.QueryContext{RawText: "vpn drops", PrimaryCategory: "network"},
		Chunks: []model.Chunk{
			{ID: "c1", DocumentID: "d1", Text: "vpn tunnel drops"},
			{ID: "c2", DocumentID: "d2", Text: "wifi setup"},
		},
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestRetrieveInlineChunks(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/api/v1/retrieve", inlineRequest())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[proto.RetrieveResponse](t, rec)
	assert.Equal(t, []string{"c1", "c2"}, resp.ChunkIDs())
	assert.NotEmpty(t, resp.RetrievalID)
	assert.False(t, resp.CacheHit)

	require.Len(t, f.tracker.events, 1)
	event := f.tracker.events[0]
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, resp.RetrievalID, event.RetrievalID)
	assert.Equal(t, 2, event.Candidates)
	assert.Equal(t, "network", event.PrimaryCategory)
	assert.Equal(t, 1, testutil.CollectAndCount(f.metrics.RetrievalLatency))
}

func TestRetrieveResolvesCandidateIDs(t *testing.T) {
	f := newFixture(t, false)
	req := inlineRequest()
	req.CandidateIDs = []string{"s1", "ghost"}

	rec := f.do(t, http.MethodPost, "/api/v1/retrieve", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[proto.RetrieveResponse](t, rec)
	assert.Equal(t, []string{"c1", "c2", "s1"}, resp.ChunkIDs())
	assert.Equal(t, []string{"ghost"}, resp.MissingCandidates)
	assert.Len(t, f.retriever.last().Candidates, 3)
}

func TestRetrieveChunkStoreFailure(t *testing.T) {
	f := newFixture(t, false)
	f.handler.chunks = &fakeChunks{err: errors.New("connection refused")}
	req := inlineRequest()
	req.CandidateIDs = []string{"s1"}

	rec := f.do(t, http.MethodPost, "/api/v1/retrieve", req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, f.retriever.calls.Load())
}

func TestRetrieveCandidateIDsWithoutStore(t *testing.T) {
	f := newFixture(t, false)
	f.handler.chunks = nil
	req := inlineRequest()
	req.CandidateIDs = []string{"s1"}

	rec := f.do(t, http.MethodPost, "/api/v1/retrieve", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrieveErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid query", fmt.Errorf("%w: query has no text", apperrors.ErrInvalidInput), http.StatusBadRequest},
		{"both signals", apperrors.ErrBothSignalsUnavailable, http.StatusServiceUnavailable},
		{"timeout", apperrors.ErrTimeout, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.retriever.fail(tt.err)
			rec := f.do(t, http.MethodPost, "/api/v1/retrieve", inlineRequest())
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
			assert.Empty(t, f.tracker.events)
		})
	}
}

func TestRetrieveMalformedBody(t *testing.T) {
	f := newFixture(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/retrieve", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrieveUsesCache(t *testing.T) {
	f := newFixture(t, true)

	first := decode[proto.RetrieveResponse](t, f.do(t, http.MethodPost, "/api/v1/retrieve", inlineRequest()))
	second := decode[proto.RetrieveResponse](t, f.do(t, http.MethodPost, "/api/v1/retrieve", inlineRequest()))

	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.NotEqual(t, first.RetrievalID, second.RetrievalID)
	assert.Equal(t, first.ChunkIDs(), second.ChunkIDs())
	assert.Equal(t, int32(1), f.retriever.calls.Load())
	require.Len(t, f.tracker.events, 2)
	assert.True(t, f.tracker.events[1].CacheHit)

	skip := inlineRequest()
	skip.SkipCache = true
	third := decode[proto.RetrieveResponse](t, f.do(t, http.MethodPost, "/api/v1/retrieve", skip))
	assert.False(t, third.CacheHit)
	assert.Equal(t, int32(2), f.retriever.calls.Load())
}

func TestRetrieveDoesNotCacheDegraded(t *testing.T) {
	f := newFixture(t, true)
	f.retriever.degraded = true

	f.do(t, http.MethodPost, "/api/v1/retrieve", inlineRequest())
	resp := decode[proto.RetrieveResponse](t, f.do(t, http.MethodPost, "/api/v1/retrieve", inlineRequest()))

	assert.False(t, resp.CacheHit)
	assert.True(t, resp.Degraded)
	assert.Equal(t, int32(2), f.retriever.calls.Load())
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodGet, "/api/v1/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	info := decode[proto.SnapshotInfo](t, rec)
	assert.True(t, info.Loaded)
	assert.Equal(t, int64(4), info.Version)
	assert.Equal(t, 2, info.Terms)

	f.handler.snapshots = corpus.NewHolder(nil)
	info = decode[proto.SnapshotInfo](t, f.do(t, http.MethodGet, "/api/v1/snapshot", nil))
	assert.False(t, info.Loaded)
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t, false)
	assert.Contains(t, f.do(t, http.MethodGet, "/api/v1/cache/stats", nil).Body.String(), "disabled")
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/api/v1/cache/invalidate", nil).Code)

	f = newFixture(t, true)
	f.do(t, http.MethodPost, "/api/v1/retrieve", inlineRequest())
	f.do(t, http.MethodPost, "/api/v1/retrieve", inlineRequest())

	stats := decode[map[string]any](t, f.do(t, http.MethodGet, "/api/v1/cache/stats", nil))
	assert.EqualValues(t, 1, stats["hits"])

	rec := f.do(t, http.MethodPost, "/api/v1/cache/invalidate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["keys_deleted"])
}

func TestRPC(t *testing.T) {
	f := newFixture(t, false)
	server := grpc.NewServer()
	f.handler.RegisterRPC(server)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go server.ServeListener(ln)
	t.Cleanup(server.Stop)

	client, err := grpc.Dial(ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	var resp proto.RetrieveResponse
	require.NoError(t, client.Call(proto.MethodRetrieve, inlineRequest(), &resp))
	assert.Equal(t, []string{"c1", "c2"}, resp.ChunkIDs())

	var health proto.HealthCheckResponse
	require.NoError(t, client.Call(proto.MethodHealth, nil, &health))
	assert.Equal(t, "SERVING", health.Status)

	f.retriever.fail(apperrors.ErrBothSignalsUnavailable)
	err = client.Call(proto.MethodRetrieve, inlineRequest(), &resp)
	var rpcErr *grpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, http.StatusServiceUnavailable, rpcErr.Code)
}
