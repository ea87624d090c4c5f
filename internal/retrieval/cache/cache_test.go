package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/engine"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/redis"
)

func newTestCache(t *testing.T) (*ResultCache, *miniredis.Miniredis, *metrics.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := pkgredis.NewClient(config.RedisConfig{Addr: mr.Addr(), PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	return New(client, time.Minute, m), mr, m
}

func request(id string) engine.Request {
	return engine.Request{
		RetrievalID: id,
		Query:       model.QueryContext{RawText: "vpn drops", PrimaryCategory: "network"},
		Candidates: []model.Chunk{
			{ID: "c1", DocumentID: "d1", Text: "vpn tunnel drops"},
			{ID: "c2", DocumentID: "d1", Text: "wifi setup"},
		},
	}
}

func result(id string, degraded bool) model.RetrievalResult {
	r := model.RetrievalResult{
		RetrievalID:     id,
		Stage:           model.StageStrict,
		SnapshotVersion: 7,
		Candidates:      []model.ScoredCandidate{{ChunkID: "c1", CombinedScore: 0.9, Source: model.SourceBoth}},
	}
	if degraded {
		r.AddReason(model.ReasonEmbeddingUnavailable)
	}
	return r
}

func TestGetOrComputeCachesHealthyResults(t *testing.T) {
	c, _, m := newTestCache(t)
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) (model.RetrievalResult, error) {
		calls++
		return result("first", false), nil
	}

	got, cached, err := c.GetOrCompute(ctx, 7, request("first"), compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "first", got.RetrievalID)

	got, cached, err = c.GetOrCompute(ctx, 7, request("second"), compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "second", got.RetrievalID, "a hit carries the caller's retrieval id")
	assert.Equal(t, []string{"c1"}, got.ChunkIDs())
	assert.Equal(t, 1, calls)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
}

func TestDegradedResultsAreNotCached(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) (model.RetrievalResult, error) {
		calls++
		return result("x", true), nil
	}

	for i := 0; i < 2; i++ {
		_, cached, err := c.GetOrCompute(ctx, 7, request("x"), compute)
		require.NoError(t, err)
		assert.False(t, cached)
	}
	assert.Equal(t, 2, calls)
}

func TestSnapshotVersionIsPartOfKey(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, 7, request("a"), result("a", false))
	_, ok := c.Get(ctx, 7, request("b"))
	assert.True(t, ok)
	_, ok = c.Get(ctx, 8, request("b"))
	assert.False(t, ok)

	k1, err := Key(7, request("a"))
	require.NoError(t, err)
	k2, err := Key(7, request("b"))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	changed := request("a")
	changed.Candidates[1].Text = "wifi setup guide"
	k3, err := Key(7, changed)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestComputeErrorIsReturned(t *testing.T) {
	c, _, _ := newTestCache(t)
	boom := errors.New("both signals down")

	_, _, err := c.GetOrCompute(context.Background(), 1, request("x"), func(context.Context) (model.RetrievalResult, error) {
		return model.RetrievalResult{}, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestConcurrentMissesComputeOnce(t *testing.T) {
	c, _, _ := newTestCache(t)
	var calls atomic.Int32
	compute := func(context.Context) (model.RetrievalResult, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return result("x", false), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), 3, request(""), compute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvalidateAll(t *testing.T) {
	c, mr, _ := newTestCache(t)
	ctx := context.Background()
	c.Set(ctx, 1, request("a"), result("a", false))
	c.Set(ctx, 2, request("a"), result("a", false))
	require.NoError(t, mr.Set("unrelated", "keep"))

	deleted, err := c.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.True(t, mr.Exists("unrelated"))
}

func TestRedisOutageFallsThrough(t *testing.T) {
	c, mr, _ := newTestCache(t)
	mr.Close()

	got, cached, err := c.GetOrCompute(context.Background(), 1, request("x"), func(context.Context) (model.RetrievalResult, error) {
		return result("x", false), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "x", got.RetrievalID)
}

func TestSharedComputeSurvivesFirstCallerCancel(t *testing.T) {
	c, _, _ := newTestCache(t)
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	compute := func(ctx context.Context) (model.RetrievalResult, error) {
		calls.Add(1)
		close(started)
		select {
		case <-release:
			return result("shared", false), nil
		case <-ctx.Done():
			return model.RetrievalResult{}, ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(firstCtx, 5, request("first"), compute)
		firstErr <- err
	}()
	<-started

	secondDone := make(chan struct{})
	var (
		second    model.RetrievalResult
		secondErr error
	)
	go func() {
		defer close(secondDone)
		second, _, secondErr = c.GetOrCompute(context.Background(), 5, request("second"), compute)
	}()

	cancelFirst()
	err := <-firstErr
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)

	close(release)
	<-secondDone
	require.NoError(t, secondErr)
	assert.Equal(t, "second", second.RetrievalID)
	assert.Equal(t, int32(1), calls.Load())

	_, ok := c.Get(context.Background(), 5, request("third"))
	assert.True(t, ok, "the shared result is cached after the first caller left")
}

func TestSharedComputeKeepsCallerDeadline(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	want, _ := ctx.Deadline()

	_, _, err := c.GetOrCompute(ctx, 5, request("x"), func(shared context.Context) (model.RetrievalResult, error) {
		got, ok := shared.Deadline()
		assert.True(t, ok)
		assert.Equal(t, want, got)
		return result("x", false), nil
	})
	require.NoError(t, err)
}
