// Package cache keeps recent retrieval results in Redis. Keys embed the
// corpus snapshot version, so a snapshot swap retires every older entry
// without an explicit flush.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/engine"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/metrics"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/redis"
)

const keyPrefix = "retrieval:"

type ResultCache struct {
	client  *pkgredis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a cache. m may be nil.
func New(client *pkgredis.Client, ttl time.Duration, m *metrics.Metrics) *ResultCache {
	return &ResultCache{
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "result-cache"),
	}
}

// Get looks up a cached result for req under snapshot version.
func (c *ResultCache) Get(ctx context.Context, version int64, req engine.Request) (model.RetrievalResult, bool) {
	key, err := Key(version, req)
	if err != nil {
		c.logger.Error("cache key failed", "error", err)
		c.miss()
		return model.RetrievalResult{}, false
	}
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, pkgredis.ErrMiss) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return model.RetrievalResult{}, false
	}
	var result model.RetrievalResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return model.RetrievalResult{}, false
	}
	c.hit()
	c.logger.Debug("cache hit", "key", key, "snapshot_version", version)
	return result, true
}

// Set stores result unless it is degraded. Degraded results reflect a
// transient failure and must be recomputed on the next request.
func (c *ResultCache) Set(ctx context.Context, version int64, req engine.Request, result model.RetrievalResult) {
	if result.Degraded {
		return
	}
	key, err := Key(version, req)
	if err != nil {
		c.logger.Error("cache key failed", "error", err)
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result or runs compute once for all
// concurrent callers with the same key. The shared compute runs on a
// context detached from the first caller's cancellation but bounded by its
// deadline, so one client going away does not fail the others. Each caller
// still stops waiting when its own ctx ends. The returned result always
// carries req's retrieval id when one was given.
func (c *ResultCache) GetOrCompute(
	ctx context.Context,
	version int64,
	req engine.Request,
	compute func(ctx context.Context) (model.RetrievalResult, error),
) (model.RetrievalResult, bool, error) {
	if result, ok := c.Get(ctx, version, req); ok {
		return withID(result, req.RetrievalID), true, nil
	}
	key, err := Key(version, req)
	if err != nil {
		result, err := compute(ctx)
		return result, false, err
	}
	ch := c.group.DoChan(key, func() (any, error) {
		shared, cancel := detach(ctx)
		defer cancel()
		if result, ok := c.Get(shared, version, req); ok {
			return result, nil
		}
		result, err := compute(shared)
		if err != nil {
			return nil, err
		}
		c.Set(shared, version, req, result)
		return result, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return model.RetrievalResult{}, false, res.Err
		}
		return withID(res.Val.(model.RetrievalResult), req.RetrievalID), false, nil
	case <-ctx.Done():
		return model.RetrievalResult{}, false, fmt.Errorf("%w: waiting for shared retrieval: %w", apperrors.ErrTimeout, ctx.Err())
	}
}

// detach keeps ctx's values and deadline but drops its cancellation.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	shared := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(shared, deadline)
	}
	return context.WithCancel(shared)
}

// InvalidateAll drops every cached result.
func (c *ResultCache) InvalidateAll(ctx context.Context) (int64, error) {
	deleted, err := c.client.DeletePrefix(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *ResultCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Key derives the cache key from the snapshot version and the request's
// query and candidates. The retrieval id is not part of the key.
func Key(version int64, req engine.Request) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	if err := enc.Encode(req.Query); err != nil {
		return "", fmt.Errorf("encoding query: %w", err)
	}
	if err := enc.Encode(req.Candidates); err != nil {
		return "", fmt.Errorf("encoding candidates: %w", err)
	}
	return fmt.Sprintf("%sv%d:%x", keyPrefix, version, h.Sum(nil)[:16]), nil
}

func withID(result model.RetrievalResult, id string) model.RetrievalResult {
	if id != "" {
		result.RetrievalID = id
	}
	return result
}

func (c *ResultCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *ResultCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
