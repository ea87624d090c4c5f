// Command retriever runs the hybrid retrieval service.
//
// It loads the corpus statistics snapshot (Postgres, or a JSON file for local
// runs), keeps it current from snapshot-rebuilt notifications on Kafka, and
// serves POST /api/v1/retrieve over HTTP plus RetrievalService.Retrieve over
// the internal RPC transport. Results are cached in Redis and every answered
// retrieval is published as an analytics event.
//
// Usage:
//
//	go run ./cmd/retriever [-config configs/config.yaml] [-snapshot-file corpus.json] [-migrate]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/remote"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/cache"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/chunkstore"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/engine"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/handler"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/lexical"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/rerank"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/tracing"
)

// trackCloser is satisfied by both analytics collectors.
type trackCloser interface {
	analytics.Tracker
	Start(ctx context.Context)
	Close()
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	snapshotFile := flag.String("snapshot-file", "", "load corpus statistics from a JSON file instead of Postgres")
	migrate := flag.Bool("migrate", false, "create the Postgres schema before starting")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting retrieval service", "port", cfg.Server.Port, "rpc_port", cfg.RPC.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Port); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}
	checker := health.NewChecker()

	// Postgres holds snapshots and chunks. It is optional with -snapshot-file.
	var pg *postgres.Client
	pg, err = postgres.New(cfg.Postgres)
	if err != nil {
		if *snapshotFile == "" {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		slog.Warn("postgres unavailable, candidate_ids lookups disabled", "error", err)
		pg = nil
	} else {
		defer pg.Close()
		checker.Register("postgres", health.PingCheck(pg.Ping, *snapshotFile == ""))
		if *migrate {
			if err := pg.EnsureSchema(ctx); err != nil {
				slog.Error("schema migration failed", "error", err)
				os.Exit(1)
			}
			slog.Info("postgres schema ensured")
		}
	}

	var loader corpus.Loader
	if *snapshotFile != "" {
		loader = corpus.FileLoader{Path: *snapshotFile}
	} else {
		loader = corpus.NewStore(pg)
	}
	holder := corpus.NewHolder(nil)
	refresher := corpus.NewRefresher(loader, holder, cfg.Retrieval.SnapshotRefreshInterval, m)
	if err := refresher.LoadInitial(ctx); err != nil {
		// Retrievals still run lexical-free until a snapshot arrives.
		slog.Warn("initial snapshot load failed", "error", err)
	}
	checker.Register("snapshot", func(context.Context) health.ComponentHealth {
		if snap := holder.Current(); snap != nil {
			return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("version %d", snap.Version)}
		}
		return health.ComponentHealth{Status: health.StatusDegraded, Message: "no snapshot loaded"}
	})
	go refresher.Run(ctx)

	rebuilt := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.SnapshotRebuilt, refresher.HandleRebuilt)
	go func() {
		if err := rebuilt.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("snapshot consumer error", "error", err)
		}
	}()

	// Result cache. Redis being down only disables caching.
	var resultCache *cache.ResultCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, result caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		resultCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
		checker.Register("redis", health.PingCheck(redisClient.Ping, false))
		slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	var tracker trackCloser
	if cfg.Analytics.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RetrievalEvents)
		defer producer.Close()
		if cfg.Analytics.BatchSize > 0 {
			tracker = collector.NewBatchCollector(producer, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
		} else {
			tracker = analytics.NewCollector(producer, cfg.Analytics.BufferSize)
		}
		tracker.Start(ctx)
		defer tracker.Close()
		slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.RetrievalEvents)
	}

	refresher.OnSwap(func(ctx context.Context, prev, next *corpus.Snapshot) {
		var prevVersion int64
		if prev != nil {
			prevVersion = prev.Version
		}
		if resultCache != nil {
			if _, err := resultCache.InvalidateAll(ctx); err != nil {
				slog.Warn("cache invalidation after snapshot swap failed", "error", err)
			}
		}
		if tracker != nil {
			tracker.Track(fmt.Sprintf("snapshot-%d", next.Version), analytics.SnapshotEvent{
				Type:            analytics.EventSnapshotSwap,
				Version:         next.Version,
				PreviousVersion: prevVersion,
				Documents:       next.TotalDocuments,
				Timestamp:       time.Now().UTC(),
			})
		}
	})

	breakerCfg := func() resilience.CircuitBreakerConfig {
		return resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			OnStateChange: func(name string, state resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
			},
		}
	}
	opts := []engine.Option{
		engine.WithMetrics(m),
		engine.WithTracer(tracing.NewTracer(cfg.Tracing.Enabled, cfg.Tracing.SampleRate)),
		engine.WithStatsCache(lexical.NewStatsCache(cfg.Retrieval.TermStatsCacheSize)),
	}
	if cfg.Remote.EmbeddingURL != "" {
		embedder := remote.NewEmbedder(cfg.Remote.EmbeddingURL, cfg.Remote.EmbeddingModel, cfg.Remote.EmbeddingTimeout,
			resilience.NewCircuitBreaker("embedding", breakerCfg()), nil)
		opts = append(opts, engine.WithEmbedder(embedder))
		checker.Register("embedding", health.PingCheck(embedder.Ping, false))
	} else {
		slog.Warn("no embedding service configured, vector signal disabled")
	}
	if cfg.Remote.ExpansionURL != "" {
		opts = append(opts, engine.WithExpander(remote.NewExpander(cfg.Remote.ExpansionURL, cfg.Remote.MaxExpansions,
			cfg.Remote.ExpansionTimeout, resilience.NewCircuitBreaker("expansion", breakerCfg()), nil)))
	}
	if cfg.Retrieval.Rerank.Enabled && cfg.Remote.JudgeURL != "" {
		judge := remote.NewJudge(cfg.Remote.JudgeURL, cfg.Remote.JudgeModel, cfg.Remote.JudgeTimeout, nil)
		opts = append(opts, engine.WithReranker(rerank.New(judge, resilience.NewCircuitBreaker("judge", breakerCfg()))))
	}
	eng := engine.New(engine.NewConfig(cfg.Retrieval), holder, opts...)

	var chunks handler.ChunkSource
	if pg != nil {
		chunks = chunkstore.New(pg)
	}
	h := handler.New(eng, holder, chunks, resultCache, tracker, m)

	mux := http.NewServeMux()
	h.Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		go limiter.RunPruner(ctx, time.Minute)
		chain = middleware.RateLimit(limiter, m)(chain)
	}
	chain = middleware.RequestID(chain)

	var rpcServer *grpc.Server
	if cfg.RPC.Port > 0 {
		rpcServer = grpc.NewServer()
		h.RegisterRPC(rpcServer)
		go func() {
			if err := rpcServer.Serve(fmt.Sprintf(":%d", cfg.RPC.Port)); err != nil {
				slog.Error("rpc server error", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if rpcServer != nil {
			rpcServer.Stop()
		}
	}()

	slog.Info("retrieval service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("retrieval service stopped")
}
