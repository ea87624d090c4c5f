// Command analytics runs the retrieval analytics service.
//
// It consumes retrieval and snapshot-swap events from Kafka, aggregates them
// in memory (latency percentiles, degraded rate, winning stages, rerank
// outcomes, top and zero-result queries) and serves them at
// GET /api/v1/analytics. When Postgres is reachable the aggregate is
// restored at startup and persisted periodically, and past snapshots are
// served at GET /api/v1/analytics/history.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/config.yaml]
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
	"sync"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Analytics.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	agg := analytics.NewAggregator()
	checker := health.NewChecker()

	var history analytics.History
	var persisting sync.WaitGroup
	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, analytics will not be persisted", "error", err)
	} else {
		defer pg.Close()
		checker.Register("postgres", health.PingCheck(pg.Ping, false))
		store := aggregator.NewStore(pg)
		history = store
		if latest, err := store.LatestSnapshot(ctx); err != nil {
			slog.Warn("could not restore analytics snapshot", "error", err)
		} else if latest != nil {
			agg.Restore(*latest)
			slog.Info("analytics restored", "total_retrievals", latest.TotalRetrievals)
		}
		persisting.Go(func() { store.Persist(ctx, agg.Stats, cfg.Analytics.PersistInterval) })
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RetrievalEvents, analytics.HandleEvent(agg),
		kafka.WithGroupID(cfg.Kafka.ConsumerGroup+"-analytics"))
	go func() {
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	slog.Info("analytics consumer started", "topic", cfg.Kafka.Topics.RetrievalEvents)

	h := analytics.NewHandler(agg, history)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/history", h.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Analytics.Port),
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
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	persisting.Wait()
	slog.Info("analytics service stopped")
}
