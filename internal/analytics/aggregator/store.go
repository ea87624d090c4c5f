// Package aggregator keeps the analytics dashboard across restarts by
// writing the aggregate to Postgres at a fixed interval.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/postgres"
)

const (
	insertSnapshot = `INSERT INTO retrieval_analytics_snapshots (data, captured_at) VALUES ($1, $2)`
	selectRecent   = `SELECT data FROM retrieval_analytics_snapshots ORDER BY captured_at DESC, id DESC LIMIT $1`
)

// Store reads and writes rows of retrieval_analytics_snapshots, one JSONB
// document per capture.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "analytics-store"),
		now:    time.Now,
	}
}

func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	doc, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding analytics snapshot: %w", err)
	}
	// lib/pq sends []byte as bytea, which JSONB rejects.
	if _, err := s.db.DB.ExecContext(ctx, insertSnapshot, string(doc), s.now().UTC()); err != nil {
		return fmt.Errorf("inserting analytics snapshot: %w", err)
	}
	s.logger.Debug("analytics snapshot saved", "total_retrievals", stats.TotalRetrievals)
	return nil
}

// LatestSnapshot returns nil without error on an empty table.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	var doc []byte
	err := s.db.DB.QueryRowContext(ctx, selectRecent, 1).Scan(&doc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("reading latest analytics snapshot: %w", err)
	}
	stats, err := decode(doc)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListSnapshots returns the newest limit captures. Undecodable rows are
// logged and left out.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.AggregatedStats, error) {
	rows, err := s.db.DB.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("listing analytics snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]analytics.AggregatedStats, 0, limit)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning analytics snapshot: %w", err)
		}
		stats, err := decode(doc)
		if err != nil {
			s.logger.Warn("skipping analytics snapshot", "error", err)
			continue
		}
		out = append(out, stats)
	}
	return out, rows.Err()
}

// Persist saves the output of stats every interval until ctx ends, then
// makes one last save on a fresh context so shutdown does not lose the
// final window.
func (s *Store) Persist(ctx context.Context, stats func() analytics.AggregatedStats, interval time.Duration) {
	s.logger.Info("persisting analytics", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.SaveSnapshot(ctx, stats()); err != nil {
				s.logger.Error("saving analytics snapshot", "error", err)
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			err := s.SaveSnapshot(final, stats())
			cancel()
			if err != nil {
				s.logger.Error("saving final analytics snapshot", "error", err)
			}
			return
		}
	}
}

func decode(doc []byte) (analytics.AggregatedStats, error) {
	var stats analytics.AggregatedStats
	if err := json.Unmarshal(doc, &stats); err != nil {
		return stats, fmt.Errorf("decoding analytics snapshot: %w", err)
	}
	return stats, nil
}
