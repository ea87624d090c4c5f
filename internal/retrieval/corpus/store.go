package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/postgres"
)

// Loader reads published snapshots from durable storage.
type Loader interface {
	LatestVersion(ctx context.Context) (int64, error)
	Load(ctx context.Context, version int64) (*Snapshot, error)
}

// Store loads snapshots written by the statistics build job into Postgres.
//
//	corpus_snapshots(version, built_at, total_documents, average_chunk_length)
//	corpus_term_frequencies(snapshot_version, term, document_frequency)
type Store struct {
	pg *postgres.Client
}

func NewStore(pg *postgres.Client) *Store {
	return &Store{pg: pg}
}

const latestVersionQuery = `SELECT version FROM corpus_snapshots ORDER BY version DESC LIMIT 1`

const snapshotHeaderQuery = `
SELECT version, built_at, total_documents, average_chunk_length
FROM corpus_snapshots
WHERE version = $1`

const termFrequencyQuery = `
SELECT term, document_frequency
FROM corpus_term_frequencies
WHERE snapshot_version = $1`

func (s *Store) LatestVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.pg.DB.QueryRowContext(ctx, latestVersionQuery).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperrors.ErrSnapshotNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying latest snapshot version: %w", err)
	}
	return version, nil
}

// Load reads one snapshot inside a read-only transaction so the header and
// term table come from the same committed state.
func (s *Store) Load(ctx context.Context, version int64) (*Snapshot, error) {
	snap := &Snapshot{DocumentFrequency: make(map[string]int64)}
	err := s.pg.InReadTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, snapshotHeaderQuery, version).Scan(
			&snap.Version, &snap.BuiltAt, &snap.TotalDocuments, &snap.AverageChunkLength,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("snapshot %d: %w", version, apperrors.ErrSnapshotNotFound)
		}
		if err != nil {
			return fmt.Errorf("reading snapshot %d header: %w", version, err)
		}

		rows, err := tx.QueryContext(ctx, termFrequencyQuery, version)
		if err != nil {
			return fmt.Errorf("reading snapshot %d terms: %w", version, err)
		}
		defer rows.Close()
		for rows.Next() {
			var term string
			var df int64
			if err := rows.Scan(&term, &df); err != nil {
				return fmt.Errorf("scanning snapshot %d term: %w", version, err)
			}
			snap.DocumentFrequency[term] = df
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// FileLoader reads a JSON-encoded Snapshot from disk. It backs local runs
// and the load generator when no database is configured.
type FileLoader struct {
	Path string
}

func (f FileLoader) read() (*Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", f.Path, apperrors.ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file %s: %w", f.Path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot file %s: %w", f.Path, err)
	}
	if snap.DocumentFrequency == nil {
		snap.DocumentFrequency = map[string]int64{}
	}
	return &snap, nil
}

func (f FileLoader) LatestVersion(context.Context) (int64, error) {
	snap, err := f.read()
	if err != nil {
		return 0, err
	}
	return snap.Version, nil
}

func (f FileLoader) Load(_ context.Context, version int64) (*Snapshot, error) {
	snap, err := f.read()
	if err != nil {
		return nil, err
	}
	if snap.Version != version {
		return nil, fmt.Errorf("snapshot %d: %w (file holds %d)", version, apperrors.ErrSnapshotNotFound, snap.Version)
	}
	return snap, nil
}
