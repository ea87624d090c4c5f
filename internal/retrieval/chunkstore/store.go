// Package chunkstore loads candidate chunks from Postgres. The upstream
// pre-filters hand the retriever chunk ids; this package turns them into
// full chunks with embeddings, term statistics and metadata.
package chunkstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/postgres"
)

type Store struct {
	pg     *postgres.Client
	logger *slog.Logger
}

func New(pg *postgres.Client) *Store {
	return &Store{
		pg:     pg,
		logger: slog.Default().With("component", "chunk-store"),
	}
}

const selectChunksQuery = `
SELECT id, document_id, text, embedding, term_frequencies, term_count,
       categories, technical_level, keywords, entities, source_path
FROM chunks
WHERE id = ANY($1)`

const upsertChunkQuery = `
INSERT INTO chunks (id, document_id, text, embedding, term_frequencies, term_count,
                    categories, technical_level, keywords, entities, source_path, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
ON CONFLICT (id) DO UPDATE SET
    document_id      = EXCLUDED.document_id,
    text             = EXCLUDED.text,
    embedding        = EXCLUDED.embedding,
    term_frequencies = EXCLUDED.term_frequencies,
    term_count       = EXCLUDED.term_count,
    categories       = EXCLUDED.categories,
    technical_level  = EXCLUDED.technical_level,
    keywords         = EXCLUDED.keywords,
    entities         = EXCLUDED.entities,
    source_path      = EXCLUDED.source_path,
    updated_at       = NOW()`

// Get returns the chunks for ids in the order the ids were given. Unknown
// ids are skipped and returned separately.
func (s *Store) Get(ctx context.Context, ids []string) (chunks []model.Chunk, missing []string, err error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	rows, err := s.pg.DB.QueryContext(ctx, selectChunksQuery, pq.Array(ids))
	if err != nil {
		return nil, nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]model.Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating chunks: %w", err)
	}

	chunks = make([]model.Chunk, 0, len(byID))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		c, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		chunks = append(chunks, c)
	}
	if len(missing) > 0 {
		s.logger.Warn("candidate chunks not found", "requested", len(ids), "missing", len(missing))
	}
	return chunks, missing, nil
}

// Put inserts or replaces chunks in one transaction.
func (s *Store) Put(ctx context.Context, chunks []model.Chunk) error {
	tx, err := s.pg.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertChunkQuery)
	if err != nil {
		return fmt.Errorf("preparing chunk upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var freqs sql.NullString
		var termCount sql.NullInt64
		if c.TermStats != nil {
			data, err := json.Marshal(c.TermStats.Frequencies)
			if err != nil {
				return fmt.Errorf("encoding term stats for %s: %w", c.ID, err)
			}
			freqs = sql.NullString{String: string(data), Valid: true}
			termCount = sql.NullInt64{Int64: int64(c.TermStats.Length), Valid: true}
		}
		var embedding any
		if len(c.Embedding) > 0 {
			embedding = pq.Float64Array(c.Embedding)
		}
		m := c.Metadata
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.Text, embedding, freqs, termCount,
			pq.StringArray(nonNil(m.Categories)), m.TechnicalLevel,
			pq.StringArray(nonNil(m.Keywords)), pq.StringArray(nonNil(m.Entities)), m.SourcePath,
		); err != nil {
			return fmt.Errorf("upserting chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunks: %w", err)
	}
	s.logger.Info("chunks stored", "count", len(chunks))
	return nil
}

func scanChunk(rows *sql.Rows) (model.Chunk, error) {
	var (
		c          model.Chunk
		embedding  pq.Float64Array
		freqs      []byte
		termCount  sql.NullInt64
		categories pq.StringArray
		keywords   pq.StringArray
		entities   pq.StringArray
	)
	if err := rows.Scan(
		&c.ID, &c.DocumentID, &c.Text, &embedding, &freqs, &termCount,
		&categories, &c.Metadata.TechnicalLevel, &keywords, &entities, &c.Metadata.SourcePath,
	); err != nil {
		return model.Chunk{}, fmt.Errorf("scanning chunk: %w", err)
	}
	if len(embedding) > 0 {
		c.Embedding = []float64(embedding)
	}
	if freqs != nil && termCount.Valid {
		stats := model.TermStats{Length: int(termCount.Int64)}
		if err := json.Unmarshal(freqs, &stats.Frequencies); err != nil {
			return model.Chunk{}, fmt.Errorf("decoding term stats for %s: %w", c.ID, err)
		}
		c.TermStats = &stats
	}
	c.Metadata.Categories = []string(categories)
	c.Metadata.Keywords = []string(keywords)
	c.Metadata.Entities = []string(entities)
	return c, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
