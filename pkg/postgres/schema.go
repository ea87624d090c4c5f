package postgres

import (
	"context"
	"fmt"
)

// Schema creates the tables read by the retriever and written by the
// analytics service. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS corpus_snapshots (
    version              BIGINT PRIMARY KEY,
    built_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    total_documents      BIGINT NOT NULL,
    average_chunk_length DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS corpus_term_frequencies (
    snapshot_version   BIGINT NOT NULL REFERENCES corpus_snapshots(version) ON DELETE CASCADE,
    term               TEXT NOT NULL,
    document_frequency BIGINT NOT NULL,
    PRIMARY KEY (snapshot_version, term)
);

CREATE TABLE IF NOT EXISTS chunks (
    id               TEXT PRIMARY KEY,
    document_id      TEXT NOT NULL,
    text             TEXT NOT NULL,
    embedding        DOUBLE PRECISION[],
    term_frequencies JSONB,
    term_count       INTEGER,
    categories       TEXT[] NOT NULL DEFAULT '{}',
    technical_level  INTEGER NOT NULL DEFAULT 0,
    keywords         TEXT[] NOT NULL DEFAULT '{}',
    entities         TEXT[] NOT NULL DEFAULT '{}',
    source_path      TEXT NOT NULL DEFAULT '',
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS retrieval_analytics_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    data        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
