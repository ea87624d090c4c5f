package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1.2, cfg.Retrieval.BM25.K1)
	assert.Equal(t, 0.75, cfg.Retrieval.BM25.B)
	assert.Equal(t, 10, cfg.Retrieval.Rerank.TopK)
	assert.Equal(t, "corpus.snapshot-rebuilt", cfg.Kafka.Topics.SnapshotRebuilt)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlDoc := `
server:
  port: 9191
retrieval:
  defaultWeights:
    vector: 0.3
    lexical: 0.7
  categoryWeights:
    billing:
      vector: 0.2
      lexical: 0.8
  minAcceptableCandidates: 5
  maxResults: 15
  rerank:
    enabled: true
    topK: 8
    timeout: 750ms
    weight: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))
	t.Setenv("HRE_RERANK_TIMEOUT", "300ms")
	t.Setenv("HRE_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, Weights{Vector: 0.3, Lexical: 0.7}, cfg.Retrieval.DefaultWeights)
	assert.Equal(t, Weights{Vector: 0.2, Lexical: 0.8}, cfg.Retrieval.CategoryWeights["billing"])
	assert.Equal(t, 5, cfg.Retrieval.MinAcceptableCandidates)
	assert.Equal(t, 8, cfg.Retrieval.Rerank.TopK)
	assert.Equal(t, 300*time.Millisecond, cfg.Retrieval.Rerank.Timeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	// untouched defaults survive the partial YAML document
	assert.Equal(t, 1.2, cfg.Retrieval.BM25.K1)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestRetrievalValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RetrievalConfig)
		wantErr bool
	}{
		{"defaults", func(*RetrievalConfig) {}, false},
		{"negative weight", func(r *RetrievalConfig) { r.DefaultWeights.Vector = -0.1 }, true},
		{"negative category weight", func(r *RetrievalConfig) {
			r.CategoryWeights = map[string]Weights{"x": {Vector: 1, Lexical: -1}}
		}, true},
		{"zero max results", func(r *RetrievalConfig) { r.MaxResults = 0 }, true},
		{"b above one", func(r *RetrievalConfig) { r.BM25.B = 1.5 }, true},
		{"rerank topK", func(r *RetrievalConfig) { r.Rerank.TopK = 0 }, true},
		{"rerank weight", func(r *RetrievalConfig) { r.Rerank.Weight = 2 }, true},
		{"rerank disabled ignores topK", func(r *RetrievalConfig) {
			r.Rerank.Enabled = false
			r.Rerank.TopK = 0
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRetrieval()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=disable", p.DSN())
}
