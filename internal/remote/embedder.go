package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/resilience"
)

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embedder calls the embedding service's /api/embed endpoint.
type Embedder struct {
	http    httpClient
	model   string
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewEmbedder creates an Embedder. client may be nil.
func NewEmbedder(baseURL, model string, timeout time.Duration, breaker *resilience.CircuitBreaker, client *http.Client) *Embedder {
	return &Embedder{
		http:    newHTTPClient(baseURL, timeout, client),
		model:   model,
		breaker: breaker,
		logger:  slog.Default().With("component", "embedder-client", "model", model),
	}
}

// Embed returns the embedding of text. Every failure wraps
// ErrEmbeddingUnavailable.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	start := time.Now()
	var resp embedResponse
	call := func() error {
		return e.http.postJSON(ctx, "/api/embed", embedRequest{Model: e.model, Input: []string{text}}, &resp)
	}
	var err error
	if e.breaker != nil {
		err = e.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		e.logger.Warn("embed failed", "error", err, "elapsed", time.Since(start))
		return nil, fmt.Errorf("%w: %w", apperrors.ErrEmbeddingUnavailable, err)
	}
	if len(resp.Embeddings) != 1 {
		return nil, fmt.Errorf("%w: expected 1 embedding, got %d", apperrors.ErrEmbeddingUnavailable, len(resp.Embeddings))
	}
	e.logger.Debug("embed completed", "dimensions", len(resp.Embeddings[0]), "elapsed", time.Since(start))
	return resp.Embeddings[0], nil
}

// Ping checks that the embedding service answers.
func (e *Embedder) Ping(ctx context.Context) error {
	_, err := e.Embed(ctx, "ping")
	return err
}
