package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/rerank"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
)

type judgeRequest struct {
	Query      string             `json:"query"`
	Candidates []rerank.Candidate `json:"candidates"`
	Model      string             `json:"model,omitempty"`
}

type judgeResponse struct {
	Scores []float64 `json:"scores"`
}

// Judge calls the relevance judge. Time limits and circuit breaking are the
// reranker's job; the client only bounds the transport.
type Judge struct {
	http   httpClient
	model  string
	logger *slog.Logger
}

// NewJudge creates a Judge. client may be nil.
func NewJudge(baseURL, model string, timeout time.Duration, client *http.Client) *Judge {
	return &Judge{
		http:   newHTTPClient(baseURL, timeout, client),
		model:  model,
		logger: slog.Default().With("component", "judge-client", "model", model),
	}
}

// Judge returns the raw scores. A body that cannot be decoded, or that has
// no scores field, wraps ErrRerankMalformedResponse.
func (j *Judge) Judge(ctx context.Context, query string, candidates []rerank.Candidate) ([]float64, error) {
	start := time.Now()
	var resp judgeResponse
	err := j.http.postJSON(ctx, "/v1/judge", judgeRequest{Query: query, Candidates: candidates, Model: j.model}, &resp)
	var derr *decodeError
	if errors.As(err, &derr) {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrRerankMalformedResponse, err)
	}
	if err != nil {
		j.logger.Warn("judge call failed", "error", err, "elapsed", time.Since(start))
		return nil, err
	}
	if resp.Scores == nil {
		return nil, fmt.Errorf("%w: response has no scores", apperrors.ErrRerankMalformedResponse)
	}
	j.logger.Debug("judge completed", "candidates", len(candidates), "elapsed", time.Since(start))
	return resp.Scores, nil
}

var _ rerank.Judge = (*Judge)(nil)
