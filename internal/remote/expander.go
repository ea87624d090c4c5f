package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/resilience"
)

type expandRequest struct {
	Query    string   `json:"query"`
	Keywords []string `json:"keywords,omitempty"`
	Max      int      `json:"max"`
}

type expandResponse struct {
	Expansions []string `json:"expansions"`
}

// Expander asks the query-expansion service for synonyms and related terms.
type Expander struct {
	http    httpClient
	max     int
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewExpander creates an Expander returning at most maxTerms terms. client
// may be nil.
func NewExpander(baseURL string, maxTerms int, timeout time.Duration, breaker *resilience.CircuitBreaker, client *http.Client) *Expander {
	if maxTerms <= 0 {
		maxTerms = 5
	}
	return &Expander{
		http:    newHTTPClient(baseURL, timeout, client),
		max:     maxTerms,
		breaker: breaker,
		logger:  slog.Default().With("component", "expander-client"),
	}
}

// Expand returns up to the configured number of distinct, non-empty terms
// that are not already among keywords.
func (x *Expander) Expand(ctx context.Context, query string, keywords []string) ([]string, error) {
	var resp expandResponse
	call := func() error {
		return x.http.postJSON(ctx, "/v1/expand", expandRequest{Query: query, Keywords: keywords, Max: x.max}, &resp)
	}
	var err error
	if x.breaker != nil {
		err = x.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		x.logger.Warn("expansion failed", "query", truncate(query, 100), "error", err)
		return nil, fmt.Errorf("expanding query: %w", err)
	}

	seen := make(map[string]struct{}, len(keywords)+len(resp.Expansions))
	for _, k := range keywords {
		seen[strings.ToLower(k)] = struct{}{}
	}
	terms := make([]string, 0, x.max)
	for _, term := range resp.Expansions {
		term = strings.TrimSpace(term)
		key := strings.ToLower(term)
		if term == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		terms = append(terms, term)
		if len(terms) == x.max {
			break
		}
	}
	x.logger.Debug("expansion completed", "terms", len(terms))
	return terms, nil
}
