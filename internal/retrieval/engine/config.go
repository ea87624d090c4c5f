package engine

import (
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/lexical"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/rerank"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/config"
)

// Config is the per-request engine configuration. It is passed by value;
// the category map is copied on construction and never written afterwards.
type Config struct {
	DefaultWeights   model.Weights
	CategoryWeights  map[string]model.Weights
	MinAcceptable    int
	MaxResults       int
	MaxCandidates    int
	RequestTimeout   time.Duration
	LexicalTimeout   time.Duration
	VectorTimeout    time.Duration
	ExpansionTimeout time.Duration
	Lexical          lexical.Params
	Rerank           rerank.Config
}

func DefaultConfig() Config {
	return NewConfig(config.DefaultRetrieval())
}

// NewConfig converts the loaded retrieval settings.
func NewConfig(rc config.RetrievalConfig) Config {
	categories := make(map[string]model.Weights, len(rc.CategoryWeights))
	for name, w := range rc.CategoryWeights {
		categories[strings.ToLower(name)] = model.Weights{Vector: w.Vector, Lexical: w.Lexical}
	}
	return Config{
		DefaultWeights:   model.Weights{Vector: rc.DefaultWeights.Vector, Lexical: rc.DefaultWeights.Lexical},
		CategoryWeights:  categories,
		MinAcceptable:    rc.MinAcceptableCandidates,
		MaxResults:       rc.MaxResults,
		MaxCandidates:    rc.MaxCandidates,
		RequestTimeout:   rc.RequestTimeout,
		LexicalTimeout:   rc.LexicalTimeout,
		VectorTimeout:    rc.VectorTimeout,
		ExpansionTimeout: rc.ExpansionTimeout,
		Lexical: lexical.Params{
			K1: rc.BM25.K1,
			B:  rc.BM25.B,
			Folding: lexical.Folding{
				Enabled:        rc.MetadataFolding.Enabled,
				CategoryWeight: rc.MetadataFolding.CategoryWeight,
				PathWeight:     rc.MetadataFolding.PathWeight,
			},
		},
		Rerank: rerank.Config{
			Enabled: rc.Rerank.Enabled,
			TopK:    rc.Rerank.TopK,
			Timeout: rc.Rerank.Timeout,
			Weight:  rc.Rerank.Weight,
		},
	}
}

// ResolveWeights picks the weights for q: the query's own pair when it
// carries any weight after clamping, else the override for its primary
// category, else the default. The result is normalised.
func (c Config) ResolveWeights(q model.QueryContext) model.Weights {
	if w := q.Weights(); w.Usable() {
		return w.Normalize()
	}
	if q.PrimaryCategory != "" {
		if w, ok := c.CategoryWeights[strings.ToLower(q.PrimaryCategory)]; ok && w.Usable() {
			return w.Normalize()
		}
	}
	return c.DefaultWeights.Normalize()
}
