// Package engine answers retrieval requests: it gathers the lexical and vector
// signals concurrently, merges them, escalates through the cascade when the
// strict pass is too thin and finally reranks the head of the list.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/cascade"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/lexical"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/merger"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/rerank"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/vector"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/tracing"
)

var (
	errNoExpander   = errors.New("no query expander configured")
	errNoExpansions = errors.New("expansion produced no new keywords")
	errNoEmbedder   = fmt.Errorf("%w: no embedder configured", apperrors.ErrEmbeddingUnavailable)
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Expander proposes extra keywords for a query.
type Expander interface {
	Expand(ctx context.Context, query string, keywords []string) ([]string, error)
}

// Request is one retrieval: the query and the candidate chunks to rank.
// RetrievalID is generated when empty.
type Request struct {
	RetrievalID string
	Query       model.QueryContext
	Candidates  []model.Chunk
}

type Option func(*Engine)

func WithEmbedder(e Embedder) Option { return func(en *Engine) { en.embedder = e } }

func WithExpander(e Expander) Option { return func(en *Engine) { en.expander = e } }

func WithReranker(r *rerank.Reranker) Option { return func(en *Engine) { en.reranker = r } }

func WithMetrics(m *metrics.Metrics) Option { return func(en *Engine) { en.metrics = m } }

func WithTracer(t *tracing.Tracer) Option { return func(en *Engine) { en.tracer = t } }

func WithStateHook(h StateHook) Option { return func(en *Engine) { en.stateHook = h } }

// WithStatsCache shares a term statistics cache across requests.
func WithStatsCache(c *lexical.StatsCache) Option { return func(en *Engine) { en.stats = c } }

// Engine is safe for concurrent use. Per-request state lives in a private
// struct; the engine itself holds only collaborators.
type Engine struct {
	cfg       Config
	snapshots corpus.Source
	embedder  Embedder
	expander  Expander
	reranker  *rerank.Reranker
	stats     *lexical.StatsCache
	metrics   *metrics.Metrics
	tracer    *tracing.Tracer
	stateHook StateHook
	logger    *slog.Logger
}

func New(cfg Config, snapshots corpus.Source, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		snapshots: snapshots,
		logger:    slog.Default().With("component", "retrieval-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine's default configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Retrieve runs a request with the engine's default configuration.
func (e *Engine) Retrieve(ctx context.Context, req Request) (model.RetrievalResult, error) {
	return e.RetrieveWith(ctx, e.cfg, req)
}

// RetrieveWith runs a request with an explicit configuration. It fails only
// on invalid input, when neither signal can be produced by any stage, or
// when the request deadline passes before any stage completes. Every other
// problem degrades the result instead.
func (e *Engine) RetrieveWith(ctx context.Context, cfg Config, req Request) (model.RetrievalResult, error) {
	if err := req.Query.Validate(); err != nil {
		return model.RetrievalResult{}, err
	}
	if cfg.MaxCandidates > 0 && len(req.Candidates) > cfg.MaxCandidates {
		return model.RetrievalResult{}, fmt.Errorf("%w: %d candidates exceeds the limit of %d",
			apperrors.ErrInvalidInput, len(req.Candidates), cfg.MaxCandidates)
	}

	id := req.RetrievalID
	if id == "" {
		id = uuid.NewString()
	}
	ctx = logger.WithRetrievalID(ctx, id)
	ctx, span := e.tracer.Start(ctx, "retrieve", id)
	defer e.tracer.Finish(span)

	if cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	r := e.newRun(ctx, cfg, req)
	e.setState(id, StateIdle)

	result := model.RetrievalResult{
		RetrievalID: id,
		Stage:       model.StageStrict,
		Candidates:  []model.ScoredCandidate{},
	}
	if r.snap != nil {
		result.SnapshotVersion = r.snap.Version
	}

	if len(r.chunks) == 0 {
		result.AddReason(model.ReasonNoResults)
		r.log.Warn("retrieval produced no candidates", "error", apperrors.ErrNoResults, "reason", "empty candidate set")
		e.finish(id, result, start)
		return result, nil
	}

	e.setState(id, StateRetrieving)
	r.gatherSignals(ctx)
	if r.lexErr != nil {
		result.AddReason(model.ReasonLexicalUnavailable)
	}
	if r.vecErr != nil {
		result.AddReason(model.ReasonEmbeddingUnavailable)
	}
	bothFailed := r.lexErr != nil && r.vecErr != nil

	stages := cascade.Plan(cascade.Stages(), bothFailed)
	outcome, err := cascade.Run(ctx, stages, cfg.MinAcceptable, r.attempt, func(d cascade.Descriptor) {
		if d.Name == model.StageStrict {
			e.setState(id, StateMerging)
		} else {
			e.setState(id, StateEscalating)
		}
	})
	if err != nil {
		e.setState(id, StateDone)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.RetrievalResult{}, fmt.Errorf("%w: retrieval %s: %v", apperrors.ErrTimeout, id, err)
		}
		if bothFailed && errors.Is(err, cascade.ErrAllStagesFailed) {
			r.log.Error("no retrieval signal available",
				"lexical_error", r.lexErr,
				"vector_error", r.vecErr,
				"error", err,
			)
			return model.RetrievalResult{}, fmt.Errorf("%w: %v", apperrors.ErrBothSignalsUnavailable, err)
		}
		return model.RetrievalResult{}, fmt.Errorf("retrieval %s: %w", id, err)
	}

	result.Stage = outcome.Stage
	if r.snap != nil {
		result.SnapshotVersion = r.snap.Version
	}
	for _, reason := range outcome.Reasons {
		result.AddReason(reason)
	}
	candidates := outcome.Candidates
	if cfg.MaxResults > 0 && len(candidates) > cfg.MaxResults {
		candidates = candidates[:cfg.MaxResults]
	}

	if cfg.Rerank.Enabled && e.reranker != nil && len(candidates) > 0 {
		e.setState(id, StateReranking)
		rctx, rspan := tracing.StartChildSpan(ctx, "rerank")
		reranked := e.reranker.Rerank(rctx, cfg.Rerank, r.queryText(), candidates, r.text)
		rspan.SetAttr("outcome", string(reranked.Outcome))
		rspan.End()
		if e.metrics != nil {
			e.metrics.RerankOutcomesTotal.WithLabelValues(string(reranked.Outcome)).Inc()
		}
		if reranked.Degraded {
			result.AddReason(reranked.Reason)
		}
		candidates = reranked.Candidates
	}
	result.Candidates = candidates

	span.SetAttr("stage", string(result.Stage))
	span.SetAttr("results", len(result.Candidates))
	e.finish(id, result, start)
	return result, nil
}

func (e *Engine) finish(id string, result model.RetrievalResult, start time.Time) {
	e.setState(id, StateDone)
	if e.metrics != nil {
		e.metrics.RetrievalsTotal.WithLabelValues(string(result.Stage), strconv.FormatBool(result.Degraded)).Inc()
		e.metrics.RetrievalResults.Observe(float64(len(result.Candidates)))
		for _, reason := range result.Reasons {
			e.metrics.DegradedReasonsTotal.WithLabelValues(string(reason)).Inc()
		}
	}
	level := slog.LevelDebug
	if result.Degraded {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "retrieval complete",
		"retrieval_id", id,
		"stage", result.Stage,
		"results", len(result.Candidates),
		"degraded", result.Degraded,
		"reasons", result.Reasons,
		"snapshot_version", result.SnapshotVersion,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (e *Engine) setState(id string, s State) {
	if e.stateHook != nil {
		e.stateHook(id, s)
	}
}

// run is the state of one request. Fields written by the signal goroutines
// are read only after the errgroup has been waited on.
type run struct {
	engine  *Engine
	cfg     Config
	query   model.QueryContext
	snap    *corpus.Snapshot
	chunks  []model.Chunk
	byID    map[string]model.Chunk
	scorer  *lexical.Scorer
	weights model.Weights
	log     *slog.Logger

	lexical []lexical.Result
	lexErr  error
	vector  []vector.Result
	vecErr  error

	retried      bool
	retryLexical []lexical.Result
	retryErr     error
}

func (e *Engine) newRun(ctx context.Context, cfg Config, req Request) *run {
	r := &run{
		engine:  e,
		cfg:     cfg,
		query:   req.Query,
		byID:    make(map[string]model.Chunk, len(req.Candidates)),
		scorer:  lexical.NewScorer(cfg.Lexical, e.stats),
		weights: cfg.ResolveWeights(req.Query),
		log:     logger.FromContext(ctx).With("component", "retrieval-engine"),
	}
	if e.snapshots != nil {
		r.snap = e.snapshots.Current()
	}
	r.chunks = make([]model.Chunk, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		if _, dup := r.byID[c.ID]; dup {
			r.log.Debug("duplicate candidate dropped", "chunk_id", c.ID)
			continue
		}
		r.byID[c.ID] = c
		r.chunks = append(r.chunks, c)
	}
	return r
}

// gatherSignals computes the lexical and vector signals concurrently, each
// under its own deadline. Neither failure cancels the other.
func (r *run) gatherSignals(ctx context.Context) {
	var g errgroup.Group
	terms := tokenizer.QueryTerms(r.query.RawText, r.query.Keywords)

	g.Go(func() error {
		r.lexical, r.lexErr = r.scoreLexical(ctx, terms)
		return nil
	})
	g.Go(func() error {
		r.vector, r.vecErr = r.scoreVector(ctx)
		return nil
	})
	_ = g.Wait()

	if r.lexErr != nil {
		r.log.Warn("lexical signal unavailable", "error", r.lexErr)
	}
	if r.vecErr != nil {
		r.log.Warn("vector signal unavailable", "error", r.vecErr)
	}
}

func (r *run) scoreLexical(ctx context.Context, terms []string) ([]lexical.Result, error) {
	sctx, span := tracing.StartChildSpan(ctx, "lexical")
	defer span.End()
	start := time.Now()

	var results []lexical.Result
	err := resilience.WithTimeout(sctx, r.cfg.LexicalTimeout, "lexical", func(ctx context.Context) error {
		var err error
		results, err = r.scorer.ScoreBatch(ctx, terms, r.chunks, r.snap)
		return err
	})
	if err != nil && !errors.Is(err, apperrors.ErrLexicalIndexUnavailable) {
		err = fmt.Errorf("%w: %v", apperrors.ErrLexicalIndexUnavailable, err)
	}
	r.observeSignal("lexical", start, err)
	if err != nil {
		return nil, err
	}
	span.SetAttr("results", len(results))
	return results, nil
}

func (r *run) scoreVector(ctx context.Context) ([]vector.Result, error) {
	sctx, span := tracing.StartChildSpan(ctx, "vector")
	defer span.End()
	start := time.Now()

	if r.engine.embedder == nil {
		r.observeSignal("vector", start, errNoEmbedder)
		return nil, errNoEmbedder
	}

	var results []vector.Result
	err := resilience.WithTimeout(sctx, r.cfg.VectorTimeout, "vector", func(ctx context.Context) error {
		embedding, err := r.engine.embedder.Embed(ctx, r.queryText())
		if err != nil {
			return err
		}
		scored, skipped, err := vector.ScoreBatch(ctx, embedding, r.chunks)
		if err != nil {
			return err
		}
		if skipped > 0 {
			r.log.Warn("chunks excluded from vector scoring", "skipped", skipped)
		}
		results = scored
		return nil
	})
	if err != nil && !errors.Is(err, apperrors.ErrEmbeddingUnavailable) {
		err = fmt.Errorf("%w: %v", apperrors.ErrEmbeddingUnavailable, err)
	}
	r.observeSignal("vector", start, err)
	if err != nil {
		return nil, err
	}
	span.SetAttr("results", len(results))
	return results, nil
}

func (r *run) observeSignal(signal string, start time.Time, err error) {
	m := r.engine.metrics
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SignalLatency.WithLabelValues(signal, status).Observe(time.Since(start).Seconds())
}

// attempt produces one cascade stage's filtered candidates.
func (r *run) attempt(ctx context.Context, stage cascade.Descriptor) ([]model.ScoredCandidate, error) {
	ctx, span := tracing.StartChildSpan(ctx, "stage:"+string(stage.Name))
	defer span.End()

	lex, lexErr := r.lexical, r.lexErr
	vec, vecErr := r.vector, r.vecErr
	weights := r.weights

	switch {
	case stage.ExpandQuery:
		terms, err := r.expandedTerms(ctx)
		if err != nil {
			return nil, err
		}
		lex, lexErr = r.scoreLexical(ctx, terms)
		if lexErr != nil {
			return nil, lexErr
		}
	case stage.LexicalOnly:
		if lexErr != nil {
			lex, lexErr = r.retryLexicalSignal(ctx)
		}
		if lexErr != nil {
			return nil, lexErr
		}
		vec, vecErr = nil, nil
		weights = model.Weights{Lexical: 1}
	}
	if lexErr != nil && vecErr != nil {
		return nil, fmt.Errorf("%w: stage %s has no live signal", apperrors.ErrBothSignalsUnavailable, stage.Name)
	}

	merged := merger.Merge(lex, vec, weights)
	filtered := stage.Filter(r.query).Apply(merged, r.metadata)
	span.SetAttr("merged", len(merged))
	span.SetAttr("kept", len(filtered))
	return filtered, nil
}

// retryLexicalSignal re-attempts a failed lexical signal once per request.
func (r *run) retryLexicalSignal(ctx context.Context) ([]lexical.Result, error) {
	if !r.retried {
		r.retried = true
		if current := r.engine.currentSnapshot(); current != nil && r.snap == nil {
			r.snap = current
		}
		r.retryLexical, r.retryErr = r.scoreLexical(ctx, tokenizer.QueryTerms(r.query.RawText, r.query.Keywords))
	}
	return r.retryLexical, r.retryErr
}

func (r *run) expandedTerms(ctx context.Context) ([]string, error) {
	if r.engine.expander == nil {
		return nil, errNoExpander
	}
	var extra []string
	err := resilience.WithTimeout(ctx, r.cfg.ExpansionTimeout, "expansion", func(ctx context.Context) error {
		var err error
		extra, err = r.engine.expander.Expand(ctx, r.queryText(), r.query.Keywords)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query expansion: %w", err)
	}
	base := tokenizer.QueryTerms(r.query.RawText, r.query.Keywords)
	expanded := tokenizer.QueryTerms(r.query.RawText, append(append([]string(nil), r.query.Keywords...), extra...))
	// expanded is a superset of base; the same size means nothing new
	// survived tokenization and the stage would repeat the strict attempt.
	if len(expanded) == len(base) {
		return nil, errNoExpansions
	}
	r.log.Debug("query expanded", "terms", len(base), "expanded_terms", len(expanded))
	return expanded, nil
}

func (r *run) metadata(chunkID string) (model.ChunkMetadata, bool) {
	c, ok := r.byID[chunkID]
	return c.Metadata, ok
}

func (r *run) text(chunkID string) string {
	return r.byID[chunkID].Text
}

func (r *run) queryText() string {
	if t := strings.TrimSpace(r.query.RawText); t != "" {
		return t
	}
	return strings.Join(r.query.Keywords, " ")
}

func (e *Engine) currentSnapshot() *corpus.Snapshot {
	if e.snapshots == nil {
		return nil
	}
	return e.snapshots.Current()
}
