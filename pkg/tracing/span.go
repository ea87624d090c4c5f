// Package tracing records a per-retrieval span tree in memory and writes it
// as one structured log line when the root finishes. Sampling happens at
// the root; every helper accepts a nil span, so unsampled retrievals pay
// only a context lookup.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

type spanKey struct{}

type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	EndTime   time.Time
	Children  []*Span
	Attrs     map[string]any

	mu sync.Mutex
}

func newSpan(name, traceID string) *Span {
	return &Span{Name: name, TraceID: traceID, StartTime: time.Now(), Attrs: map[string]any{}}
}

// Tracer samples roots. A nil *Tracer never samples.
type Tracer struct {
	rate   float64
	logger *slog.Logger
}

func NewTracer(enabled bool, sampleRate float64) *Tracer {
	if !enabled {
		sampleRate = 0
	}
	return &Tracer{rate: sampleRate, logger: slog.Default().With("component", "tracing")}
}

func (t *Tracer) sampled() bool {
	if t == nil || t.rate <= 0 {
		return false
	}
	return t.rate >= 1 || rand.Float64() < t.rate
}

// Start opens a root span keyed by traceID, or returns ctx and nil when the
// trace is not sampled.
func (t *Tracer) Start(ctx context.Context, name, traceID string) (context.Context, *Span) {
	if !t.sampled() {
		return ctx, nil
	}
	root := newSpan(name, traceID)
	return context.WithValue(ctx, spanKey{}, root), root
}

// Finish ends root and logs the tree.
func (t *Tracer) Finish(root *Span) {
	if t == nil || root == nil {
		return
	}
	root.End()
	var lines []any
	root.flatten(root.StartTime, "", &lines)
	t.logger.Info("trace",
		slog.String("trace_id", root.TraceID),
		slog.Int64("total_ms", root.duration().Milliseconds()),
		slog.Group("spans", lines...),
	)
}

// StartChildSpan opens a span under the one in ctx. Outside a sampled trace
// it returns ctx and nil.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := ctx.Value(spanKey{}).(*Span)
	if parent == nil {
		return ctx, nil
	}
	child := newSpan(name, parent.TraceID)
	parent.mu.Lock()
	parent.Children = append(parent.Children, child)
	parent.mu.Unlock()
	return context.WithValue(ctx, spanKey{}, child), child
}

func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.EndTime.IsZero() {
		s.EndTime = time.Now()
	}
	s.mu.Unlock()
}

func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

func (s *Span) duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// flatten appends one group per span, named by its path from the root,
// holding its offset from the trace start, its duration and its attributes.
// A span still open when the root finishes reports a duration of zero.
func (s *Span) flatten(origin time.Time, prefix string, out *[]any) {
	s.mu.Lock()
	path := s.Name
	if prefix != "" {
		path = prefix + "/" + s.Name
	}
	fields := []any{
		slog.Int64("offset_ms", s.StartTime.Sub(origin).Milliseconds()),
		slog.Int64("ms", s.duration().Milliseconds()),
	}
	keys := make([]string, 0, len(s.Attrs))
	for k := range s.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, slog.Any(k, s.Attrs[k]))
	}
	children := append([]*Span(nil), s.Children...)
	s.mu.Unlock()

	*out = append(*out, slog.Group(path, fields...))
	seen := map[string]int{}
	for _, c := range children {
		name := c.Name
		if n := seen[name]; n > 0 {
			c = c.renamed(fmt.Sprintf("%s#%d", name, n))
		}
		seen[name]++
		c.flatten(origin, path, out)
	}
}

// renamed returns a shallow view of s under a different name, keeping
// repeated sibling names distinct in the log line.
func (s *Span) renamed(name string) *Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Span{
		Name: name, TraceID: s.TraceID, StartTime: s.StartTime, EndTime: s.EndTime,
		Children: s.Children, Attrs: s.Attrs,
	}
}
