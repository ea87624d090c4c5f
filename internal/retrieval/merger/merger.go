// Package merger combines lexical and vector results into one deduplicated,
// totally ordered candidate list and applies metadata filters after scoring.
package merger

import (
	"container/heap"
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/lexical"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/vector"
)

// Merge builds one candidate per chunk id seen on either side. A chunk found
// by only one signal scores zero on the other. Weights are normalised before
// combining and the output is sorted by model.Less.
func Merge(lexicalResults []lexical.Result, vectorResults []vector.Result, weights model.Weights) []model.ScoredCandidate {
	w := weights.Normalize()
	byID := make(map[string]*model.ScoredCandidate, len(lexicalResults)+len(vectorResults))

	for _, r := range vectorResults {
		c, ok := byID[r.ChunkID]
		if !ok {
			c = &model.ScoredCandidate{ChunkID: r.ChunkID, DocumentID: r.DocumentID}
			byID[r.ChunkID] = c
		}
		c.VectorScore = math.Max(c.VectorScore, clamp01(r.Score))
		c.Source = join(c.Source, model.SourceVector)
	}
	for _, r := range lexicalResults {
		c, ok := byID[r.ChunkID]
		if !ok {
			c = &model.ScoredCandidate{ChunkID: r.ChunkID, DocumentID: r.DocumentID}
			byID[r.ChunkID] = c
		}
		c.LexicalScore = math.Max(c.LexicalScore, clamp01(r.Score))
		c.Source = join(c.Source, model.SourceLexical)
	}

	merged := make([]model.ScoredCandidate, 0, len(byID))
	for _, c := range byID {
		c.CombinedScore = clamp01(w.Vector*c.VectorScore + w.Lexical*c.LexicalScore)
		merged = append(merged, *c)
	}
	Sort(merged)
	return merged
}

// Sort orders candidates in place by model.Less.
func Sort(candidates []model.ScoredCandidate) {
	sort.Slice(candidates, func(i, j int) bool {
		return model.Less(candidates[i], candidates[j])
	})
}

// Top returns the best n candidates in model.Less order. The input need not
// be sorted and is not modified.
func Top(candidates []model.ScoredCandidate, n int) []model.ScoredCandidate {
	if n <= 0 || len(candidates) <= n {
		out := append([]model.ScoredCandidate(nil), candidates...)
		Sort(out)
		return out
	}
	h := &candidateHeap{}
	heap.Init(h)
	for _, c := range candidates {
		heap.Push(h, c)
		if h.Len() > n {
			heap.Pop(h)
		}
	}
	result := make([]model.ScoredCandidate, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(model.ScoredCandidate)
	}
	return result
}

func join(existing, add model.Source) model.Source {
	if existing == "" || existing == add {
		return add
	}
	return model.SourceBoth
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// candidateHeap is a min-heap under model.Less: the root is the worst
// candidate kept so far.
type candidateHeap []model.ScoredCandidate

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool { return model.Less(h[j], h[i]) }

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) {
	*h = append(*h, x.(model.ScoredCandidate))
}

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
