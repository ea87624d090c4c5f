package merger

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
)

// Filter is the closed set of metadata predicates a stage applies after
// merging. Empty fields do not constrain. All comparisons ignore case.
//
//   - PrimaryCategory: the chunk must carry it.
//   - SecondaryCategories: the chunk must carry at least one of them.
//   - RequiredEntities: the chunk must mention every one of them.
//   - TechnicalLevel: the chunk's level must lie in the range (unknown passes).
type Filter struct {
	PrimaryCategory     string
	SecondaryCategories []string
	RequiredEntities    []string
	TechnicalLevel      *model.LevelRange
}

// StrictFilter applies every predicate the query carries.
func StrictFilter(q model.QueryContext) Filter {
	return Filter{
		PrimaryCategory:     q.PrimaryCategory,
		SecondaryCategories: q.SecondaryCategories,
		RequiredEntities:    q.RequiredEntities,
		TechnicalLevel:      q.TechnicalLevel,
	}
}

// RelaxedFilter keeps only the primary category and the level range.
func RelaxedFilter(q model.QueryContext) Filter {
	return Filter{
		PrimaryCategory: q.PrimaryCategory,
		TechnicalLevel:  q.TechnicalLevel,
	}
}

// IsEmpty reports whether the filter accepts everything.
func (f Filter) IsEmpty() bool {
	return f.PrimaryCategory == "" && len(f.SecondaryCategories) == 0 &&
		len(f.RequiredEntities) == 0 && f.TechnicalLevel == nil
}

// Matches evaluates the filter against one chunk's metadata.
func (f Filter) Matches(meta model.ChunkMetadata) bool {
	if f.PrimaryCategory != "" && !containsFold(meta.Categories, f.PrimaryCategory) {
		return false
	}
	if len(f.SecondaryCategories) > 0 && !anyFold(meta.Categories, f.SecondaryCategories) {
		return false
	}
	for _, entity := range f.RequiredEntities {
		if !containsFold(meta.Entities, entity) {
			return false
		}
	}
	if f.TechnicalLevel != nil && !f.TechnicalLevel.Contains(meta.TechnicalLevel) {
		return false
	}
	return true
}

// Apply keeps the candidates whose chunk metadata matches, preserving order.
// Candidates whose chunk is unknown to lookup are dropped.
func (f Filter) Apply(candidates []model.ScoredCandidate, lookup func(chunkID string) (model.ChunkMetadata, bool)) []model.ScoredCandidate {
	out := make([]model.ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		meta, ok := lookup(c.ChunkID)
		if !ok {
			continue
		}
		if f.Matches(meta) {
			out = append(out, c)
		}
	}
	return out
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func anyFold(values, wanted []string) bool {
	for _, w := range wanted {
		if containsFold(values, w) {
			return true
		}
	}
	return false
}
