package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
)

func TestFilterMatches(t *testing.T) {
	meta := model.ChunkMetadata{
		Categories:     []string{"Networking", "VPN"},
		Entities:       []string{"AnyConnect", "Windows"},
		TechnicalLevel: 3,
	}
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"primary case-insensitive", Filter{PrimaryCategory: "networking"}, true},
		{"primary missing", Filter{PrimaryCategory: "billing"}, false},
		{"any secondary", Filter{SecondaryCategories: []string{"email", "vpn"}}, true},
		{"no secondary", Filter{SecondaryCategories: []string{"email"}}, false},
		{"all entities", Filter{RequiredEntities: []string{"anyconnect", "windows"}}, true},
		{"missing entity", Filter{RequiredEntities: []string{"anyconnect", "macos"}}, false},
		{"level in range", Filter{TechnicalLevel: &model.LevelRange{Min: 2, Max: 3}}, true},
		{"level out of range", Filter{TechnicalLevel: &model.LevelRange{Min: 4, Max: 5}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(meta))
		})
	}
}

func TestStrictAndRelaxedFilters(t *testing.T) {
	q := model.QueryContext{
		PrimaryCategory:     "vpn",
		SecondaryCategories: []string{"windows"},
		RequiredEntities:    []string{"AnyConnect"},
		TechnicalLevel:      &model.LevelRange{Min: 1, Max: 2},
	}
	strict := StrictFilter(q)
	relaxed := RelaxedFilter(q)

	assert.Equal(t, []string{"windows"}, strict.SecondaryCategories)
	assert.Empty(t, relaxed.SecondaryCategories)
	assert.Empty(t, relaxed.RequiredEntities)
	assert.Equal(t, "vpn", relaxed.PrimaryCategory)
	assert.Equal(t, q.TechnicalLevel, relaxed.TechnicalLevel)
	assert.True(t, Filter{}.IsEmpty())
	assert.False(t, relaxed.IsEmpty())
}

func TestFilterApplyPreservesOrder(t *testing.T) {
	metas := map[string]model.ChunkMetadata{
		"a": {Categories: []string{"vpn"}},
		"b": {Categories: []string{"email"}},
		"c": {Categories: []string{"vpn"}},
	}
	lookup := func(id string) (model.ChunkMetadata, bool) {
		m, ok := metas[id]
		return m, ok
	}
	in := []model.ScoredCandidate{{ChunkID: "c"}, {ChunkID: "b"}, {ChunkID: "ghost"}, {ChunkID: "a"}}
	got := Filter{PrimaryCategory: "vpn"}.Apply(in, lookup)
	assert.Equal(t, []string{"c", "a"}, ids(got))
}
