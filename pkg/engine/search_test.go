package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/internal/fixture"
)

func mustSearch(t *testing.T, s *Store, q string, cs, wm bool) []int64 {
	t.Helper()
	ids, err := s.Search(q, cs, wm)
	require.NoError(t, err, q)
	return ids
}

func TestSearchFreeForm(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, []int64{fixture.D1, fixture.D2, fixture.D3}, mustSearch(t, s, "dsx", false, false))
	assert.Equal(t, []int64{fixture.R1, fixture.R2}, mustSearch(t, s, "rr", false, false))
	assert.Equal(t, []int64{fixture.L1}, mustSearch(t, s, "DNa02", true, true))
	assert.Empty(t, mustSearch(t, s, "nothing-like-this", false, false))
}

func TestSearchCaseSensitivityOnlyNarrows(t *testing.T) {
	s := newTestStore(t)

	for _, q := range []string{"DSX", "dsx", "dna02", "Neuron", "RR1"} {
		ci := core.IDSetOf(mustSearch(t, s, q, false, false)...)
		for _, id := range mustSearch(t, s, q, true, false) {
			assert.True(t, ci.Has(id), "%q: %d found case-sensitively only", q, id)
		}
	}
	assert.Empty(t, mustSearch(t, s, "DSX", true, false))
	assert.Len(t, mustSearch(t, s, "DSX", false, false), 3)
}

func TestSearchWordMatchOnlyNarrows(t *testing.T) {
	s := newTestStore(t)

	// "ds" is a token prefix only
	assert.Len(t, mustSearch(t, s, "ds", false, false), 3)
	assert.Empty(t, mustSearch(t, s, "ds", false, true))
}

func TestSearchEmptyListsLargestFirst(t *testing.T) {
	s := newTestStore(t)

	ids := mustSearch(t, s, "", false, false)
	require.Len(t, ids, s.NumCells())
	assert.Equal(t, []int64{fixture.L1, fixture.D2, fixture.D3, fixture.D1, fixture.R1}, ids[:5])
	assert.Equal(t, ids, mustSearch(t, s, "   ", false, false))
}

func TestSearchStarListsEverything(t *testing.T) {
	s := newTestStore(t)

	assert.ElementsMatch(t, fixture.IDs, mustSearch(t, s, "*", false, false))
}

func TestSearchComplementaryOperators(t *testing.T) {
	s := newTestStore(t)

	pairs := [][2]string{
		{"side == left", "side != left"},
		{"{has} cell_type", "{not} cell_type"},
		{"label {contains} dsx", "label {not_contains} dsx"},
		{"nt_type << GABA,GLUT", "nt_type !< GABA,GLUT"},
	}
	for _, p := range pairs {
		a := mustSearch(t, s, p[0], false, false)
		b := mustSearch(t, s, p[1], false, false)
		assert.Equal(t, s.NumCells(), len(a)+len(b), "%q / %q", p[0], p[1])
		assert.Zero(t, core.IDSetOf(a...).Intersect(core.IDSetOf(b...)).Len(), "%q / %q overlap", p[0], p[1])
	}
	assert.Len(t, mustSearch(t, s, "side == left", false, false), 7)
	assert.Len(t, mustSearch(t, s, "{has} cell_type", false, false), 5)
}

func TestSearchStructured(t *testing.T) {
	s := newTestStore(t)

	assert.ElementsMatch(t, []int64{fixture.R1, fixture.R2}, mustSearch(t, s, "nt == GABA", false, false))
	assert.ElementsMatch(t, []int64{fixture.D1, fixture.D3}, mustSearch(t, s, "dsx && side == left", false, false))
	assert.ElementsMatch(t, []int64{fixture.D1, fixture.D2, fixture.D3, fixture.L1},
		mustSearch(t, s, "dsx || super_class == descending", false, false))
	assert.ElementsMatch(t, []int64{fixture.R1, fixture.R2},
		mustSearch(t, s, "{downstream} 720575940600000001", false, false))
	assert.ElementsMatch(t, []int64{fixture.P1, fixture.P2, fixture.P3, fixture.P4},
		mustSearch(t, s, "720575940600000021 -> 720575940600000024", false, false))
	assert.ElementsMatch(t, []int64{fixture.D1, fixture.D2},
		mustSearch(t, s, "{similar_shape} 720575940600000001", false, false))
}

func TestSearchInvalidQuery(t *testing.T) {
	s := newTestStore(t)

	for _, q := range []string{"== foo == bar", "bogus_attr == 1", "side == "} {
		_, err := s.Search(q, false, false)
		require.Error(t, err, q)
		assert.True(t, errors.Is(err, core.ErrInvalidQuery), q)
	}
}

func TestSearchIsMemoized(t *testing.T) {
	s := newTestStore(t)

	first := mustSearch(t, s, "dsx", false, false)
	second := mustSearch(t, s, "dsx", false, false)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, s.searchCache.Len())

	mustSearch(t, s, "dsx", true, false)
	assert.Equal(t, 2, s.searchCache.Len())
}

func TestSearchIsDeterministic(t *testing.T) {
	a := newTestStore(t)
	b := newTestStore(t)

	for _, q := range []string{"", "*", "dsx", "side == right", "neuron || rr"} {
		assert.Equal(t, mustSearch(t, a, q, false, false), mustSearch(t, b, q, false, false), q)
	}
}

func TestClosestToken(t *testing.T) {
	s := newTestStore(t)

	tok, dist, ok := s.ClosestToken("dsz", false, nil)
	require.True(t, ok)
	assert.Equal(t, "dsx", tok)
	assert.Equal(t, 1, dist)

	_, _, ok = s.ClosestToken("", false, nil)
	assert.False(t, ok)
	_, _, ok = s.ClosestToken("12345", false, nil)
	assert.False(t, ok)
	_, _, ok = s.ClosestToken("side == left", false, nil)
	assert.False(t, ok)
}

func TestAdvancedSearchDataFillsRanges(t *testing.T) {
	s := newTestStore(t)

	data, err := s.AdvancedSearchData("dsx")
	require.NoError(t, err)
	assert.Equal(t, "dsx", data.CurrentQuery)
	assert.NotEmpty(t, data.Operators)
	side, ok := data.Attributes["side"]
	require.True(t, ok)
	assert.NotEmpty(t, side.ValueRange)
}

func BenchmarkSearchFreeForm(b *testing.B) {
	s := newTestStore(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.search("dsx neuron", false, false)
	}
}

func BenchmarkSearchStructured(b *testing.B) {
	s := newTestStore(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.search("side == left && {has} label", false, false)
	}
}
