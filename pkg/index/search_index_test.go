package index

import (
	"testing"

	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndex() *Index {
	return New([]Document{
		{ID: 1, Labels: []string{"LC10 visual projection"}, Searchable: []string{"1", "LC10.1", "GABA"}},
		{ID: 2, Labels: []string{"Kenyon cell; KCab"}, Searchable: []string{"2", "KCab.1", "ACH"}},
		{ID: 3, Labels: []string{"lc10 putative"}, Searchable: []string{"3", "LC10.2", "ACH"}},
		{ID: 4, Searchable: []string{"4", "DNa02.1", "GLUT"}},
	})
}

func TestSearchExactTokenFirst(t *testing.T) {
	ix := testIndex()
	assert.Equal(t, []int64{1, 3}, ix.Search("LC10", false, false))
	assert.Equal(t, []int64{1}, ix.Search("LC10", true, false))
	assert.Equal(t, []int64{3}, ix.Search("lc10", true, false))
}

func TestSearchAttributeValues(t *testing.T) {
	ix := testIndex()
	assert.Equal(t, []int64{2, 3}, ix.Search("ach", false, true))
	assert.Equal(t, []int64{4}, ix.Search("dna02.1", false, true))
	assert.Equal(t, []int64{4}, ix.Search("4", true, true))
}

func TestSearchPrefixAndSubstring(t *testing.T) {
	ix := testIndex()
	assert.Equal(t, []int64{2}, ix.Search("kenyon", false, false))
	assert.Equal(t, []int64{2}, ix.Search("keny", false, false))
	assert.Empty(t, ix.Search("keny", false, true))
	// substring of a full label, not of a token
	assert.Equal(t, []int64{1}, ix.Search("visual proj", false, false))
}

func TestSearchMultiTokenIntersectionFirst(t *testing.T) {
	ix := testIndex()
	got := ix.Search("lc10 putative", false, false)
	require.NotEmpty(t, got)
	assert.Equal(t, int64(3), got[0])
	assert.ElementsMatch(t, []int64{1, 3}, got)
}

func TestSearchQuotedSkipsTokenSplit(t *testing.T) {
	ix := testIndex()
	assert.Equal(t, []int64{3}, ix.Search(`"lc10 putative"`, false, false))
	assert.Empty(t, ix.Search(`"putative lc10"`, false, false))
}

func TestSearchAll(t *testing.T) {
	ix := testIndex()
	assert.Equal(t, []int64{1, 2, 3, 4}, ix.Search("", false, false))
	assert.Equal(t, []int64{1, 2, 3, 4}, ix.Search("*", true, true))
	assert.Equal(t, []int64{1, 2, 3, 4}, ix.AllIDs())
}

func TestSearchNoMatch(t *testing.T) {
	ix := testIndex()
	got := ix.Search("zzzz", false, false)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestClosestToken(t *testing.T) {
	ix := testIndex()

	tok, dist, ok := ix.ClosestToken("kenyn", false, nil)
	require.True(t, ok)
	assert.Equal(t, "kenyon", tok)
	assert.Equal(t, 1, dist)

	tok, _, ok = ix.ClosestToken(" Kenyn ", true, nil)
	require.True(t, ok)
	assert.Equal(t, "Kenyon", tok)

	tok, _, ok = ix.ClosestToken("lc1", false, core.IDSetOf(3))
	require.True(t, ok)
	assert.Equal(t, "lc10", tok)

	_, _, ok = ix.ClosestToken("x", false, core.IDSetOf(99))
	assert.False(t, ok)
}

func TestClosestTokenSkipsStopWords(t *testing.T) {
	ix := New([]Document{{ID: 7, Labels: []string{"the thermo"}}})
	tok, _, ok := ix.ClosestToken("the", false, nil)
	require.True(t, ok)
	assert.Equal(t, "thermo", tok)
}
