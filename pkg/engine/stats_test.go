package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/internal/fixture"
)

func TestHeatmapCountsBySide(t *testing.T) {
	s := newTestStore(t)

	hc, ok := s.HeatmapCounts("side")
	require.True(t, ok)

	ll := core.GroupKey{From: "left", To: "left"}
	rl := core.GroupKey{From: "right", To: "left"}
	rr := core.GroupKey{From: "right", To: "right"}
	assert.Equal(t, map[core.GroupKey]int{ll: 35, rl: 11, rr: 27}, hc.Synapses)
	assert.Equal(t, map[core.GroupKey]int{ll: 4, rl: 2, rr: 4}, hc.Connections)
	// D1 <-> R1 is the only reciprocal pair, counted once into each direction
	assert.Equal(t, map[core.GroupKey]int{ll: 2}, hc.Reciprocal)

	_, ok = s.HeatmapCounts("label")
	assert.False(t, ok)
	assert.Contains(t, GroupByAttributes(), "nt_type")
}

func TestHeatmapSynapsesSumToTotal(t *testing.T) {
	s := newTestStore(t)

	for _, attr := range GroupByAttributes() {
		hc, ok := s.HeatmapCounts(attr)
		require.True(t, ok, attr)
		total, pairs := 0, 0
		for _, v := range hc.Synapses {
			total += v
		}
		for _, v := range hc.Connections {
			pairs += v
		}
		assert.Equal(t, s.NumSynapses(), total, attr)
		assert.Equal(t, s.NumConnections(), pairs, attr)
	}
}

func TestGroupedRowsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	rows := s.grouped.Rows()
	require.NotEmpty(t, rows)
	for i := 1; i < len(rows); i++ {
		a, b := rows[i-1], rows[i]
		assert.True(t, a.Attribute < b.Attribute ||
			(a.Attribute == b.Attribute && (a.From < b.From || (a.From == b.From && a.To < b.To))))
	}
	assert.Equal(t, s.grouped, groupedCountsFromRows(rows))
}

func TestCategories(t *testing.T) {
	s := newTestStore(t)

	byKey := make(map[string]Category)
	for _, c := range s.Categories(0) {
		byKey[c.Key] = c
	}
	side := byKey["side"]
	assert.Equal(t, "Cell Body Sides", side.Caption)
	assert.Equal(t, []ValueCount{{Value: "left", Count: 7}, {Value: "right", Count: 6}}, side.Counts)

	labels := byKey["label"]
	assert.Equal(t, 5, labels.Distinct)
	assert.Equal(t, ValueCount{Value: "dsx neuron", Count: 2}, labels.Counts[0])

	assert.Equal(t, 9, byKey["group"].Distinct)
	assert.Equal(t, ValueCount{Value: "LH_L.LH_L", Count: 3}, byKey["group"].Counts[0])

	for _, c := range s.Categories(1) {
		if c.Key == "side" {
			assert.Equal(t, "Cell Body Sides (top 1 values out of 2)", c.Caption)
			assert.Len(t, c.Counts, 1)
		}
	}
}

func TestDynamicRanges(t *testing.T) {
	s := newTestStore(t)

	ranges := s.DynamicRanges()
	assert.Equal(t, []string{"left", "right"}, ranges["data_side_range"])
	assert.Equal(t, []string{"intrinsic", "afferent", "efferent"}, ranges["data_flow_range"])
}

func TestUniqueValues(t *testing.T) {
	s := newTestStore(t)

	vals, err := s.UniqueValues("side")
	require.NoError(t, err)
	assert.Equal(t, []string{"left", "right"}, vals)

	vals, err = s.UniqueValues("cell_type")
	require.NoError(t, err)
	assert.Equal(t, []string{"RR1", "RR1b", "pC1a", "pC2l"}, vals)

	_, err = s.UniqueValues("bogus")
	assert.True(t, errors.Is(err, core.ErrInvalidQuery))
}

func TestMultiValueAttributes(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, []string{"side"}, s.MultiValueAttributes([]int64{fixture.D1, fixture.D2}))
	assert.Equal(t, []string{"cell_type", "class", "nt_type"},
		s.MultiValueAttributes([]int64{fixture.D1, fixture.R1}))
	assert.Empty(t, s.MultiValueAttributes([]int64{fixture.D1}))
}

func TestNonUniformLabels(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, []string{"dsx neuron"},
		s.NonUniformLabels([]int64{fixture.D1}, []int64{fixture.D1, fixture.R1}))
	assert.Empty(t, s.NonUniformLabels([]int64{fixture.D1}, []int64{fixture.D1, fixture.D2}))
}

func TestHemisphereFingerprint(t *testing.T) {
	assert.Equal(t, "Left/Left", HemisphereFingerprint([]string{"LH_L"}, []string{"AL_L", "LH_L"}))
	assert.Equal(t, "Left/Mix", HemisphereFingerprint([]string{"LH_L"}, []string{"GNG", "LH_R"}))
	assert.Equal(t, "None/Center", HemisphereFingerprint(nil, []string{"GNG"}))
	assert.Equal(t, "", HemisphereFingerprint(nil, nil))
}
