package engine

import (
	"errors"
	"reflect"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/graph"
	"github.com/neurocodex/codexdb/pkg/internal/fixture"
)

func pairs(rows []core.Connection) [][2]int64 {
	out := make([][2]int64, len(rows))
	for i, c := range rows {
		out[i] = [2]int64{c.Pre, c.Post}
	}
	return out
}

func TestConnectionsIncidentAndInduced(t *testing.T) {
	s := newTestStore(t)

	rows, err := s.Connections(ConnectionFilter{IDs: []int64{fixture.D1}})
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{
		{fixture.D1, fixture.R1},
		{fixture.D1, fixture.R2},
		{fixture.R1, fixture.D1},
	}, pairs(rows))

	rows, err = s.Connections(ConnectionFilter{IDs: []int64{fixture.D1, fixture.R1}, Induced: true})
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{fixture.D1, fixture.R1}, {fixture.R1, fixture.D1}}, pairs(rows))

	rows, err = s.Connections(ConnectionFilter{IDs: []int64{fixture.I1, fixture.I2}, Induced: true})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestConnectionsFilters(t *testing.T) {
	s := newTestStore(t)
	d1 := []int64{fixture.D1}

	rows, err := s.Connections(ConnectionFilter{IDs: d1, MinSynCount: 10})
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{fixture.D1, fixture.R1}, {fixture.D1, fixture.R2}}, pairs(rows))

	rows, err = s.Connections(ConnectionFilter{IDs: d1, NTTypes: []string{"gaba"}})
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{fixture.R1, fixture.D1}}, pairs(rows))

	rows, err = s.Connections(ConnectionFilter{IDs: d1, Regions: []string{"al_l"}})
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{fixture.D1, fixture.R2}}, pairs(rows))

	_, err = s.Connections(ConnectionFilter{IDs: d1, NTTypes: []string{"XYZ"}})
	assert.True(t, errors.Is(err, core.ErrInvalidQuery))
}

func TestCellConnectionsIgnoresThreshold(t *testing.T) {
	s := newTestStore(t)

	rows := s.CellConnections(fixture.P4)
	assert.Equal(t, [][2]int64{
		{fixture.P2, fixture.P4},
		{fixture.P3, fixture.P4},
		{fixture.P4, fixture.D3},
	}, pairs(rows))
	assert.Empty(t, s.CellConnections(fixture.Unknown))
}

func TestConnectionsByRegion(t *testing.T) {
	s := newTestStore(t)
	d1 := strconv.FormatInt(fixture.D1, 10)

	flat, err := s.ConnectionsByRegion(d1, false, 0, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{fixture.R1, fixture.R2}, flat.Downstream)
	assert.Equal(t, []int64{fixture.R1}, flat.Upstream)
	assert.Nil(t, flat.DownstreamByRegion)

	split, err := s.ConnectionsByRegion(d1, true, 0, "ACH")
	require.NoError(t, err)
	assert.Equal(t, map[string][]int64{"LH_L": {fixture.R1}, "AL_L": {fixture.R2}}, split.DownstreamByRegion)
	assert.Empty(t, split.UpstreamByRegion)

	_, err = s.ConnectionsByRegion("not-a-cell", false, 0, "")
	var qe *core.QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, core.InvalidValue, qe.Kind)
}

func TestPartnerSetsAreMemoizedPerThreshold(t *testing.T) {
	s := newTestStore(t)

	def := s.InputSets(-1)
	assert.Equal(t, reflect.ValueOf(def).Pointer(), reflect.ValueOf(s.InputSets(5)).Pointer())
	assert.Equal(t, reflect.ValueOf(def).Pointer(), reflect.ValueOf(s.InputSets(-1)).Pointer())

	// P4 -> D3 carries 3 synapses
	assert.Nil(t, def[fixture.D3].IDs())
	assert.Equal(t, []int64{fixture.P4}, s.InputSets(0)[fixture.D3].IDs())
	assert.ElementsMatch(t, []int64{fixture.R1, fixture.R2}, s.OutputSets(-1)[fixture.D1].IDs())

	ins, outs := s.InputOutputPartnersWithSynapseCounts(-1)
	assert.Equal(t, map[int64]int{fixture.D1: 10, fixture.D2: 8}, ins[fixture.R1])
	assert.Equal(t, map[int64]int{fixture.R1: 10, fixture.R2: 12}, outs[fixture.D1])

	down, up := s.Partners(fixture.D1)
	assert.ElementsMatch(t, []int64{fixture.R1, fixture.R2}, down.IDs())
	assert.Equal(t, []int64{fixture.R1}, up.IDs())

	downPils, _ := s.PartnersByNeuropil(fixture.D1)
	assert.Equal(t, []int64{fixture.R2}, downPils["AL_L"].IDs())
}

func TestPathways(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, map[int64]int{fixture.P1: 0, fixture.P2: 1, fixture.P3: 1, fixture.P4: 2},
		s.Pathways(fixture.P1, fixture.P4))
	assert.Nil(t, s.Pathways(fixture.P1, fixture.D3))
	assert.Nil(t, s.PathwayEdges(fixture.P1, fixture.D3, -1))

	edges := s.PathwayEdges(fixture.P1, fixture.D3, 0)
	require.Len(t, edges, 5)
	assert.Contains(t, edges, WeightedEdge{From: fixture.P1, To: fixture.P2, SynCount: 9})
	assert.Contains(t, edges, WeightedEdge{From: fixture.P4, To: fixture.D3, SynCount: 3})
}

func TestReachableCountsAndDistances(t *testing.T) {
	s := newTestStore(t)

	counts := s.ReachableCounts([]int64{fixture.P1}, true, -1)
	require.Len(t, counts, 2)
	assert.Equal(t, graph.HopCount{Hops: 1, Label: "1 hop", Count: 3, Text: "3 (23%)"}, counts[0])
	assert.Equal(t, 4, counts[1].Count)

	// zero keeps P4 -> D3, and D3 leads on to R2
	assert.Len(t, s.ReachableCounts([]int64{fixture.P1}, true, 0), 4)
	assert.Empty(t, s.ReachableCounts([]int64{fixture.P1}, false, -1))

	m := s.DistanceMatrix([]int64{fixture.P1, fixture.Unknown}, []int64{fixture.P4, fixture.D3}, true, -1)
	require.Len(t, m.Rows, 1)
	assert.Equal(t, []int{2, -1}, m.Rows[0].Distances)
}

func TestNeuropilSynapseCounts(t *testing.T) {
	s := newTestStore(t)

	in, out := s.NeuropilSynapseCounts(fixture.D1)
	assert.Equal(t, []RegionCount{{Region: "LH_L", Count: 7}}, in)
	assert.Equal(t, []RegionCount{{Region: "AL_L", Count: 12}, {Region: "LH_L", Count: 10}}, out)
}

func TestSimilarCells(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, []int64{fixture.D1, fixture.D2}, s.SimilarCells(fixture.D1, true).IDs())
	assert.Equal(t, []int64{fixture.D2}, s.SimilarCells(fixture.D1, false).IDs())
	assert.Zero(t, s.SimilarCells(fixture.Unknown, true).Len())
	assert.Equal(t, []ScoredCell{{RootID: fixture.D1, Score: 7}}, s.SimilarCellScores(fixture.D2, 0, 0))
}

func TestSimilarConnectivity(t *testing.T) {
	s := newTestStore(t)

	scores := s.SimilarConnectivity(fixture.D2, false, true, false)
	assert.Equal(t, map[int64]float64{fixture.D2: 1, fixture.D1: 0.5}, scores)

	weighted := s.SimilarConnectivity(fixture.D2, false, true, true)
	assert.InDelta(t, 8.0/22.0, weighted[fixture.D1], 1e-9)

	assert.Equal(t, map[int64]float64{fixture.I1: 1}, s.SimilarConnectivity(fixture.I1, true, true, false))
	assert.Empty(t, s.SimilarConnectivity(fixture.Unknown, true, true, false))

	sorted := SortedSimilarity(scores)
	assert.Equal(t, fixture.D2, sorted[0].RootID)
}

func TestSimilarConnectivityCapIsStable(t *testing.T) {
	for _, limit := range []int{1, 2} {
		opts := DefaultOptions()
		opts.MaxConnectivityCandidates = limit
		s, err := Build(fixtureTables(), opts)
		require.NoError(t, err)

		first := s.SimilarConnectivity(fixture.D1, true, true, false)
		for i := 0; i < 200; i++ {
			require.Equal(t, first, s.SimilarConnectivity(fixture.D1, true, true, false), "limit %d call %d", limit, i)
		}
		if limit == 1 {
			// R1's only input is D1 itself
			assert.Equal(t, map[int64]float64{fixture.D1: 1}, first)
		}
	}
}
