package motif

import (
	"log"
	"strconv"

	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/engine"
	"github.com/neurocodex/codexdb/pkg/protocol"
)

// NodeMatch is the cell bound to a motif node. IDs are rendered as text.
type NodeMatch struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EdgeMatch is one connection row realizing a motif edge.
type EdgeMatch struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Region   string `json:"region"`
	SynCount int    `json:"syn_count"`
	NTType   string `json:"nt_type"`
}

// Match is one assignment of cells to all motif nodes.
type Match struct {
	Nodes map[string]NodeMatch `json:"nodes"`
	Edges []EdgeMatch          `json:"edges"`
}

type binding struct {
	node string
	id   int64
}

// Search returns up to limit matches; a non-positive limit means
// DefaultLimit. A query with no nodes is rejected.
func (q *Query) Search(limit int) ([]Match, error) {
	if len(q.nodes) == 0 || len(q.nodes) > MaxNodes {
		return nil, core.NewMotifError("Number of nodes has to be in the range [1, %d]. Found %d", MaxNodes, len(q.nodes))
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	candidates := make([][]int64, len(q.nodes))
	for i, n := range q.nodes {
		ids, err := q.ds.Search(n.Query, false, false)
		if err != nil {
			return nil, err
		}
		candidates[i] = ids
	}

	matches := []Match{}
	emit := func(nodes []binding, edges []EdgeMatch) bool {
		matches = append(matches, q.makeMatch(nodes, edges))
		return len(matches) < limit
	}

	switch len(q.nodes) {
	case 1:
		x := q.nodes[0].Name
		for _, id := range candidates[0] {
			if !emit([]binding{{x, id}}, nil) {
				break
			}
		}
	case 2:
		if err := q.eachPair(0, 1, candidates[0], candidates[1], func(a, b int64, edges []EdgeMatch) bool {
			return emit([]binding{{q.nodes[0].Name, a}, {q.nodes[1].Name, b}}, edges)
		}); err != nil {
			return nil, err
		}
	case 3:
		if err := q.searchTriplets(candidates, emit); err != nil {
			return nil, err
		}
	}
	log.Printf("Motif search with %d nodes and %d edges: %d matches", len(q.nodes), len(q.order), len(matches))
	return matches, nil
}

func (q *Query) makeMatch(nodes []binding, edges []EdgeMatch) Match {
	m := Match{Nodes: make(map[string]NodeMatch, len(nodes)), Edges: []EdgeMatch{}}
	for _, b := range nodes {
		nm := NodeMatch{ID: strconv.FormatInt(b.id, 10)}
		if n := q.ds.Neuron(b.id); n != nil {
			nm.Name = n.Name
		}
		m.Nodes[b.node] = nm
	}
	m.Edges = append(m.Edges, edges...)
	return m
}

func edgeMatches(from, to string, rows []core.Connection) []EdgeMatch {
	out := make([]EdgeMatch, len(rows))
	for i, c := range rows {
		out[i] = EdgeMatch{From: from, To: to, Region: c.Neuropil, SynCount: c.SynCount, NTType: c.NTType}
	}
	return out
}

// ---- Pairs ----

// pairRows keeps connection rows grouped by ordered cell pair, in the order
// the pairs were first seen.
type pairRows struct {
	order [][2]int64
	rows  map[[2]int64][]core.Connection
}

func newPairRows() *pairRows {
	return &pairRows{rows: make(map[[2]int64][]core.Connection)}
}

func (p *pairRows) add(c core.Connection) {
	k := [2]int64{c.Pre, c.Post}
	if _, ok := p.rows[k]; !ok {
		p.order = append(p.order, k)
	}
	p.rows[k] = append(p.rows[k], c)
}

// prefilter widens the given edge constraints into one connection filter:
// the smallest threshold, and regions or transmitters only when every
// constrained edge restricts them.
func prefilter(ids []int64, ecs ...*EdgeConstraints) engine.ConnectionFilter {
	f := engine.ConnectionFilter{IDs: ids, Induced: true}
	var regions [][]string
	var nts []string
	allRegions, allNTs := true, true
	for _, ec := range ecs {
		if ec == nil {
			continue
		}
		if f.MinSynCount == 0 || ec.MinSynapseCount < f.MinSynCount {
			f.MinSynCount = ec.MinSynapseCount
		}
		if len(ec.Regions) == 0 {
			allRegions = false
		}
		regions = append(regions, ec.Regions)
		if ec.NTType == "" {
			allNTs = false
		} else {
			nts = append(nts, ec.NTType)
		}
	}
	if allRegions {
		f.Regions = sortedUnion(regions...)
	}
	if allNTs {
		f.NTTypes = sortedUnion(nts)
	}
	return f
}

// eachPair enumerates (x, y) cell pairs for nodes xi and yi following the
// constraints between them: both directions when both are constrained, the
// constrained direction alone otherwise, and every candidate pair when
// neither is. Pairs binding the same cell twice are skipped. fn returns
// false to stop.
func (q *Query) eachPair(xi, yi int, xs, ys []int64, fn func(x, y int64, edges []EdgeMatch) bool) error {
	x, y := q.nodes[xi].Name, q.nodes[yi].Name
	xy, yx := q.edge(x, y), q.edge(y, x)

	if xy == nil && yx == nil {
		for _, a := range xs {
			for _, b := range ys {
				if a != b && !fn(a, b, nil) {
					return nil
				}
			}
		}
		return nil
	}

	xSet, ySet := core.IDSetOf(xs...), core.IDSetOf(ys...)
	union := xSet.Union(ySet)
	rows, err := q.ds.Connections(prefilter(union.IDs(), xy, yx))
	if err != nil {
		return err
	}

	xyRows, yxRows := newPairRows(), newPairRows()
	for _, c := range rows {
		if c.Pre == c.Post {
			continue
		}
		if xy != nil && xSet.Has(c.Pre) && ySet.Has(c.Post) && xy.satisfiedBy(c) {
			xyRows.add(c)
		}
		if yx != nil && ySet.Has(c.Pre) && xSet.Has(c.Post) && yx.satisfiedBy(c) {
			yxRows.add(c)
		}
	}

	switch {
	case xy != nil && yx != nil:
		for _, k := range xyRows.order {
			back, ok := yxRows.rows[[2]int64{k[1], k[0]}]
			if !ok {
				continue
			}
			edges := append(edgeMatches(x, y, xyRows.rows[k]), edgeMatches(y, x, back)...)
			if !fn(k[0], k[1], edges) {
				return nil
			}
		}
	case xy != nil:
		for _, k := range xyRows.order {
			if !fn(k[0], k[1], edgeMatches(x, y, xyRows.rows[k])) {
				return nil
			}
		}
	default:
		for _, k := range yxRows.order {
			if !fn(k[1], k[0], edgeMatches(y, x, yxRows.rows[k])) {
				return nil
			}
		}
	}
	return nil
}

// ---- Triplets ----

// narrow keeps the candidates of node i that have synapses in a direction
// and region some constrained edge of the node requires.
func (q *Query) narrow(i int, ids []int64) ([]int64, error) {
	name := q.nodes[i].Name
	for _, k := range q.order {
		var attr string
		switch name {
		case k.from:
			attr = "output_neuropils"
		case k.to:
			attr = "input_neuropils"
		default:
			continue
		}
		var terms []protocol.Term
		chaining := protocol.OpOr
		if ec := q.edges[k]; len(ec.Regions) > 0 {
			for _, r := range ec.Regions {
				terms = append(terms, protocol.Term{Op: protocol.OpEqual, LHS: attr, RHS: r})
			}
		} else {
			terms = []protocol.Term{{Op: protocol.OpHas, RHS: attr}}
			chaining = protocol.OpAnd
		}
		pred, err := q.ds.CompileTerms(chaining, terms, true)
		if err != nil {
			return nil, err
		}
		ids = q.ds.Filter(ids, pred)
	}
	return ids, nil
}

type role struct {
	from, to int // node indices
}

// searchTriplets extends every (x, y) pair with a third cell z. A
// constrained role between z and x or y needs a satisfying connection row,
// an unconstrained one needs no row at all.
func (q *Query) searchTriplets(candidates [][]int64, emit func([]binding, []EdgeMatch) bool) error {
	for i := range candidates {
		ids, err := q.narrow(i, candidates[i])
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		candidates[i] = ids
	}

	all := core.IDSetOf(candidates[0]...).Union(core.IDSetOf(candidates[1]...)).Union(core.IDSetOf(candidates[2]...))
	rows, err := q.ds.Connections(engine.ConnectionFilter{IDs: all.IDs(), Induced: true})
	if err != nil {
		return err
	}
	adj := newPairRows()
	for _, c := range rows {
		adj.add(c)
	}

	roles := []role{{0, 2}, {2, 0}, {1, 2}, {2, 1}}
	names := []string{q.nodes[0].Name, q.nodes[1].Name, q.nodes[2].Name}

	return q.eachPair(0, 1, candidates[0], candidates[1], func(x, y int64, xyEdges []EdgeMatch) bool {
		bound := [3]int64{x, y, 0}
		for _, z := range candidates[2] {
			if z == x || z == y {
				continue
			}
			bound[2] = z
			edges, ok := append([]EdgeMatch(nil), xyEdges...), true
			for _, r := range roles {
				found := adj.rows[[2]int64{bound[r.from], bound[r.to]}]
				ec := q.edge(names[r.from], names[r.to])
				if ec == nil {
					if len(found) > 0 {
						ok = false
						break
					}
					continue
				}
				var sat []core.Connection
				for _, c := range found {
					if ec.satisfiedBy(c) {
						sat = append(sat, c)
					}
				}
				if len(sat) == 0 {
					ok = false
					break
				}
				edges = append(edges, edgeMatches(names[r.from], names[r.to], sat)...)
			}
			if !ok {
				continue
			}
			nodes := []binding{{names[0], x}, {names[1], y}, {names[2], z}}
			if !emit(nodes, edges) {
				return false
			}
		}
		return true
	})
}
