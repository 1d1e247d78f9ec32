package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/neurocodex/codexdb/pkg/catalog"
	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/graph"
)

// ConnectionFilter selects connection rows. All set fields must hold.
type ConnectionFilter struct {
	IDs []int64
	// Induced requires both endpoints in IDs instead of either.
	Induced     bool
	MinSynCount int
	NTTypes     []string
	Regions     []string
}

// Connections returns the matching rows in table order. An unknown
// transmitter code is an error.
func (s *Store) Connections(f ConnectionFilter) ([]core.Connection, error) {
	nts := make(map[string]bool, len(f.NTTypes))
	for _, nt := range f.NTTypes {
		code := strings.ToUpper(strings.TrimSpace(nt))
		if !catalog.IsNTType(code) {
			return nil, fmt.Errorf("%w: unknown NT type %s, must be one of %s",
				core.ErrInvalidQuery, nt, strings.Join(catalog.NTTypeCodes(), ", "))
		}
		nts[code] = true
	}
	regions := make(map[string]bool, len(f.Regions))
	for _, r := range f.Regions {
		regions[strings.ToUpper(strings.TrimSpace(r))] = true
	}
	ids := core.IDSetOf(f.IDs...)

	out := []core.Connection{}
	for _, c := range s.connections {
		if f.Induced {
			if !ids.Has(c.Pre) || !ids.Has(c.Post) {
				continue
			}
		} else if !ids.Has(c.Pre) && !ids.Has(c.Post) {
			continue
		}
		if f.MinSynCount > 0 && c.SynCount < f.MinSynCount {
			continue
		}
		if len(nts) > 0 && !nts[c.NTType] {
			continue
		}
		if len(regions) > 0 && !regions[c.Neuropil] {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// CellConnections returns every row touching rootID, at any synapse count.
func (s *Store) CellConnections(rootID int64) []core.Connection {
	out := []core.Connection{}
	for _, c := range s.connections {
		if c.Pre == rootID || c.Post == rootID {
			out = append(out, c)
		}
	}
	return out
}

// RegionPartners are the partners of one cell, flat or split by region.
type RegionPartners struct {
	Downstream         []int64            `json:"downstream,omitempty"`
	Upstream           []int64            `json:"upstream,omitempty"`
	DownstreamByRegion map[string][]int64 `json:"downstream_by_region,omitempty"`
	UpstreamByRegion   map[string][]int64 `json:"upstream_by_region,omitempty"`
}

// ConnectionsByRegion lists the partners of a cell given as text. minSyn
// of zero uses the store default.
func (s *Store) ConnectionsByRegion(cellID string, byNeuropil bool, minSyn int, ntType string) (RegionPartners, error) {
	var res RegionPartners
	id, err := parseRootID(cellID)
	if err != nil {
		return res, core.NewQueryError(core.InvalidValue, "'%s' is not a valid cell ID", cellID)
	}
	if minSyn <= 0 {
		minSyn = s.opts.MinSynapseCount
	}
	f := ConnectionFilter{IDs: []int64{id}, MinSynCount: minSyn}
	if ntType != "" {
		f.NTTypes = []string{ntType}
	}
	rows, err := s.Connections(f)
	if err != nil {
		return res, err
	}
	if byNeuropil {
		res.DownstreamByRegion = make(map[string][]int64)
		res.UpstreamByRegion = make(map[string][]int64)
	}
	for _, c := range rows {
		switch {
		case c.Pre == id && byNeuropil:
			res.DownstreamByRegion[c.Neuropil] = append(res.DownstreamByRegion[c.Neuropil], c.Post)
		case c.Pre == id:
			res.Downstream = append(res.Downstream, c.Post)
		case byNeuropil:
			res.UpstreamByRegion[c.Neuropil] = append(res.UpstreamByRegion[c.Neuropil], c.Pre)
		default:
			res.Upstream = append(res.Upstream, c.Pre)
		}
	}
	return res, nil
}

// ---- Memoized adjacency ----

type partnerSets struct {
	inputs, outputs graph.NeighborSets
}

type weightedPartners struct {
	inputs, outputs map[int64]map[int64]int
}

type neuropilPartners struct {
	inputs, outputs map[int64]map[string]*core.IDSet
}

func (s *Store) threshold(minSyn int) int {
	if minSyn < 0 {
		return s.opts.MinSynapseCount
	}
	return minSyn
}

func (s *Store) partners(minSyn int) *partnerSets {
	minSyn = s.threshold(minSyn)
	s.memoMu.Lock()
	defer s.memoMu.Unlock()
	if p, ok := s.partnerMemo[minSyn]; ok {
		return p
	}
	p := &partnerSets{inputs: graph.NeighborSets{}, outputs: graph.NeighborSets{}}
	for _, c := range s.connections {
		if minSyn > 0 && c.SynCount < minSyn {
			continue
		}
		addPartner(p.inputs, c.Post, c.Pre)
		addPartner(p.outputs, c.Pre, c.Post)
	}
	s.partnerMemo[minSyn] = p
	return p
}

// InputSets maps each cell to its upstream partners over rows with at
// least minSyn synapses. A negative minSyn uses the store default, zero
// keeps every row. Results are memoized per threshold and must not be
// modified.
func (s *Store) InputSets(minSyn int) graph.NeighborSets {
	return s.partners(minSyn).inputs
}

// OutputSets is InputSets for downstream partners.
func (s *Store) OutputSets(minSyn int) graph.NeighborSets {
	return s.partners(minSyn).outputs
}

// InputOutputPartnersWithSynapseCounts aggregates synapse weight per
// partner over rows passing minSyn, summed across regions.
func (s *Store) InputOutputPartnersWithSynapseCounts(minSyn int) (inputs, outputs map[int64]map[int64]int) {
	minSyn = s.threshold(minSyn)
	s.memoMu.Lock()
	defer s.memoMu.Unlock()
	if w, ok := s.weightedMemo[minSyn]; ok {
		return w.inputs, w.outputs
	}
	w := &weightedPartners{inputs: map[int64]map[int64]int{}, outputs: map[int64]map[int64]int{}}
	for _, c := range s.connections {
		if minSyn > 0 && c.SynCount < minSyn {
			continue
		}
		addWeightedPartner(w.inputs, c.Post, c.Pre, c.SynCount)
		addWeightedPartner(w.outputs, c.Pre, c.Post, c.SynCount)
	}
	s.weightedMemo[minSyn] = w
	return w.inputs, w.outputs
}

func addWeightedPartner(m map[int64]map[int64]int, key, partner int64, w int) {
	inner, ok := m[key]
	if !ok {
		inner = make(map[int64]int)
		m[key] = inner
	}
	inner[partner] += w
}

func (s *Store) neuropilPartners(minSyn int) *neuropilPartners {
	minSyn = s.threshold(minSyn)
	s.memoMu.Lock()
	defer s.memoMu.Unlock()
	if p, ok := s.neuropilMemo[minSyn]; ok {
		return p
	}
	p := &neuropilPartners{
		inputs:  map[int64]map[string]*core.IDSet{},
		outputs: map[int64]map[string]*core.IDSet{},
	}
	add := func(m map[int64]map[string]*core.IDSet, key int64, pil string, partner int64) {
		inner, ok := m[key]
		if !ok {
			inner = make(map[string]*core.IDSet)
			m[key] = inner
		}
		set, ok := inner[pil]
		if !ok {
			set = core.NewIDSet()
			inner[pil] = set
		}
		set.Add(partner)
	}
	for _, c := range s.connections {
		if minSyn > 0 && c.SynCount < minSyn {
			continue
		}
		add(p.inputs, c.Post, c.Neuropil, c.Pre)
		add(p.outputs, c.Pre, c.Neuropil, c.Post)
	}
	s.neuropilMemo[minSyn] = p
	return p
}

// ---- protocol.Collaborators ----

// Partners returns the downstream and upstream partners of a cell at the
// default synapse threshold.
func (s *Store) Partners(rootID int64) (downstream, upstream *core.IDSet) {
	p := s.partners(-1)
	return p.outputs[rootID], p.inputs[rootID]
}

// PartnersByNeuropil is Partners keyed by the region of the synapses.
func (s *Store) PartnersByNeuropil(rootID int64) (downstream, upstream map[string]*core.IDSet) {
	p := s.neuropilPartners(-1)
	return p.outputs[rootID], p.inputs[rootID]
}

// Pathways returns the cells on shortest paths from source to target with
// their distance from source, or nil when there is none.
func (s *Store) Pathways(source, target int64) map[int64]int {
	p := s.partners(-1)
	return graph.Pathways(source, target, p.inputs, p.outputs)
}

// ---- Graph entry points ----

// WeightedEdge is a pathway edge with its summed synapse count.
type WeightedEdge struct {
	From     int64 `json:"from"`
	To       int64 `json:"to"`
	SynCount int   `json:"syn_count"`
}

// PathwayEdges returns the edges between consecutive layers of the
// shortest paths from source to target, with synapse weights. minSyn
// follows InputSets. Nil means no path.
func (s *Store) PathwayEdges(source, target int64, minSyn int) []WeightedEdge {
	p := s.partners(minSyn)
	nodes := graph.Pathways(source, target, p.inputs, p.outputs)
	if nodes == nil {
		return nil
	}
	_, weights := s.InputOutputPartnersWithSynapseCounts(minSyn)
	edges := graph.PathwayEdges(nodes, p.outputs)
	out := make([]WeightedEdge, len(edges))
	for i, e := range edges {
		out[i] = WeightedEdge{From: e.From, To: e.To, SynCount: weights[e.From][e.To]}
	}
	return out
}

// ReachableCounts reports cumulative reach from sources by hop, downstream
// when downstream is true, otherwise upstream.
func (s *Store) ReachableCounts(sources []int64, downstream bool, minSyn int) []graph.HopCount {
	p := s.partners(minSyn)
	nbrs := p.inputs
	if downstream {
		nbrs = p.outputs
	}
	return graph.ReachableNodeCounts(s.known(sources), nbrs, s.NumCells())
}

// DistanceMatrix returns hop distances from every source to every target.
func (s *Store) DistanceMatrix(sources, targets []int64, downstream bool, minSyn int) graph.Matrix {
	p := s.partners(minSyn)
	nbrs := p.inputs
	if downstream {
		nbrs = p.outputs
	}
	return graph.DistanceMatrix(s.known(sources), s.known(targets), nbrs)
}

func (s *Store) known(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if s.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// NeuropilSynapseCounts sums a cell's input and output synapses per region,
// sorted by weight.
func (s *Store) NeuropilSynapseCounts(rootID int64) (inputs, outputs []RegionCount) {
	in, out := map[string]int{}, map[string]int{}
	for _, c := range s.connections {
		if c.Post == rootID {
			in[c.Neuropil] += c.SynCount
		}
		if c.Pre == rootID {
			out[c.Neuropil] += c.SynCount
		}
	}
	return regionCounts(in), regionCounts(out)
}

// RegionCount is a synapse count within one region.
type RegionCount struct {
	Region string `json:"region"`
	Count  int    `json:"count"`
}

func regionCounts(m map[string]int) []RegionCount {
	out := make([]RegionCount, 0, len(m))
	for k, v := range m {
		out = append(out, RegionCount{Region: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Region < out[j].Region
	})
	return out
}
