package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/engine"
	"github.com/neurocodex/codexdb/pkg/graph"
	"github.com/neurocodex/codexdb/pkg/motif"
	"github.com/neurocodex/codexdb/pkg/protocol"
	"github.com/neurocodex/codexdb/pkg/registry"
)

// The query layer below is shared by the HTTP handlers and the MCP tools.
// Every operation resolves its dataset version through the pool first.

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 1000
	defaultRowLimit    = 1000
	maxRowLimit        = 20000
	similarCellsShown  = 10
	defaultCategoryTop = 10
)

// CellSummary is the compact cell record used in result lists.
type CellSummary struct {
	RootID     int64  `json:"root_id,string"`
	Name       string `json:"name"`
	Group      string `json:"group"`
	NTType     string `json:"nt_type"`
	SuperClass string `json:"super_class"`
	Side       string `json:"side"`
}

func summarize(ds *engine.Store, ids []int64) []CellSummary {
	out := make([]CellSummary, 0, len(ids))
	for _, id := range ids {
		n := ds.Neuron(id)
		if n == nil {
			continue
		}
		out = append(out, CellSummary{
			RootID:     id,
			Name:       n.Name,
			Group:      n.Group,
			NTType:     n.NTType,
			SuperClass: n.SuperClass,
			Side:       n.Side,
		})
	}
	return out
}

// parseCellID parses a root id given as text.
func parseCellID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", core.ErrInvalidCellID, raw)
	}
	return id, nil
}

// parseCellIDs parses a comma or whitespace separated id list.
func parseCellIDs(raw string) ([]int64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := parseCellID(f)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func page(ids []int64, offset, limit int) []int64 {
	if offset >= len(ids) {
		return []int64{}
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end]
}

// ---- Versions ----

// VersionsResult lists the registered dataset versions.
type VersionsResult struct {
	Default  string            `json:"default"`
	Versions []*registry.Entry `json:"versions"`
	Loaded   []string          `json:"loaded"`
}

func (s *Server) versions() *VersionsResult {
	reg := s.pool.Registry()
	return &VersionsResult{
		Default:  reg.Default(),
		Versions: reg.List(),
		Loaded:   s.pool.Loaded(),
	}
}

// ---- Search ----

// SearchRequest is a free-form or structured cell search.
type SearchRequest struct {
	Version       string `json:"version"`
	Query         string `json:"query"`
	CaseSensitive bool   `json:"case_sensitive"`
	WordMatch     bool   `json:"word_match"`
	Limit         int    `json:"limit"`
	Offset        int    `json:"offset"`
}

// SearchResult is one page of matching cells.
type SearchResult struct {
	Version    string        `json:"version"`
	Query      string        `json:"query"`
	Total      int           `json:"total"`
	Offset     int           `json:"offset"`
	Cells      []CellSummary `json:"cells"`
	DidYouMean string        `json:"did_you_mean,omitempty"`
}

func (s *Server) search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	ds, version, err := s.dataset(ctx, req.Version)
	if err != nil {
		return nil, err
	}
	ids, err := ds.Search(req.Query, req.CaseSensitive, req.WordMatch)
	if err != nil {
		return nil, err
	}
	limit := clampPositive(req.Limit, defaultSearchLimit, maxSearchLimit)
	offset := max(req.Offset, 0)

	res := &SearchResult{
		Version: version,
		Query:   req.Query,
		Total:   len(ids),
		Offset:  offset,
		Cells:   summarize(ds, page(ids, offset, limit)),
	}
	if len(ids) == 0 {
		if tok, _, ok := ds.ClosestToken(req.Query, req.CaseSensitive, nil); ok {
			res.DidYouMean = tok
		}
	}
	return res, nil
}

// ---- Cell detail ----

// CellResult is everything known about one cell.
type CellResult struct {
	Version         string               `json:"version"`
	Cell            *core.Neuron         `json:"cell"`
	Labels          []core.LabelRecord   `json:"labels"`
	SimilarCells    []engine.ScoredCell  `json:"similar_cells"`
	InputNeuropils  []engine.RegionCount `json:"input_synapses_by_region"`
	OutputNeuropils []engine.RegionCount `json:"output_synapses_by_region"`
	Downstream      int                  `json:"downstream_partners"`
	Upstream        int                  `json:"upstream_partners"`
}

func (s *Server) cell(ctx context.Context, version string, id int64) (*CellResult, error) {
	ds, version, err := s.dataset(ctx, version)
	if err != nil {
		return nil, err
	}
	n := ds.GetNeuronData(id)
	if n == nil {
		return nil, fmt.Errorf("%w: %d in version %s", core.ErrUnknownRootID, id, version)
	}
	in, out := ds.NeuropilSynapseCounts(id)
	down, up := ds.Partners(id)
	labels := ds.LabelData(id)
	if labels == nil {
		labels = []core.LabelRecord{}
	}
	return &CellResult{
		Version:         version,
		Cell:            n,
		Labels:          labels,
		SimilarCells:    ds.SimilarCellScores(id, ds.Options().MinSimilarityScore, similarCellsShown),
		InputNeuropils:  in,
		OutputNeuropils: out,
		Downstream:      down.Len(),
		Upstream:        up.Len(),
	}, nil
}

// ---- Connections ----

// ConnectionsRequest selects connection rows around a set of cells, given
// either as ids or as a search query.
type ConnectionsRequest struct {
	Version     string   `json:"version"`
	IDs         []int64  `json:"ids"`
	Query       string   `json:"query"`
	Induced     bool     `json:"induced"`
	MinSynCount int      `json:"min_syn_count"`
	NTTypes     []string `json:"nt_types"`
	Regions     []string `json:"regions"`
	Limit       int      `json:"limit"`
}

// ConnectionsResult holds the matching rows, truncated to the limit.
type ConnectionsResult struct {
	Version     string            `json:"version"`
	Total       int               `json:"total"`
	Truncated   bool              `json:"truncated"`
	Connections []core.Connection `json:"connections"`
}

func (s *Server) connections(ctx context.Context, req ConnectionsRequest) (*ConnectionsResult, error) {
	ds, version, err := s.dataset(ctx, req.Version)
	if err != nil {
		return nil, err
	}
	ids := req.IDs
	if strings.TrimSpace(req.Query) != "" {
		if ids, err = ds.Search(req.Query, false, false); err != nil {
			return nil, err
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: connections need cell ids or a query", core.ErrInvalidQuery)
	}
	rows, err := ds.Connections(engine.ConnectionFilter{
		IDs:         ids,
		Induced:     req.Induced,
		MinSynCount: req.MinSynCount,
		NTTypes:     req.NTTypes,
		Regions:     req.Regions,
	})
	if err != nil {
		return nil, err
	}
	limit := clampPositive(req.Limit, defaultRowLimit, maxRowLimit)
	res := &ConnectionsResult{Version: version, Total: len(rows), Connections: rows}
	if len(rows) > limit {
		res.Connections = rows[:limit]
		res.Truncated = true
	}
	return res, nil
}

// ---- Graph queries ----

// PathwaysResult holds the shortest-path layers between two cells.
type PathwaysResult struct {
	Version string                `json:"version"`
	Source  int64                 `json:"source,string"`
	Target  int64                 `json:"target,string"`
	Found   bool                  `json:"found"`
	Hops    int                   `json:"hops"`
	Cells   []CellSummary         `json:"cells"`
	Edges   []engine.WeightedEdge `json:"edges"`
}

func (s *Server) pathways(ctx context.Context, version string, source, target int64, minSyn int) (*PathwaysResult, error) {
	ds, version, err := s.dataset(ctx, version)
	if err != nil {
		return nil, err
	}
	for _, id := range []int64{source, target} {
		if !ds.Contains(id) {
			return nil, fmt.Errorf("%w: %d in version %s", core.ErrUnknownRootID, id, version)
		}
	}
	res := &PathwaysResult{
		Version: version,
		Source:  source,
		Target:  target,
		Cells:   []CellSummary{},
		Edges:   []engine.WeightedEdge{},
	}
	edges := ds.PathwayEdges(source, target, minSyn)
	if edges == nil {
		return res, nil
	}
	res.Found = true
	res.Edges = edges
	seen := core.NewIDSet()
	seen.Add(source)
	for _, e := range edges {
		seen.Add(e.From)
		seen.Add(e.To)
	}
	seen.Add(target)
	res.Cells = summarize(ds, seen.IDs())
	if source != target {
		res.Hops = hopsOf(edges, source, target)
	}
	return res, nil
}

// hopsOf counts the layers of a pathway edge list.
func hopsOf(edges []engine.WeightedEdge, source, target int64) int {
	depth := map[int64]int{source: 0}
	for changed := true; changed; {
		changed = false
		for _, e := range edges {
			d, ok := depth[e.From]
			if _, seen := depth[e.To]; ok && !seen {
				depth[e.To] = d + 1
				changed = true
			}
		}
	}
	return depth[target]
}

// ReachableRequest asks how far a cell set reaches.
type ReachableRequest struct {
	Version    string  `json:"version"`
	IDs        []int64 `json:"ids"`
	Query      string  `json:"query"`
	Downstream bool    `json:"downstream"`
	MinSyn     int     `json:"min_syn_count"`
}

// ReachableResult is the cumulative reach per hop.
type ReachableResult struct {
	Version string           `json:"version"`
	Sources int              `json:"sources"`
	Counts  []graph.HopCount `json:"counts"`
}

func (s *Server) reachable(ctx context.Context, req ReachableRequest) (*ReachableResult, error) {
	ds, version, err := s.dataset(ctx, req.Version)
	if err != nil {
		return nil, err
	}
	ids, err := resolveCells(ds, req.IDs, req.Query)
	if err != nil {
		return nil, err
	}
	counts := ds.ReachableCounts(ids, req.Downstream, req.MinSyn)
	if counts == nil {
		counts = []graph.HopCount{}
	}
	return &ReachableResult{Version: version, Sources: len(ids), Counts: counts}, nil
}

// DistanceRequest asks for hop distances between two cell sets.
type DistanceRequest struct {
	Version    string  `json:"version"`
	Sources    []int64 `json:"sources"`
	Targets    []int64 `json:"targets"`
	Downstream bool    `json:"downstream"`
	MinSyn     int     `json:"min_syn_count"`
}

// DistanceResult wraps a distance matrix; -1 marks unreachable targets.
type DistanceResult struct {
	Version string       `json:"version"`
	Matrix  graph.Matrix `json:"matrix"`
}

func (s *Server) distanceMatrix(ctx context.Context, req DistanceRequest) (*DistanceResult, error) {
	ds, version, err := s.dataset(ctx, req.Version)
	if err != nil {
		return nil, err
	}
	if len(req.Sources) == 0 || len(req.Targets) == 0 {
		return nil, fmt.Errorf("%w: distance matrix needs sources and targets", core.ErrInvalidQuery)
	}
	return &DistanceResult{
		Version: version,
		Matrix:  ds.DistanceMatrix(req.Sources, req.Targets, req.Downstream, req.MinSyn),
	}, nil
}

func resolveCells(ds *engine.Store, ids []int64, query string) ([]int64, error) {
	if strings.TrimSpace(query) != "" {
		return ds.Search(query, false, false)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: cell ids or a query are required", core.ErrInvalidQuery)
	}
	return ids, nil
}

// ---- Motifs ----

// MotifRequest describes a motif either as form fields (queryA,
// enabledAB, regionAB, ...) or as a drawn sketch.
type MotifRequest struct {
	Version string            `json:"version"`
	Form    map[string]string `json:"form,omitempty"`
	Sketch  *motif.Sketch     `json:"sketch,omitempty"`
	Limit   int               `json:"limit"`
}

// MotifResult lists the motif matches.
type MotifResult struct {
	Version string        `json:"version"`
	Nodes   []motif.Node  `json:"nodes"`
	Edges   []motif.Edge  `json:"edges"`
	Matches []motif.Match `json:"matches"`
	Limit   int           `json:"limit"`
}

func (s *Server) motifs(ctx context.Context, req MotifRequest) (*MotifResult, error) {
	ds, version, err := s.dataset(ctx, req.Version)
	if err != nil {
		return nil, err
	}
	var q *motif.Query
	switch {
	case req.Sketch != nil:
		q, err = motif.FromSketch(ds, *req.Sketch)
	case len(req.Form) > 0:
		q, err = motif.FromForm(ds, req.Form)
	default:
		err = core.NewMotifError("motif needs form fields or a sketch")
	}
	if err != nil {
		return nil, err
	}
	limit := clampPositive(req.Limit, s.config.Motif.DefaultLimit, s.config.Motif.MaxLimit)
	matches, err := q.Search(limit)
	if err != nil {
		return nil, err
	}
	return &MotifResult{
		Version: version,
		Nodes:   q.Nodes(),
		Edges:   q.Edges(),
		Matches: matches,
		Limit:   limit,
	}, nil
}

// ---- Dataset statistics ----

// StatsResult summarizes one dataset version.
type StatsResult struct {
	Version         string               `json:"version"`
	Cells           int                  `json:"cells"`
	Connections     int                  `json:"connections"`
	Synapses        int                  `json:"synapses"`
	Labels          int                  `json:"labels"`
	LabelsTimestamp string               `json:"labels_timestamp"`
	Categories      []engine.Category    `json:"categories"`
	TopLabelers     []engine.Contributor `json:"top_labelers"`
	Pool            map[string]any       `json:"pool"`
	Lifecycle       map[string]any       `json:"lifecycle,omitempty"`
}

func (s *Server) stats(ctx context.Context, version string) (*StatsResult, error) {
	ds, version, err := s.dataset(ctx, version)
	if err != nil {
		return nil, err
	}
	return &StatsResult{
		Version:         version,
		Cells:           ds.NumCells(),
		Connections:     ds.NumConnections(),
		Synapses:        ds.NumSynapses(),
		Labels:          ds.NumLabels(),
		LabelsTimestamp: ds.LabelsTimestamp(),
		Categories:      ds.Categories(defaultCategoryTop),
		TopLabelers:     ds.LabelLeaderboard(defaultCategoryTop),
		Pool:            s.pool.Stats(),
		Lifecycle:       s.lifecycleStats(),
	}, nil
}

func (s *Server) advancedSearch(ctx context.Context, version, current string) (*protocol.AdvancedSearchData, error) {
	ds, _, err := s.dataset(ctx, version)
	if err != nil {
		return nil, err
	}
	return ds.AdvancedSearchData(current)
}
