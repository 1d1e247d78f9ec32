// Package motif matches small directed connectivity patterns of up to three
// named nodes against a dataset.
//
// A query is built incrementally with AddNode and AddEdge, which reject
// malformed motifs immediately, and then run with Search.
package motif

import (
	"sort"
	"strconv"
	"strings"

	"github.com/neurocodex/codexdb/pkg/catalog"
	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/engine"
	"github.com/neurocodex/codexdb/pkg/protocol"
)

const (
	// MaxNodes is the largest motif that can be searched.
	MaxNodes = 3

	// DefaultLimit caps the matches returned when no limit is given.
	DefaultLimit = 1000
)

// Dataset is the part of a loaded store a motif search needs.
type Dataset interface {
	Search(query string, caseSensitive, wordMatch bool) ([]int64, error)
	Connections(f engine.ConnectionFilter) ([]core.Connection, error)
	CompileTerms(chaining protocol.OpCode, terms []protocol.Term, caseSensitive bool) (*protocol.Predicate, error)
	Filter(ids []int64, pred *protocol.Predicate) []int64
	Neuron(rootID int64) *core.Neuron
	Regions() *catalog.Regions
	Options() engine.Options
}

// EdgeConstraints restrict the connection rows that can realize an edge.
// Empty Regions and NTType allow any value.
type EdgeConstraints struct {
	Regions         []string `json:"regions,omitempty"`
	MinSynapseCount int      `json:"min_synapse_count"`
	NTType          string   `json:"nt_type,omitempty"`
}

func (ec *EdgeConstraints) satisfiedBy(c core.Connection) bool {
	if ec.MinSynapseCount > 0 && c.SynCount < ec.MinSynapseCount {
		return false
	}
	if len(ec.Regions) > 0 && !contains(ec.Regions, c.Neuropil) {
		return false
	}
	return ec.NTType == "" || ec.NTType == c.NTType
}

// Node is a named motif position with the query selecting its candidates.
type Node struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

// Edge is a directed, constrained edge between two named nodes.
type Edge struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	Constraints EdgeConstraints `json:"constraints"`
}

type edgeKey struct{ from, to string }

// Query is a motif under construction. It is not safe for concurrent
// modification, but Search may run while nothing else mutates it.
type Query struct {
	ds    Dataset
	nodes []Node
	edges map[edgeKey]*EdgeConstraints
	order []edgeKey
}

// NewQuery starts an empty motif over ds.
func NewQuery(ds Dataset) *Query {
	return &Query{ds: ds, edges: make(map[edgeKey]*EdgeConstraints)}
}

// Nodes returns the nodes in insertion order.
func (q *Query) Nodes() []Node { return append([]Node(nil), q.nodes...) }

// Edges returns the edges in insertion order.
func (q *Query) Edges() []Edge {
	out := make([]Edge, len(q.order))
	for i, k := range q.order {
		out[i] = Edge{From: k.from, To: k.to, Constraints: *q.edges[k]}
	}
	return out
}

func (q *Query) hasNode(name string) bool {
	for _, n := range q.nodes {
		if n.Name == name {
			return true
		}
	}
	return false
}

// AddNode adds a named node whose candidates are the results of query.
func (q *Query) AddNode(name, query string) error {
	if name == "" || q.hasNode(name) {
		return core.NewMotifError("Node name is empty or already exists: %s", name)
	}
	if len(q.nodes) >= MaxNodes {
		return core.NewMotifError("Max nodes limit of %d exceeded", MaxNodes)
	}
	if _, err := protocol.ParseSearchQuery(query); err != nil {
		return core.NewMotifError("Invalid query '%s': %v", query, err)
	}
	q.nodes = append(q.nodes, Node{Name: name, Query: query})
	return nil
}

// AddEdge adds a directed edge between two existing nodes. A zero
// MinSynapseCount takes the dataset default; region and transmitter codes
// are validated and normalized to upper case.
func (q *Query) AddEdge(from, to string, ec EdgeConstraints) error {
	if !q.hasNode(from) || !q.hasNode(to) {
		return core.NewMotifError("Node(s) %s and %s need to be added first", from, to)
	}
	if from == to {
		return core.NewMotifError("Self loops not allowed")
	}
	key := edgeKey{from, to}
	if _, dup := q.edges[key]; dup {
		return core.NewMotifError("Edge (%s, %s) already exists. Parallel edges not allowed.", from, to)
	}

	regions := make([]string, 0, len(ec.Regions))
	for _, r := range ec.Regions {
		code := strings.ToUpper(strings.TrimSpace(r))
		if !q.ds.Regions().Has(code) {
			return core.NewMotifError("Unknown region %s", r)
		}
		if !contains(regions, code) {
			regions = append(regions, code)
		}
	}
	ec.Regions = regions

	if ec.MinSynapseCount == 0 {
		ec.MinSynapseCount = q.ds.Options().MinSynapseCount
	}
	if ec.MinSynapseCount <= 0 {
		return core.NewMotifError("Invalid min_synapse_count %d", ec.MinSynapseCount)
	}

	if ec.NTType != "" {
		code := strings.ToUpper(strings.TrimSpace(ec.NTType))
		if !catalog.IsNTType(code) {
			return core.NewMotifError("Unknown nt_type %s", ec.NTType)
		}
		ec.NTType = code
	}

	q.edges[key] = &ec
	q.order = append(q.order, key)
	return nil
}

func (q *Query) edge(from, to string) *EdgeConstraints {
	return q.edges[edgeKey{from, to}]
}

// ---- Form input ----

var (
	formNodes = []string{"A", "B", "C"}
	formEdges = []string{"AB", "BA", "BC", "CB", "CA", "AC"}
)

// FromForm builds a query from flat form fields: queryA..queryC for nodes
// ("" meaning every cell) and, per enabled edge XY, regionXY,
// minSynapseCountXY and ntTypeXY, where "Any" or "" leaves a constraint
// open. Nodes whose query field is absent are left out.
func FromForm(ds Dataset, form map[string]string) (*Query, error) {
	q := NewQuery(ds)
	for _, name := range formNodes {
		query, ok := form["query"+name]
		if !ok {
			continue
		}
		if strings.TrimSpace(query) == "" {
			query = "*"
		}
		if err := q.AddNode(name, query); err != nil {
			return nil, err
		}
	}
	for _, e := range formEdges {
		if form["enabled"+e] != "on" {
			continue
		}
		var ec EdgeConstraints
		if r := form["region"+e]; r != "" && r != "Any" {
			ec.Regions = []string{r}
		}
		if s := strings.TrimSpace(form["minSynapseCount"+e]); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return nil, core.NewMotifError("Invalid min_synapse_count %s", s)
			}
			if n <= 0 {
				return nil, core.NewMotifError("Invalid min_synapse_count %d", n)
			}
			ec.MinSynapseCount = n
		}
		if nt := form["ntType"+e]; nt != "" && nt != "Any" {
			ec.NTType = nt
		}
		if err := q.AddEdge(e[:1], e[1:], ec); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Sketch is a motif drawn as an indexed node/edge list.
type Sketch struct {
	Nodes []SketchNode `json:"nodes"`
	Edges []SketchEdge `json:"edges"`
}

// SketchNode is a drawn node. An empty search query selects every cell.
type SketchNode struct {
	Index      int    `json:"index"`
	Label      string `json:"label"`
	Properties struct {
		SearchQuery string `json:"search_query"`
	} `json:"properties"`
}

// SketchEdge is a drawn edge between two node indices.
type SketchEdge struct {
	Indices    [2]int `json:"indices"`
	Properties struct {
		Regions []string `json:"regions"`
	} `json:"properties"`
}

// FromSketch builds a query from a sketch. Edges only carry region
// constraints; synapse thresholds take the dataset default.
func FromSketch(ds Dataset, sk Sketch) (*Query, error) {
	q := NewQuery(ds)
	names := make(map[int]string, len(sk.Nodes))
	for _, n := range sk.Nodes {
		query := n.Properties.SearchQuery
		if strings.TrimSpace(query) == "" {
			query = "*"
		}
		if err := q.AddNode(n.Label, query); err != nil {
			return nil, err
		}
		names[n.Index] = n.Label
	}
	for _, e := range sk.Edges {
		from, okF := names[e.Indices[0]]
		to, okT := names[e.Indices[1]]
		if !okF || !okT {
			return nil, core.NewMotifError("Edge %v references an unknown node index", e.Indices)
		}
		if err := q.AddEdge(from, to, EdgeConstraints{Regions: e.Properties.Regions}); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func sortedUnion(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range lists {
		for _, s := range l {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}
