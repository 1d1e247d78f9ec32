package protocol

import (
	"strconv"
	"strings"

	"github.com/neurocodex/codexdb/pkg/catalog"
	"github.com/neurocodex/codexdb/pkg/core"
)

// Collaborators supply the graph lookups that relationship operators need.
// The store implements it; tests use small fakes.
type Collaborators interface {
	// Partners returns the downstream and upstream partners of a cell.
	Partners(rootID int64) (downstream, upstream *core.IDSet)
	// PartnersByNeuropil is Partners split by the region of the synapses.
	PartnersByNeuropil(rootID int64) (downstream, upstream map[string]*core.IDSet)
	SimilarCells(rootID int64, includeSelf bool) *core.IDSet
	SimilarConnectivity(rootID int64, upstream, downstream, weighted bool) map[int64]float64
	// Pathways returns the cells on shortest paths with their distance from
	// source, or nil when there is no path.
	Pathways(source, target int64) map[int64]int
}

// PredicateKind tags the variant held by a Predicate.
type PredicateKind int

const (
	// PredCompare matches an attribute against a value with Compare.
	PredCompare PredicateKind = iota
	// PredHas matches when the attribute is non-empty.
	PredHas
	// PredMember matches when the root ID is in IDs.
	PredMember
	PredNot
	PredAny
	PredAll
)

func (k PredicateKind) String() string {
	switch k {
	case PredCompare:
		return "compare"
	case PredHas:
		return "has"
	case PredMember:
		return "member"
	case PredNot:
		return "not"
	case PredAny:
		return "any"
	case PredAll:
		return "all"
	}
	return "unknown"
}

// Predicate is a compiled query term. Graph lookups are resolved at compile
// time, so evaluation only reads the neuron.
type Predicate struct {
	Kind PredicateKind
	// Source is the operator the predicate was compiled from.
	Source OpCode

	Attribute     *Attribute
	Compare       OpCode
	Value         string
	CaseSensitive bool

	IDs      *core.IDSet
	Children []*Predicate
}

// Evaluate applies the predicate to one neuron.
func (p *Predicate) Evaluate(n *core.Neuron) bool {
	switch p.Kind {
	case PredCompare:
		for _, v := range core.Strings(p.Attribute.Value(n)) {
			if p.compare(v) {
				return true
			}
		}
		return false
	case PredHas:
		return core.Truthy(p.Attribute.Value(n))
	case PredMember:
		return p.IDs.Has(n.RootID)
	case PredNot:
		return !p.Children[0].Evaluate(n)
	case PredAny:
		for _, c := range p.Children {
			if c.Evaluate(n) {
				return true
			}
		}
		return false
	case PredAll:
		for _, c := range p.Children {
			if !c.Evaluate(n) {
				return false
			}
		}
		return true
	}
	return false
}

func (p *Predicate) compare(v string) bool {
	if !p.CaseSensitive {
		v = strings.ToLower(v)
	}
	switch p.Compare {
	case OpEqual:
		return v == p.Value
	case OpStartsWith:
		return strings.HasPrefix(v, p.Value)
	case OpContains:
		return strings.Contains(v, p.Value)
	}
	return false
}

func negate(src OpCode, p *Predicate) *Predicate {
	return &Predicate{Kind: PredNot, Source: src, Children: []*Predicate{p}}
}

// Compiler turns structured terms into predicates for one dataset.
type Compiler struct {
	regions       *catalog.Regions
	collab        Collaborators
	caseSensitive bool
}

// NewCompiler creates a compiler. collab may be nil when no relationship
// operators are used.
func NewCompiler(regions *catalog.Regions, collab Collaborators, caseSensitive bool) *Compiler {
	if regions == nil {
		regions = catalog.DefaultRegions()
	}
	return &Compiler{regions: regions, collab: collab, caseSensitive: caseSensitive}
}

// CompileAll compiles every term and joins them with the chaining rule.
func (c *Compiler) CompileAll(chaining OpCode, terms []Term) (*Predicate, error) {
	preds := make([]*Predicate, 0, len(terms))
	for _, t := range terms {
		p, err := c.Compile(t)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	switch chaining {
	case OpAnd:
		return &Predicate{Kind: PredAll, Source: OpAnd, Children: preds}, nil
	case OpOr:
		return &Predicate{Kind: PredAny, Source: OpOr, Children: preds}, nil
	}
	return nil, core.NewQueryError(core.UnknownOperator, "Unsupported chaining rule %s", chaining)
}

// Compile builds the predicate for a single term.
func (c *Compiler) Compile(t Term) (*Predicate, error) {
	switch t.Op {
	case OpEqual, OpStartsWith, OpContains:
		return c.comparison(t.Op, t.LHS, t.RHS, t.Op)
	case OpNotEqual:
		p, err := c.comparison(t.Op, t.LHS, t.RHS, OpEqual)
		if err != nil {
			return nil, err
		}
		return negate(t.Op, p), nil
	case OpNotContains:
		p, err := c.comparison(t.Op, t.LHS, t.RHS, OpContains)
		if err != nil {
			return nil, err
		}
		return negate(t.Op, p), nil
	case OpHas, OpNot:
		attr, err := LookupAttribute(t.RHS)
		if err != nil {
			return nil, err
		}
		p := &Predicate{Kind: PredHas, Source: t.Op, Attribute: attr}
		if t.Op == OpNot {
			return negate(t.Op, p), nil
		}
		return p, nil
	case OpIn, OpNotIn:
		return c.inList(t)
	case OpUpstream, OpDownstream, OpReciprocal:
		id, err := parseCellID(t.RHS)
		if err != nil {
			return nil, err
		}
		down, up := c.collaborators().Partners(id)
		var ids *core.IDSet
		switch t.Op {
		case OpDownstream:
			ids = down
		case OpUpstream:
			ids = up
		default:
			ids = up.Intersect(down)
		}
		return &Predicate{Kind: PredMember, Source: t.Op, IDs: orEmpty(ids)}, nil
	case OpUpstreamRegion, OpDownstreamRegion:
		id, err := parseCellID(t.RHS)
		if err != nil {
			return nil, err
		}
		down, up := c.collaborators().PartnersByNeuropil(id)
		byRegion := up
		if t.Op == OpDownstreamRegion {
			byRegion = down
		}
		ids := core.NewIDSet()
		for _, code := range c.regions.LookupNeuropilSet(t.LHS) {
			ids.AddAll(byRegion[code].IDs())
		}
		return &Predicate{Kind: PredMember, Source: t.Op, IDs: ids}, nil
	case OpSimilarShape:
		id, err := strconv.ParseInt(strings.TrimSpace(t.RHS), 10, 64)
		if err != nil {
			return nil, core.NewQueryError(core.MalformedSyntax,
				"Invalid cell id '%s' in operator '%s'", t.RHS, t.Op)
		}
		return &Predicate{Kind: PredMember, Source: t.Op, IDs: orEmpty(c.collaborators().SimilarCells(id, true))}, nil
	case OpPathways:
		ids := core.NewIDSet()
		src, errS := strconv.ParseInt(strings.TrimSpace(t.LHS), 10, 64)
		dst, errT := strconv.ParseInt(strings.TrimSpace(t.RHS), 10, 64)
		if errS == nil && errT == nil {
			for id := range c.collaborators().Pathways(src, dst) {
				ids.Add(id)
			}
		}
		return &Predicate{Kind: PredMember, Source: t.Op, IDs: ids}, nil
	}
	if isSimilarity(t.Op) {
		id, err := strconv.ParseInt(strings.TrimSpace(t.RHS), 10, 64)
		if err != nil {
			return nil, core.NewQueryError(core.MalformedSyntax,
				"Invalid cell id '%s' in operator '%s'", t.RHS, t.Op)
		}
		up, down, weighted := similarityFlags(t.Op)
		ids := core.NewIDSet()
		for rid := range c.collaborators().SimilarConnectivity(id, up, down, weighted) {
			ids.Add(rid)
		}
		return &Predicate{Kind: PredMember, Source: t.Op, IDs: ids}, nil
	}
	return nil, core.NewQueryError(core.UnknownOperator, "Unsupported query operator %s", t.Op)
}

func (c *Compiler) comparison(src OpCode, lhs, rhs string, cmp OpCode) (*Predicate, error) {
	attr, err := LookupAttribute(lhs)
	if err != nil {
		return nil, err
	}
	v, err := attr.Convert(c.regions, rhs)
	if err != nil {
		return nil, invalidValue(attr, c.regions, rhs)
	}
	if !c.caseSensitive {
		v = strings.ToLower(v)
	}
	return &Predicate{
		Kind:          PredCompare,
		Source:        src,
		Attribute:     attr,
		Compare:       cmp,
		Value:         v,
		CaseSensitive: c.caseSensitive,
	}, nil
}

func (c *Compiler) inList(t Term) (*Predicate, error) {
	attr, err := LookupAttribute(t.LHS)
	if err != nil {
		return nil, err
	}
	items := attr.Split(c.regions, t.RHS)

	var p *Predicate
	if attr.Name == "root_id" {
		ids := core.NewIDSet()
		for _, it := range items {
			if id, err := strconv.ParseInt(it, 10, 64); err == nil {
				ids.Add(id)
			}
		}
		p = &Predicate{Kind: PredMember, Source: t.Op, IDs: ids}
	} else {
		p = &Predicate{Kind: PredAny, Source: t.Op}
		for _, it := range items {
			eq, err := c.comparison(t.Op, t.LHS, it, OpEqual)
			if err != nil {
				return nil, err
			}
			p.Children = append(p.Children, eq)
		}
	}
	if t.Op == OpNotIn {
		return negate(t.Op, p), nil
	}
	return p, nil
}

// collaborators returns a no-op implementation when none is attached.
func (c *Compiler) collaborators() Collaborators {
	if c.collab == nil {
		return noCollaborators{}
	}
	return c.collab
}

func parseCellID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, core.NewQueryError(core.InvalidValue, "'%s' is not a valid cell ID", s)
	}
	return id, nil
}

func orEmpty(s *core.IDSet) *core.IDSet {
	if s == nil {
		return core.NewIDSet()
	}
	return s
}

type noCollaborators struct{}

func (noCollaborators) Partners(int64) (*core.IDSet, *core.IDSet) { return nil, nil }

func (noCollaborators) PartnersByNeuropil(int64) (map[string]*core.IDSet, map[string]*core.IDSet) {
	return nil, nil
}

func (noCollaborators) SimilarCells(int64, bool) *core.IDSet { return nil }

func (noCollaborators) SimilarConnectivity(int64, bool, bool, bool) map[int64]float64 { return nil }

func (noCollaborators) Pathways(int64, int64) map[int64]int { return nil }
