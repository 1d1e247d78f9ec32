package protocol

import "github.com/neurocodex/codexdb/pkg/core"

// OpCode is the long bracketed form of a search operator, e.g. "{equal}".
type OpCode string

// Operator long forms.
const (
	OpEqual                       OpCode = "{equal}"
	OpNotEqual                    OpCode = "{not_equal}"
	OpStartsWith                  OpCode = "{starts_with}"
	OpContains                    OpCode = "{contains}"
	OpNotContains                 OpCode = "{not_contains}"
	OpIn                          OpCode = "{in}"
	OpNotIn                       OpCode = "{not_in}"
	OpHas                         OpCode = "{has}"
	OpNot                         OpCode = "{not}"
	OpUpstream                    OpCode = "{upstream}"
	OpDownstream                  OpCode = "{downstream}"
	OpUpstreamRegion              OpCode = "{upstream_region}"
	OpDownstreamRegion            OpCode = "{downstream_region}"
	OpReciprocal                  OpCode = "{reciprocal}"
	OpSimilarShape                OpCode = "{similar_shape}"
	OpSimilarUpstream             OpCode = "{similar_upstream}"
	OpSimilarDownstream           OpCode = "{similar_downstream}"
	OpSimilarConnectivity         OpCode = "{similar_connectivity}"
	OpSimilarUpstreamWeighted     OpCode = "{similar_upstream_weighted}"
	OpSimilarDownstreamWeighted   OpCode = "{similar_downstream_weighted}"
	OpSimilarConnectivityWeighted OpCode = "{similar_connectivity_weighted}"
	OpPathways                    OpCode = "{pathways}"
	OpAnd                         OpCode = "{and}"
	OpOr                          OpCode = "{or}"
)

// Arity partitions operators by how they take operands.
type Arity string

const (
	Binary Arity = "binary_operator"
	Unary  Arity = "unary_operator"
	Nary   Arity = "nary_operator"
)

// Operator describes one operator of the query language. Range fields
// naming "attributes" or "regions" are resolved by AdvancedSearchData.
type Operator struct {
	Name           OpCode `json:"name"`
	Shorthand      string `json:"shorthand"`
	Arity          Arity  `json:"op_type"`
	Description    string `json:"description"`
	LHSDescription string `json:"lhs_description,omitempty"`
	RHSDescription string `json:"rhs_description,omitempty"`
	LHSRange       string `json:"lhs_range,omitempty"`
	RHSRange       string `json:"rhs_range,omitempty"`
	RHSForceText   bool   `json:"rhs_force_text,omitempty"`
	RHSMultiple    bool   `json:"rhs_multiple,omitempty"`
}

const (
	rangeAttributes = "attributes"
	rangeRegions    = "regions"
)

func binaryAttrOp(name OpCode, short, desc, rhsDesc string) Operator {
	return Operator{
		Name: name, Shorthand: short, Arity: Binary, Description: desc,
		LHSDescription: "Attribute", LHSRange: rangeAttributes, RHSDescription: rhsDesc,
	}
}

func unaryAttrOp(name OpCode, short, desc string) Operator {
	return Operator{
		Name: name, Shorthand: short, Arity: Unary, Description: desc,
		RHSDescription: "Attribute", RHSRange: rangeAttributes,
	}
}

func regionOp(name OpCode, short, desc string) Operator {
	return Operator{
		Name: name, Shorthand: short, Arity: Binary, Description: desc,
		LHSDescription: "Region or Side", LHSRange: rangeRegions, RHSDescription: "Cell ID",
	}
}

func unaryCellOp(name OpCode, short, desc string) Operator {
	return Operator{Name: name, Shorthand: short, Arity: Unary, Description: desc, RHSDescription: "Cell ID"}
}

var operators = func() []Operator {
	startsWith := binaryAttrOp(OpStartsWith, "^*", "Binary, LHS attribute of the cell starts with RHS value (e.g., label {starts_with} LC)", "Prefix")
	startsWith.RHSForceText = true
	contains := binaryAttrOp(OpContains, ">>", "Binary, LHS attribute of the cell contains RHS value (e.g., label {contains} dsx)", "Substring")
	contains.RHSForceText = true
	notContains := binaryAttrOp(OpNotContains, "!>", "Binary, LHS attribute of the cell does not contain RHS value (e.g., label {not_contains} dsx)", "Substring")
	notContains.RHSForceText = true
	in := binaryAttrOp(OpIn, "<<", "Binary, LHS attribute of the cell equals one of the comma-separated values on RHS", "Values")
	in.RHSMultiple = true
	notIn := binaryAttrOp(OpNotIn, "!<", "Binary, LHS attribute of the cell is not equal to any of the comma-separated values on RHS", "Values")
	notIn.RHSMultiple = true

	return []Operator{
		binaryAttrOp(OpEqual, "==", "Binary, LHS attribute of the cell and RHS value are equal", "Value"),
		binaryAttrOp(OpNotEqual, "!=", "Binary, LHS attribute of the cell and RHS value are not equal", "Value"),
		startsWith,
		contains,
		notContains,
		in,
		notIn,
		unaryAttrOp(OpHas, "$$", "Unary, attribute of the cell has value (not empty)"),
		unaryAttrOp(OpNot, "!$", "Unary, attribute of the cell has no value (empty)"),
		unaryCellOp(OpUpstream, "^^", "Unary, matches cells upstream of specified Cell ID"),
		unaryCellOp(OpDownstream, "!^", "Unary, matches cells downstream of specified Cell ID"),
		regionOp(OpUpstreamRegion, "^R", "Binary, matches cells upstream of RHS, with synapses in LHS region, where region is either hemisphere (left/right/center) or neuropil (e.g. GNG)"),
		regionOp(OpDownstreamRegion, "!R", "Binary, matches cells downstream of RHS, with synapses in LHS region, where region is either hemisphere (left/right/center) or neuropil (e.g. GNG)"),
		unaryCellOp(OpReciprocal, "^v", "Unary, matches reciprocal-feedback cells that are both downstream and upstream of specified Cell ID"),
		unaryCellOp(OpSimilarShape, "~~", "Unary, matches cells that are similar in shape to specified Cell ID"),
		unaryCellOp(OpSimilarUpstream, "~u", "Unary, matches cells that have similar upstream connectivity to specified Cell ID"),
		unaryCellOp(OpSimilarDownstream, "~d", "Unary, matches cells that have similar downstream connectivity to specified Cell ID"),
		unaryCellOp(OpSimilarConnectivity, "~c", "Unary, matches cells that have similar connectivity (both up and downstream) to specified Cell ID"),
		unaryCellOp(OpSimilarUpstreamWeighted, "~wu", "Unary, matches cells that have similar upstream connectivity to specified Cell ID, weighted by synapse counts"),
		unaryCellOp(OpSimilarDownstreamWeighted, "~wd", "Unary, matches cells that have similar downstream connectivity to specified Cell ID, weighted by synapse counts"),
		unaryCellOp(OpSimilarConnectivityWeighted, "~wc", "Unary, matches cells that have similar connectivity (both up and downstream) to specified Cell ID, weighted by synapse counts"),
		{
			Name:           OpPathways,
			Shorthand:      "->",
			Arity:          Binary,
			Description:    "Binary, match all cells along shortest-path pathways from LHS to RHS",
			LHSDescription: "Source Cell ID",
			RHSDescription: "Target Cell ID",
		},
		{Name: OpAnd, Shorthand: "&&", Arity: Nary, Description: "N-ary, all terms are true"},
		{Name: OpOr, Shorthand: "||", Arity: Nary, Description: "N-ary, at least one of the terms is true"},
	}
}()

var operatorsByName = func() map[OpCode]Operator {
	m := make(map[OpCode]Operator, len(operators))
	for _, op := range operators {
		m[op.Name] = op
	}
	return m
}()

// Operators returns every operator in declaration order.
func Operators() []Operator {
	return append([]Operator(nil), operators...)
}

// OperatorsOf returns the operators of one arity in declaration order.
func OperatorsOf(a Arity) []Operator {
	var out []Operator
	for _, op := range operators {
		if op.Arity == a {
			out = append(out, op)
		}
	}
	return out
}

// LookupOperator resolves an operator by its long form.
func LookupOperator(name OpCode) (Operator, error) {
	op, ok := operatorsByName[name]
	if !ok {
		return Operator{}, core.NewQueryError(core.UnknownOperator, "Operator '%s' is not recognized", name)
	}
	return op, nil
}

// similarity flags derived from the operator name
func similarityFlags(op OpCode) (upstream, downstream, weighted bool) {
	switch op {
	case OpSimilarUpstream:
		return true, false, false
	case OpSimilarDownstream:
		return false, true, false
	case OpSimilarConnectivity:
		return true, true, false
	case OpSimilarUpstreamWeighted:
		return true, false, true
	case OpSimilarDownstreamWeighted:
		return false, true, true
	case OpSimilarConnectivityWeighted:
		return true, true, true
	}
	return false, false, false
}

func isSimilarity(op OpCode) bool {
	u, d, _ := similarityFlags(op)
	return u || d
}
