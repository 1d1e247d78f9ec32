package protocol

import (
	"github.com/neurocodex/codexdb/pkg/catalog"
)

// OperatorInfo is an operator with its value ranges resolved for a dataset.
type OperatorInfo struct {
	Operator
	LHSValues []string `json:"lhs_values,omitempty"`
	RHSValues []string `json:"rhs_values,omitempty"`
}

// AttributeInfo is an attribute with its value range resolved for a dataset.
type AttributeInfo struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	AlternativeNames []string `json:"alternative_names,omitempty"`
	ValueRange       []string `json:"value_range,omitempty"`
}

// CurrentQuery echoes the structured part of the query being edited.
type CurrentQuery struct {
	Chaining OpCode `json:"chaining"`
	Terms    []Term `json:"terms"`
}

// AdvancedSearchData feeds the query builder UI: the binary and unary
// operators, the attributes, and the parsed form of the current query.
type AdvancedSearchData struct {
	Operators    map[OpCode]OperatorInfo  `json:"operators"`
	Attributes   map[string]AttributeInfo `json:"attributes"`
	CurrentQuery CurrentQuery             `json:"current_query"`
}

// BuildAdvancedSearchData parses current and describes the grammar for
// the given region table.
func BuildAdvancedSearchData(current string, regions *catalog.Regions) (*AdvancedSearchData, error) {
	if regions == nil {
		regions = catalog.DefaultRegions()
	}
	parsed, err := ParseSearchQuery(current)
	if err != nil {
		return nil, err
	}
	out := &AdvancedSearchData{
		Operators:    make(map[OpCode]OperatorInfo),
		Attributes:   make(map[string]AttributeInfo, len(attributes)),
		CurrentQuery: CurrentQuery{Chaining: parsed.Chaining, Terms: parsed.Structured},
	}
	for _, op := range operators {
		if op.Arity == Nary {
			continue
		}
		out.Operators[op.Name] = OperatorInfo{
			Operator:  op,
			LHSValues: resolveRange(op.LHSRange, regions),
			RHSValues: resolveRange(op.RHSRange, regions),
		}
	}
	for _, a := range attributes {
		out.Attributes[a.Name] = AttributeInfo{
			Name:             a.Name,
			Description:      a.Description,
			AlternativeNames: a.AlternativeNames,
			ValueRange:       a.Range(regions),
		}
	}
	return out, nil
}

func resolveRange(kind string, regions *catalog.Regions) []string {
	switch kind {
	case rangeAttributes:
		return AttributeNames()
	case rangeRegions:
		return append(append([]string(nil), catalog.Hemispheres...), regions.Codes()...)
	}
	return nil
}
