// Package protocol implements the search query language: the operator and
// attribute registry, the query-string parser and the predicate compiler
// for structured terms.
package protocol

import (
	"strings"

	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/textutil"
)

// Term is one structured query term. LHS is empty for unary operators.
type Term struct {
	Op  OpCode `json:"op"`
	LHS string `json:"lhs,omitempty"`
	RHS string `json:"rhs"`
}

// ParsedQuery is the result of parsing a raw query string.
type ParsedQuery struct {
	// Chaining is OpAnd, OpOr or empty when the query has a single part.
	Chaining   OpCode   `json:"chaining"`
	FreeForm   []string `json:"free_form"`
	Structured []Term   `json:"terms"`
}

// IsStructured reports whether the query uses any operator syntax.
func (q ParsedQuery) IsStructured() bool {
	return q.Chaining != "" || len(q.Structured) > 0
}

// ParseSearchQuery splits a query into its chaining rule, free-form terms
// and structured terms. A query wrapped in double quotes is one literal
// free-form term.
func ParseSearchQuery(query string) (ParsedQuery, error) {
	chaining, parts, err := parseChained(query)
	if err != nil {
		return ParsedQuery{}, err
	}
	q := ParsedQuery{Chaining: chaining}
	for _, part := range parts {
		ops := extractOperators(part, operators)
		if len(ops) == 0 {
			q.FreeForm = append(q.FreeForm, part)
			continue
		}
		if len(ops) > 1 {
			return ParsedQuery{}, core.NewQueryError(core.MalformedSyntax,
				"Too many search operators in: %s", part)
		}
		t, ok := structuredTerm(part, ops[0])
		if !ok {
			return ParsedQuery{}, core.NewQueryError(core.MalformedSyntax,
				"Malformed %s term: %s", ops[0].Name, part)
		}
		q.Structured = append(q.Structured, t)
	}
	return q, nil
}

func structuredTerm(part string, op Operator) (Term, bool) {
	operands := extractOperands(part, op)
	if len(operands) != 2 {
		return Term{}, false
	}
	switch op.Arity {
	case Binary:
		if operands[0] != "" && operands[1] != "" {
			return Term{Op: op.Name, LHS: operands[0], RHS: operands[1]}, true
		}
	case Unary:
		if operands[0] == "" && operands[1] != "" {
			return Term{Op: op.Name, RHS: operands[1]}, true
		}
	}
	return Term{}, false
}

func parseChained(query string) (OpCode, []string, error) {
	if query == "" || textutil.IsQuoted(query) {
		return "", []string{query}, nil
	}
	ops := extractOperators(query, OperatorsOf(Nary))
	switch {
	case len(ops) == 1:
		parts := extractOperands(query, ops[0])
		if len(parts) < 2 {
			return "", nil, core.NewQueryError(core.MalformedSyntax, "Malformed %s query", ops[0].Name)
		}
		for _, p := range parts {
			if p == "" {
				return "", nil, core.NewQueryError(core.MalformedSyntax, "Malformed %s query", ops[0].Name)
			}
		}
		return ops[0].Name, parts, nil
	case len(ops) > 1:
		names := make([]string, len(ops))
		for i, op := range ops {
			names[i] = string(op.Name)
		}
		return "", nil, core.NewQueryError(core.MalformedSyntax,
			"Mixing operators %s not supported", strings.Join(names, ", "))
	}
	return "", []string{query}, nil
}

// extractOperators lists the operators whose long or short form occurs in term.
func extractOperators(term string, candidates []Operator) []Operator {
	if textutil.IsQuoted(term) {
		return nil
	}
	var out []Operator
	for _, op := range candidates {
		if strings.Contains(term, string(op.Name)) || strings.Contains(term, op.Shorthand) {
			out = append(out, op)
		}
	}
	return out
}

// extractOperands splits on the long form, then on the short form within
// each piece, so the two forms can be mixed in one query.
func extractOperands(text string, op Operator) []string {
	var out []string
	for _, part := range strings.Split(text, string(op.Name)) {
		part = strings.TrimSpace(part)
		if strings.Contains(part, op.Shorthand) {
			for _, p := range strings.Split(part, op.Shorthand) {
				out = append(out, strings.TrimSpace(p))
			}
			continue
		}
		out = append(out, part)
	}
	return out
}

// ApplyChainingRule combines per-term result lists: intersection for
// OpAnd, union for OpOr. Order follows the first list for intersections
// and first appearance for unions.
func ApplyChainingRule(chaining OpCode, results [][]int64) ([]int64, error) {
	if len(results) == 1 {
		return results[0], nil
	}
	switch chaining {
	case OpAnd:
		if len(results) == 0 {
			return []int64{}, nil
		}
		acc := core.IDSetOf(results[0]...)
		for _, r := range results[1:] {
			acc = acc.Intersect(core.IDSetOf(r...))
		}
		return append([]int64{}, acc.IDs()...), nil
	case OpOr:
		acc := core.NewIDSet()
		for _, r := range results {
			acc.AddAll(r)
		}
		return append([]int64{}, acc.IDs()...), nil
	}
	return nil, core.NewQueryError(core.UnknownOperator, "Unsupported chaining rule %s", chaining)
}
