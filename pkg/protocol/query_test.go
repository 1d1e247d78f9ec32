package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorFormsAreNotSubstrings(t *testing.T) {
	var forms []string
	for _, op := range Operators() {
		forms = append(forms, string(op.Name), op.Shorthand)
	}
	for i, a := range forms {
		for j, b := range forms {
			if i != j && strings.Contains(b, a) {
				t.Errorf("operator form %q is a substring of %q", a, b)
			}
		}
	}
}

func TestOperatorArities(t *testing.T) {
	assert.Len(t, OperatorsOf(Nary), 2)
	assert.Len(t, OperatorsOf(Binary), 10)
	assert.Len(t, OperatorsOf(Unary), 12)

	op, err := LookupOperator(OpPathways)
	require.NoError(t, err)
	assert.Equal(t, "->", op.Shorthand)

	_, err = LookupOperator("{bogus}")
	var qe *core.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, core.UnknownOperator, qe.Kind)
}

func TestParseSearchQuery(t *testing.T) {
	tests := []struct {
		query string
		want  ParsedQuery
	}{
		{
			query: "foo != bar && other",
			want: ParsedQuery{
				Chaining:   OpAnd,
				FreeForm:   []string{"other"},
				Structured: []Term{{Op: OpNotEqual, LHS: "foo", RHS: "bar"}},
			},
		},
		{
			query: "LC10",
			want:  ParsedQuery{FreeForm: []string{"LC10"}},
		},
		{
			query: `"a == b"`,
			want:  ParsedQuery{FreeForm: []string{`"a == b"`}},
		},
		{
			query: "{has} label",
			want:  ParsedQuery{Structured: []Term{{Op: OpHas, RHS: "label"}}},
		},
		{
			query: "nt == GABA {or} side {equal} left || dsx",
			want: ParsedQuery{
				Chaining: OpOr,
				FreeForm: []string{"dsx"},
				Structured: []Term{
					{Op: OpEqual, LHS: "nt", RHS: "GABA"},
					{Op: OpEqual, LHS: "side", RHS: "left"},
				},
			},
		},
		{
			query: "720575940 -> 720575941",
			want:  ParsedQuery{Structured: []Term{{Op: OpPathways, LHS: "720575940", RHS: "720575941"}}},
		},
		{
			query: `"a && b`,
			want:  ParsedQuery{Chaining: OpAnd, FreeForm: []string{`"a`, "b"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := ParseSearchQuery(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSearchQueryMalformed(t *testing.T) {
	for _, q := range []string{
		"== foo == bar",
		"foo == !=",
		"a && b || c",
		"a && ",
		"label ==",
		"x {has} label",
		"== value",
	} {
		t.Run(q, func(t *testing.T) {
			_, err := ParseSearchQuery(q)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrInvalidQuery))
			var qe *core.QueryError
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, core.MalformedSyntax, qe.Kind)
			assert.Contains(t, err.Error(), "wrap your query in double quotes")
		})
	}
}

func TestParsedQueryIsStructured(t *testing.T) {
	q, err := ParseSearchQuery("kenyon cell")
	require.NoError(t, err)
	assert.False(t, q.IsStructured())

	q, err = ParseSearchQuery("kenyon || cell")
	require.NoError(t, err)
	assert.True(t, q.IsStructured())
}

func TestApplyChainingRule(t *testing.T) {
	got, err := ApplyChainingRule(OpAnd, [][]int64{{3, 1, 2}, {2, 3}})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, got)

	got, err = ApplyChainingRule(OpOr, [][]int64{{3, 1}, {2, 3}})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, got)

	got, err = ApplyChainingRule("", [][]int64{{5}})
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, got)

	_, err = ApplyChainingRule("", [][]int64{{1}, {2}})
	assert.Error(t, err)
}
