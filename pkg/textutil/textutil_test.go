package textutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"LC10", []string{"LC10"}},
		{"Mi1; medulla intrinsic", []string{"Mi1", "medulla", "intrinsic"}},
		{"DNa02 (descending)", []string{"DNa02", "descending"}},
		{"a//b/c", []string{"a", "b", "c"}},
		{"'quoted' end.", []string{"quoted", "end"}},
		{"T4a. and T5b", []string{"T4a", "and", "T5b"}},
		{"x=y&z", []string{"x", "y", "z"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestTokenizeForHighlightOffsets(t *testing.T) {
	text := "Kenyon Cell//KC-ab.main"
	toks := TokenizeForHighlight(text)
	require.Len(t, toks, 5)
	want := []string{"kenyon", "cell", "kc", "ab", "main"}
	for i, tk := range toks {
		assert.Equal(t, want[i], tk.Token)
		assert.Equal(t, want[i], strings.ToLower(text[tk.Start:tk.End]))
	}
}

func TestEditDistance(t *testing.T) {
	assert.Equal(t, 0, EditDistance("side", "side"))
	assert.Equal(t, 3, EditDistance("kitten", "sitting"))
	assert.Equal(t, 4, EditDistance("", "flow"))
	assert.Equal(t, EditDistance("class", "clas"), EditDistance("clas", "class"))
}

func TestClosestBreaksTiesLexicographically(t *testing.T) {
	best, dist, ok := Closest("cat", []string{"cut", "bat", "cart"})
	require.True(t, ok)
	assert.Equal(t, 1, dist)
	assert.Equal(t, "bat", best)

	_, _, ok = Closest("cat", nil)
	assert.False(t, ok)
}

func TestMakeWebSafe(t *testing.T) {
	assert.Equal(t, "plain label", MakeWebSafe("plain label"))
	assert.Equal(t, "bold label", MakeWebSafe("<b>bold</b> label"))
	assert.Equal(t, "A & B", MakeWebSafe("A &amp; B"))
	assert.NotContains(t, MakeWebSafe("x <script>alert(1)</script> y"), "<")
	assert.Equal(t, "tab separated", MakeWebSafe("tab\x00separated"))
}

func TestCanBeRootID(t *testing.T) {
	assert.True(t, CanBeRootID("720575940621039145"))
	assert.False(t, CanBeRootID("720575940621039"))
	assert.False(t, CanBeRootID("72057594062103914x"))
	assert.False(t, CanBeRootID("LC10"))
}

func TestCleanAndReduceLabels(t *testing.T) {
	tests := []struct {
		name      string
		labels    []string
		redundant []string
		want      []string
	}{
		{"exact duplicates", []string{"Mi1", "Mi1"}, nil, []string{"Mi1"}},
		{"blacklist and root ids", []string{"not a neuron", "720575940621039145", "Tm1"}, nil, []string{"Tm1"}},
		{"correction suffix drops older labels", []string{"Tm5c (corrected)", "Tm5b"}, nil, []string{"Tm5c"}},
		{"correction prefix", []string{"DNa01", "Correction: DNa02", "DNa03"}, nil, []string{"DNa01", "DNa02"}},
		{"redundant with classification", []string{"left; DNa02", "descending"}, []string{"left", "descending"}, []string{"DNa02"}},
		{"putative prefix", []string{"putative DNp01"}, nil, []string{"DNp01"}},
		{"insignificant punctuation", []string{"DNa02", "DNa02."}, nil, []string{"DNa02"}},
		{"separator prefix", []string{"ER4d", "ER4d, ring neuron"}, nil, []string{"ER4d, ring neuron"}},
		{"word prefix kept", []string{"ER4", "ER4d"}, nil, []string{"ER4", "ER4d"}},
		{"subsumed token", []string{"LC10; visual LC10"}, nil, []string{"visual LC10"}},
		{"boilerplate", []string{"KC; https://doi.org/10.1101/2021.12.20.473513"}, nil, []string{"KC"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanAndReduceLabels(tt.labels, tt.redundant))
		})
	}
}

func TestCleanAndReduceLabelsInvariants(t *testing.T) {
	in := []string{
		"AVLP_pr01; putative AVLP_pr01", "AVLP_pr01", "avlp pr01 - neuron", "AVLP_pr01 neuron",
		"Lamina monopolar 1", "Lamina monopolar 1.", "L1 label is wrongL1", "glia?", "x",
	}
	out := CleanAndReduceLabels(in, []string{"central"})
	seen := map[string]bool{}
	for i, a := range out {
		require.NotEmpty(t, a)
		require.False(t, seen[a], "duplicate %q", a)
		seen[a] = true
		for j, b := range out {
			if i == j {
				continue
			}
			assert.True(t, significantDiff(a, b), "%q and %q differ only in punctuation", a, b)
			if len(a) > len(b) && strings.HasPrefix(a, b) {
				assert.True(t, isWordChar(a[len(b)]), "%q is a separator prefix of %q", b, a)
			}
		}
	}
	assert.Equal(t, out, CleanAndReduceLabels(out, []string{"central"}))
}

func TestIsQuoted(t *testing.T) {
	assert.True(t, IsQuoted(`"a"`))
	assert.True(t, IsQuoted(`""`))
	assert.False(t, IsQuoted(`"`))
	assert.False(t, IsQuoted(`"a`))
	assert.False(t, IsQuoted("a"))
}
