package engine

import (
	"log"
	"math/bits"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/neurocodex/codexdb/pkg/core"
)

var nameTokenBlocklist = []string{
	"ascending", "descending", "unclassified", "clone", "test", "odd",
	"putative", "fbbt_", "eye_", "murthy", "seung",
}

// assignNames gives every neuron a unique name "<base>.<n>". The base is
// the least used of the neuron's usable annotation tokens, or its group
// when none is usable. Bigger neurons claim lower running numbers. A base
// held by exactly one neuron drops the number, whether it came from an
// annotation or from the group. A base taken from annotations and held by
// exactly two neurons on opposite sides gets L/R instead; group bases keep
// their numbers.
func assignNames(neurons map[int64]*core.Neuron, ids []int64) {
	lcGroups := make(map[string]bool, len(neurons))
	for _, n := range neurons {
		lcGroups[strings.ToLower(n.Group)] = true
	}

	// first spelling of a token wins over variants differing only in case
	canonical := make(map[string]string)
	canon := func(t string) string {
		lc := strings.ToLower(t)
		if c, ok := canonical[lc]; ok {
			return c
		}
		canonical[lc] = t
		return t
	}

	tokenCounts := make(map[string]int)
	candidates := make(map[int64][]string, len(neurons))
	annotated := 0
	for _, rid := range ids {
		n := neurons[rid]
		seen := make(map[string]bool)
		var tokens []string
		add := func(t string) {
			t = canon(t)
			if !seen[t] {
				seen[t] = true
				tokens = append(tokens, t)
			}
		}
		for _, t := range n.CellType {
			if validNameToken(t, lcGroups) {
				add(t)
			}
		}
		for _, lbl := range n.Label {
			for _, part := range strings.Split(lbl, ";") {
				if part = strings.TrimSpace(part); validNameToken(part, lcGroups) {
					add(part)
				}
			}
		}
		if len(tokens) > 0 {
			annotated++
		} else {
			add(n.Group)
		}
		for _, t := range tokens {
			tokenCounts[t]++
		}
		candidates[rid] = tokens
	}

	order := append([]int64(nil), ids...)
	sort.SliceStable(order, func(i, j int) bool {
		return biggerThan(neurons[order[i]], neurons[order[j]])
	})

	running := make(map[string]int)
	holders := make(map[string][]*core.Neuron)
	var bases []string
	for _, rid := range order {
		n := neurons[rid]
		base := leastUsed(candidates[rid], tokenCounts)
		running[base]++
		n.Name = base + "." + strconv.Itoa(running[base])
		if _, ok := holders[base]; !ok {
			bases = append(bases, base)
		}
		holders[base] = append(holders[base], n)
	}

	for _, base := range bases {
		list := holders[base]
		switch len(list) {
		case 1:
			list[0].Name = base
		case 2:
			if base == list[0].Group {
				continue
			}
			s0, s1 := list[0].Side, list[1].Side
			if s0 != s1 && isLeftRight(s0) && isLeftRight(s1) {
				list[0].Name = base + "." + sideLetter(s0)
				list[1].Name = base + "." + sideLetter(s1)
			}
		}
	}
	log.Printf("Assigned names to %d cells, %d from annotations, %d distinct base names",
		len(order), annotated, len(bases))
}

// biggerThan compares (input_cells + output_cells) * root_id. The product
// overflows int64 for real root IDs, so it is taken as 128 bits.
func biggerThan(a, b *core.Neuron) bool {
	ahi, alo := bits.Mul64(uint64(a.InputCells+a.OutputCells), uint64(a.RootID))
	bhi, blo := bits.Mul64(uint64(b.InputCells+b.OutputCells), uint64(b.RootID))
	if ahi != bhi {
		return ahi > bhi
	}
	return alo > blo
}

func leastUsed(tokens []string, counts map[string]int) string {
	best := ""
	for _, t := range tokens {
		if best == "" || counts[t] < counts[best] || (counts[t] == counts[best] && t < best) {
			best = t
		}
	}
	return best
}

func validNameToken(t string, lcGroups map[string]bool) bool {
	if t == "" || strings.ContainsAny(t, " .,?") {
		return false
	}
	lc := strings.ToLower(t)
	for _, b := range nameTokenBlocklist {
		if strings.Contains(lc, b) {
			return false
		}
	}
	if isAlpha(t) && (t == lc || t == capitalize(t)) {
		return false
	}
	return !lcGroups[lc]
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func capitalize(s string) string {
	rs := []rune(strings.ToLower(s))
	if len(rs) > 0 {
		rs[0] = unicode.ToUpper(rs[0])
	}
	return string(rs)
}

func isLeftRight(side string) bool {
	return side == "left" || side == "right"
}

func sideLetter(side string) string {
	return strings.ToUpper(side[:1])
}
