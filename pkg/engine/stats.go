package engine

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/neurocodex/codexdb/pkg/catalog"
	"github.com/neurocodex/codexdb/pkg/core"
)

// ---- Grouped heatmap counts ----

// GroupedCounts holds, per grouping attribute, synapse totals, distinct
// connected pairs and reciprocal pairs keyed by (from value, to value).
type GroupedCounts struct {
	Synapses    map[string]map[core.GroupKey]int
	Connections map[string]map[core.GroupKey]int

	// Reciprocal counts unordered reciprocal cell pairs, already final.
	// A pair {a, b} adds 1 to (a, b) and 1 to (b, a), so a bucket whose
	// from and to values are equal gains 2 per pair. Do not halve.
	Reciprocal map[string]map[core.GroupKey]int
}

func newGroupedCounts() *GroupedCounts {
	g := &GroupedCounts{
		Synapses:    make(map[string]map[core.GroupKey]int),
		Connections: make(map[string]map[core.GroupKey]int),
		Reciprocal:  make(map[string]map[core.GroupKey]int),
	}
	for _, attr := range heatmapGroupByAttributes {
		g.Synapses[attr] = make(map[core.GroupKey]int)
		g.Connections[attr] = make(map[core.GroupKey]int)
		g.Reciprocal[attr] = make(map[core.GroupKey]int)
	}
	return g
}

// GroupedCountRow is one flattened GroupedCounts bucket.
type GroupedCountRow struct {
	Attribute   string `msgpack:"attribute" json:"attribute"`
	From        string `msgpack:"from" json:"from"`
	To          string `msgpack:"to" json:"to"`
	Synapses    int    `msgpack:"synapses" json:"synapses"`
	Connections int    `msgpack:"connections" json:"connections"`
	Reciprocal  int    `msgpack:"reciprocal" json:"reciprocal"` // unordered pairs, see GroupedCounts
}

// Rows flattens the counts, sorted by attribute, then from, then to.
func (g *GroupedCounts) Rows() []GroupedCountRow {
	var out []GroupedCountRow
	for _, attr := range heatmapGroupByAttributes {
		keys := make(map[core.GroupKey]bool)
		for k := range g.Synapses[attr] {
			keys[k] = true
		}
		for k := range g.Reciprocal[attr] {
			keys[k] = true
		}
		for k := range keys {
			out = append(out, GroupedCountRow{
				Attribute:   attr,
				From:        k.From,
				To:          k.To,
				Synapses:    g.Synapses[attr][k],
				Connections: g.Connections[attr][k],
				Reciprocal:  g.Reciprocal[attr][k],
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Attribute != b.Attribute {
			return a.Attribute < b.Attribute
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	return out
}

func groupedCountsFromRows(rows []GroupedCountRow) *GroupedCounts {
	g := newGroupedCounts()
	for _, r := range rows {
		if _, ok := g.Synapses[r.Attribute]; !ok {
			continue
		}
		k := core.GroupKey{From: r.From, To: r.To}
		if r.Synapses != 0 {
			g.Synapses[r.Attribute][k] = r.Synapses
		}
		if r.Connections != 0 {
			g.Connections[r.Attribute][k] = r.Connections
		}
		if r.Reciprocal != 0 {
			g.Reciprocal[r.Attribute][k] = r.Reciprocal
		}
	}
	return g
}

type pair struct{ pre, post int64 }

func (s *Store) computeGroupedCounts() {
	g := newGroupedCounts()
	connected := make(map[pair]bool)
	var pairs []pair
	for _, c := range s.connections {
		from, to := s.neurons[c.Pre], s.neurons[c.Post]
		p := pair{c.Pre, c.Post}
		if !connected[p] {
			connected[p] = true
			pairs = append(pairs, p)
		}
		for _, attr := range heatmapGroupByAttributes {
			g.Synapses[attr][groupKey(from, to, attr)] += c.SynCount
		}
	}
	reciprocal := 0
	for _, p := range pairs {
		from, to := s.neurons[p.pre], s.neurons[p.post]
		for _, attr := range heatmapGroupByAttributes {
			g.Connections[attr][groupKey(from, to, attr)]++
		}
		// each unordered reciprocal pair is counted once, from its smaller end
		if p.pre < p.post && connected[pair{p.post, p.pre}] {
			reciprocal++
			for _, attr := range heatmapGroupByAttributes {
				g.Reciprocal[attr][groupKey(from, to, attr)]++
				g.Reciprocal[attr][groupKey(to, from, attr)]++
			}
		}
	}
	s.grouped = g
	log.Printf("Found %s reciprocal connections out of %s connected pairs",
		humanize.Comma(int64(reciprocal)), humanize.Comma(int64(len(pairs))))
}

func groupKey(from, to *core.Neuron, attr string) core.GroupKey {
	return core.GroupKey{From: from.StringValue(attr), To: to.StringValue(attr)}
}

// HeatmapCounts is the grouped counts of one attribute.
type HeatmapCounts struct {
	Synapses    map[core.GroupKey]int
	Connections map[core.GroupKey]int
	Reciprocal  map[core.GroupKey]int // unordered pairs, see GroupedCounts.Reciprocal
}

// GroupByAttributes lists the attributes heatmap counts exist for.
func GroupByAttributes() []string {
	return append([]string(nil), heatmapGroupByAttributes...)
}

// HeatmapCounts returns the grouped counts for attr, ok false when attr is
// not a grouping attribute. The maps must not be modified.
func (s *Store) HeatmapCounts(attr string) (HeatmapCounts, bool) {
	syn, ok := s.grouped.Synapses[attr]
	if !ok {
		return HeatmapCounts{}, false
	}
	return HeatmapCounts{
		Synapses:    syn,
		Connections: s.grouped.Connections[attr],
		Reciprocal:  s.grouped.Reciprocal[attr],
	}, true
}

// ---- Categories and value ranges ----

var categoryAttributes = []struct{ caption, key string }{
	{"Identification Labels", "label"},
	{"Flows", "flow"},
	{"Super Classes", "super_class"},
	{"Classes", "class"},
	{"Sub Classes", "sub_class"},
	{"Cell Types", "cell_type"},
	{"Hemilineages", "hemilineage"},
	{"Cell Body Sides", "side"},
	{"Nerve Types", "nerve"},
	{"Connectivity Tags", "connectivity_tag"},
	{"Max In/Out Neuropil Groups", "group"},
}

// ValueCount is how many cells carry a value.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Category summarizes the values of one attribute.
type Category struct {
	Caption  string       `json:"caption"`
	Key      string       `json:"key"`
	Counts   []ValueCount `json:"counts"`
	Distinct int          `json:"distinct"`
}

func (s *Store) allCategories() []Category {
	s.statsOnce.Do(func() {
		for _, ca := range categoryAttributes {
			counts := make(map[string]int)
			var order []string
			for _, rid := range s.ids {
				v, _ := s.neurons[rid].Value(ca.key)
				for _, val := range core.Strings(v) {
					if val == "" {
						continue
					}
					if counts[val] == 0 {
						order = append(order, val)
					}
					counts[val]++
				}
			}
			vc := make([]ValueCount, len(order))
			for i, val := range order {
				vc[i] = ValueCount{Value: val, Count: counts[val]}
			}
			sort.SliceStable(vc, func(i, j int) bool { return vc[i].Count > vc[j].Count })
			s.categories = append(s.categories, Category{Caption: ca.caption, Key: ca.key, Counts: vc, Distinct: len(vc)})
		}
	})
	return s.categories
}

// Categories returns, per summarized attribute, the top most frequent
// values in descending count order.
func (s *Store) Categories(top int) []Category {
	all := s.allCategories()
	out := make([]Category, len(all))
	for i, c := range all {
		counts := c.Counts
		if top > 0 && len(counts) > top {
			counts = counts[:top]
		}
		out[i] = Category{Caption: categoryCaption(c.Caption, c.Distinct, top), Key: c.Key, Counts: counts, Distinct: c.Distinct}
	}
	return out
}

func categoryCaption(name string, distinct, top int) string {
	switch {
	case top > 0 && distinct > top:
		return fmt.Sprintf("%s (top %d values out of %s)", name, top, humanize.Comma(int64(distinct)))
	case distinct > 10:
		return fmt.Sprintf("%s (%s values)", name, humanize.Comma(int64(distinct)))
	}
	return name
}

const dynamicRangeLimit = 20

// DynamicRanges maps "data_<attr>_range" to the observed values of every
// summarized attribute with fewer than 20 distinct values, most frequent
// first.
func (s *Store) DynamicRanges() map[string][]string {
	out := make(map[string][]string)
	for _, c := range s.Categories(dynamicRangeLimit) {
		if len(c.Counts) < dynamicRangeLimit {
			vals := make([]string, len(c.Counts))
			for i, vc := range c.Counts {
				vals[i] = vc.Value
			}
			out["data_"+c.Key+"_range"] = vals
		}
	}
	return out
}

// UniqueValues returns the sorted distinct non-empty values of attr.
func (s *Store) UniqueValues(attr string) ([]string, error) {
	if _, ok := core.AttributeKind(attr); !ok {
		return nil, fmt.Errorf("%w: unknown attribute %s", core.ErrInvalidQuery, attr)
	}
	seen := make(map[string]bool)
	out := []string{}
	for _, n := range s.neurons {
		v, _ := n.Value(attr)
		for _, val := range core.Strings(v) {
			if val != "" && !seen[val] {
				seen[val] = true
				out = append(out, val)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

var multiValueCandidates = []string{
	"super_class", "class", "sub_class", "cell_type", "hemilineage",
	"flow", "side", "nt_type", "nerve",
}

// MultiValueAttributes lists the attributes taking more than one value
// across ids, sorted.
func (s *Store) MultiValueAttributes(ids []int64) []string {
	values := make(map[string]map[string]bool)
	var out []string
	remaining := len(multiValueCandidates)
	for _, rid := range ids {
		n := s.neurons[rid]
		if n == nil {
			continue
		}
		for _, attr := range multiValueCandidates {
			set := values[attr]
			if set == nil {
				set = make(map[string]bool)
				values[attr] = set
			}
			if len(set) > 1 {
				continue
			}
			v, _ := n.Value(attr)
			set[strings.Join(core.Strings(v), ",")] = true
			if len(set) > 1 {
				out = append(out, attr)
				remaining--
			}
		}
		if remaining == 0 {
			break
		}
	}
	sort.Strings(out)
	return out
}

// NonUniformLabels returns the labels of pageIDs that some but not all of
// allIDs carry, sorted.
func (s *Store) NonUniformLabels(pageIDs, allIDs []int64) []string {
	page := make(map[string]bool)
	for _, rid := range pageIDs {
		if n := s.neurons[rid]; n != nil {
			for _, l := range n.Label {
				page[l] = true
			}
		}
	}
	nonUniform := make(map[string]bool)
	for _, rid := range allIDs {
		n := s.neurons[rid]
		if n == nil {
			continue
		}
		have := make(map[string]bool, len(n.Label))
		for _, l := range n.Label {
			have[l] = true
		}
		for l := range page {
			if !have[l] {
				nonUniform[l] = true
			}
		}
		if len(nonUniform) == len(page) {
			break
		}
	}
	out := make([]string, 0, len(nonUniform))
	for l := range nonUniform {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// HemisphereFingerprint summarizes where a cell receives and sends
// synapses as "<in>/<out>", each Left, Right, Center or Mix. Cells without
// connections get "".
func HemisphereFingerprint(inputPils, outputPils []string) string {
	if len(inputPils) == 0 && len(outputPils) == 0 {
		return ""
	}
	fp := func(pils []string) string {
		if len(pils) == 0 {
			return "None"
		}
		hs := make(map[string]bool)
		for _, p := range pils {
			hs[catalog.NeuropilHemisphere(p)] = true
		}
		if len(hs) > 1 {
			return "Mix"
		}
		return catalog.NeuropilHemisphere(pils[0])
	}
	return fp(inputPils) + "/" + fp(outputPils)
}
