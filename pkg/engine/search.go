package engine

import (
	"log"
	"sort"
	"strings"

	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/index"
	"github.com/neurocodex/codexdb/pkg/protocol"
)

// searchLabelAttributes are matched as whole values by free-form search.
var searchLabelAttributes = []string{
	"root_id", "name", "group", "nt_type", "super_class", "class", "sub_class",
	"cell_type", "flow", "hemilineage", "nerve", "side", "connectivity_tag",
}

func (s *Store) buildIndex() {
	docs := make([]index.Document, 0, len(s.ids))
	for _, rid := range s.ids {
		n := s.neurons[rid]
		var searchable []string
		for _, attr := range searchLabelAttributes {
			v, _ := n.Value(attr)
			searchable = append(searchable, core.Strings(v)...)
		}
		docs = append(docs, index.Document{Labels: n.Label, Searchable: searchable, ID: rid})
	}
	s.index = index.New(docs)
}

// Search runs a free-form or structured query and returns matching root
// IDs. An empty query lists every cell, largest surface area first.
// Results are memoized per (query, caseSensitive, wordMatch) and callers
// must not modify them.
func (s *Store) Search(query string, caseSensitive, wordMatch bool) ([]int64, error) {
	key := searchKey{query: query, caseSensitive: caseSensitive, wordMatch: wordMatch}
	if ids, ok := s.searchCache.Get(key); ok {
		return ids, nil
	}
	ids, err := s.search(query, caseSensitive, wordMatch)
	if err != nil {
		return nil, err
	}
	s.searchCache.Add(key, ids)
	return ids, nil
}

func (s *Store) search(query string, caseSensitive, wordMatch bool) ([]int64, error) {
	if strings.TrimSpace(query) == "" {
		ids := append([]int64(nil), s.ids...)
		sort.SliceStable(ids, func(i, j int) bool {
			return s.neurons[ids[i]].AreaNM > s.neurons[ids[j]].AreaNM
		})
		return ids, nil
	}

	parsed, err := protocol.ParseSearchQuery(query)
	if err != nil {
		return nil, err
	}
	if !parsed.IsStructured() {
		return s.index.Search(parsed.FreeForm[0], caseSensitive, wordMatch), nil
	}
	log.Printf("Processing search query: chaining=%q free_form=%q structured=%v",
		parsed.Chaining, parsed.FreeForm, parsed.Structured)

	results := make([][]int64, 0, len(parsed.FreeForm)+1)
	for _, term := range parsed.FreeForm {
		results = append(results, s.index.Search(term, caseSensitive, wordMatch))
	}
	if len(parsed.Structured) > 0 {
		pred, err := s.CompileTerms(parsed.Chaining, parsed.Structured, caseSensitive)
		if err != nil {
			return nil, err
		}
		results = append(results, s.Filter(s.ids, pred))
	}
	return protocol.ApplyChainingRule(parsed.Chaining, results)
}

// Filter keeps the ids whose neurons satisfy pred, in order.
func (s *Store) Filter(ids []int64, pred *protocol.Predicate) []int64 {
	out := []int64{}
	for _, rid := range ids {
		if n := s.neurons[rid]; n != nil && pred.Evaluate(n) {
			out = append(out, rid)
		}
	}
	return out
}

// CompileTerms compiles structured terms against this dataset.
func (s *Store) CompileTerms(chaining protocol.OpCode, terms []protocol.Term, caseSensitive bool) (*protocol.Predicate, error) {
	return protocol.NewCompiler(s.regions, s, caseSensitive).CompileAll(chaining, terms)
}

// ClosestToken suggests an indexed token close to a free-form query. It
// offers nothing for empty, numeric or structured queries.
func (s *Store) ClosestToken(query string, caseSensitive bool, limited []int64) (token string, dist int, ok bool) {
	query = strings.TrimSpace(query)
	if query == "" || isNumeric(query) {
		return "", 0, false
	}
	parsed, err := protocol.ParseSearchQuery(query)
	if err != nil || parsed.IsStructured() {
		return "", 0, false
	}
	return s.index.ClosestToken(query, caseSensitive, core.IDSetOf(limited...))
}

// AdvancedSearchData describes the query grammar. Attributes without a
// fixed value range get the dynamic range observed in this dataset.
func (s *Store) AdvancedSearchData(current string) (*protocol.AdvancedSearchData, error) {
	data, err := protocol.BuildAdvancedSearchData(current, s.regions)
	if err != nil {
		return nil, err
	}
	ranges := s.DynamicRanges()
	for name, info := range data.Attributes {
		if len(info.ValueRange) > 0 {
			continue
		}
		if r, ok := ranges["data_"+name+"_range"]; ok {
			info.ValueRange = r
			data.Attributes[name] = info
		}
	}
	return data, nil
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
