// Package index implements the free-form text index over neuron labels and
// searchable attribute values.
package index

import (
	"log"
	"sort"
	"strings"

	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/textutil"
)

// Document is one indexed neuron: its free-text labels, the attribute
// values that match only as whole lower-cased strings, and its ID.
type Document struct {
	Labels     []string
	Searchable []string
	ID         int64
}

// postings maps a key to the IDs carrying it, remembering key insertion order.
type postings struct {
	keys []string
	ids  map[string]*core.IDSet
}

func newPostings() *postings {
	return &postings{ids: make(map[string]*core.IDSet)}
}

func (p *postings) add(key string, id int64) {
	set, ok := p.ids[key]
	if !ok {
		set = core.NewIDSet()
		p.ids[key] = set
		p.keys = append(p.keys, key)
	}
	set.Add(id)
}

func (p *postings) get(key string) *core.IDSet {
	return p.ids[key]
}

// Index is immutable after New and safe for concurrent readers.
type Index struct {
	csLabel  *postings
	ciLabel  *postings
	csToken  *postings
	ciToken  *postings
	lcLabels *postings
}

// New builds the index. Document order defines result order among equals.
func New(docs []Document) *Index {
	ix := &Index{
		csLabel:  newPostings(),
		ciLabel:  newPostings(),
		csToken:  newPostings(),
		ciToken:  newPostings(),
		lcLabels: newPostings(),
	}
	for _, d := range docs {
		for _, txt := range d.Labels {
			ix.csLabel.add(txt, d.ID)
			ix.ciLabel.add(strings.ToLower(txt), d.ID)
			for _, tk := range textutil.Tokenize(txt) {
				ix.csToken.add(tk, d.ID)
				ix.ciToken.add(strings.ToLower(tk), d.ID)
			}
		}
		for _, v := range d.Searchable {
			ix.lcLabels.add(strings.ToLower(v), d.ID)
		}
	}
	log.Printf("Search index created: %d tokens, %d labels, %d attribute values",
		len(ix.csToken.keys), len(ix.csLabel.keys), len(ix.lcLabels.keys))
	return ix
}

// collector accumulates ranked IDs without repeats.
type collector struct {
	ranked []int64
	seen   *core.IDSet
}

func newCollector() *collector {
	return &collector{seen: core.NewIDSet()}
}

func (c *collector) collect(ids *core.IDSet) {
	for _, id := range ids.IDs() {
		if c.seen.Add(id) {
			c.ranked = append(c.ranked, id)
		}
	}
}

func (ix *Index) searchInner(term string, caseSensitive, wordMatch bool) *collector {
	c := newCollector()
	lower := strings.ToLower(term)

	if caseSensitive {
		c.collect(ix.csToken.get(term))
	} else {
		c.collect(ix.ciToken.get(lower))
	}

	// attribute values are indexed lower-case only
	c.collect(ix.lcLabels.get(lower))

	if wordMatch {
		return c
	}

	tokens, key := ix.ciToken, lower
	if caseSensitive {
		tokens, key = ix.csToken, term
	}
	for _, k := range tokens.keys {
		if strings.HasPrefix(k, key) {
			c.collect(tokens.ids[k])
		}
	}

	labels := ix.ciLabel
	if caseSensitive {
		labels = ix.csLabel
	}
	for _, k := range labels.keys {
		if strings.Contains(k, key) {
			c.collect(labels.ids[k])
		}
	}
	return c
}

// Search ranks matching IDs: whole tokens, then exact attribute values,
// then token prefixes and label substrings (unless wordMatch). Unquoted
// multi-token terms additionally rank IDs matching every token ahead of IDs
// matching only some. An empty term or "*" returns every ID.
func (ix *Index) Search(term string, caseSensitive, wordMatch bool) []int64 {
	if term == "" || term == "*" {
		return ix.AllIDs()
	}

	c := ix.searchInner(strings.ReplaceAll(term, `"`, ""), caseSensitive, wordMatch)

	if !textutil.IsQuoted(term) {
		tokens := textutil.Tokenize(term)
		if len(tokens) > 1 || (len(tokens) == 1 && tokens[0] != term) {
			perToken := make([]*collector, len(tokens))
			for i, tk := range tokens {
				perToken[i] = ix.searchInner(tk, caseSensitive, wordMatch)
			}
			inAll := func(id int64) bool {
				for _, pt := range perToken {
					if !pt.seen.Has(id) {
						return false
					}
				}
				return true
			}
			for _, pt := range perToken {
				for _, id := range pt.ranked {
					if inAll(id) && c.seen.Add(id) {
						c.ranked = append(c.ranked, id)
					}
				}
			}
			for _, pt := range perToken {
				for _, id := range pt.ranked {
					if c.seen.Add(id) {
						c.ranked = append(c.ranked, id)
					}
				}
			}
		}
	}
	if c.ranked == nil {
		return []int64{}
	}
	return c.ranked
}

// AllIDs returns IDs carrying labels first, in label insertion order,
// followed by the remaining IDs in attribute-value insertion order.
func (ix *Index) AllIDs() []int64 {
	c := newCollector()
	for _, p := range []*postings{ix.csLabel, ix.lcLabels} {
		for _, k := range p.keys {
			c.collect(p.ids[k])
		}
	}
	return c.ranked
}

// ClosestToken suggests the indexed token nearest to term by edit distance,
// ignoring stop words. With limited set, only tokens of those IDs count.
// ok is false when no candidate token exists.
func (ix *Index) ClosestToken(term string, caseSensitive bool, limited *core.IDSet) (token string, dist int, ok bool) {
	term = strings.TrimSpace(term)
	p := ix.csToken
	if !caseSensitive {
		p = ix.ciToken
		term = strings.ToLower(term)
	}
	candidates := make([]string, 0, len(p.keys))
	for _, k := range p.keys {
		if stopWords[strings.ToLower(k)] {
			continue
		}
		if limited.Len() > 0 && p.ids[k].Intersect(limited).Len() == 0 {
			continue
		}
		candidates = append(candidates, k)
	}
	sort.Strings(candidates)
	return textutil.Closest(term, candidates)
}
