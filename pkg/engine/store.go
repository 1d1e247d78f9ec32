// Package engine holds one immutable dataset version in memory: neuron
// records, the connection table, label history and the derived search
// index. It answers every query the serving surfaces need.
package engine

import (
	"log"
	"math/rand"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/neurocodex/codexdb/pkg/catalog"
	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/index"
)

// Options tune loading and query defaults for one store.
type Options struct {
	// Regions is the region table of the dataset version. Nil means the
	// built-in table.
	Regions *catalog.Regions

	MinSynapseCount           int
	MinSimilarityScore        int
	MinConnectivitySimilarity float64
	MaxConnectivityCandidates int

	// CacheSize bounds the memoized search results.
	CacheSize int
}

// DefaultOptions returns the options used when no configuration is given.
func DefaultOptions() Options {
	return OptionsFromConfig(core.DefaultConfig())
}

// OptionsFromConfig copies the search section of cfg.
func OptionsFromConfig(cfg *core.Config) Options {
	return Options{
		MinSynapseCount:           cfg.Search.MinSynapseCount,
		MinSimilarityScore:        cfg.Search.MinSimilarityScore,
		MinConnectivitySimilarity: cfg.Search.MinConnectivitySimilarity,
		MaxConnectivityCandidates: cfg.Search.MaxConnectivityCandidates,
		CacheSize:                 cfg.Search.CacheSize,
	}
}

func (o Options) withDefaults() Options {
	d := OptionsFromConfig(core.DefaultConfig())
	if o.Regions == nil {
		o.Regions = catalog.DefaultRegions()
	}
	if o.MinSynapseCount <= 0 {
		o.MinSynapseCount = d.MinSynapseCount
	}
	if o.MinSimilarityScore <= 0 {
		o.MinSimilarityScore = d.MinSimilarityScore
	}
	if o.MinConnectivitySimilarity <= 0 {
		o.MinConnectivitySimilarity = d.MinConnectivitySimilarity
	}
	if o.MaxConnectivityCandidates <= 0 {
		o.MaxConnectivityCandidates = d.MaxConnectivityCandidates
	}
	if o.CacheSize <= 0 {
		o.CacheSize = d.CacheSize
	}
	return o
}

type searchKey struct {
	query         string
	caseSensitive bool
	wordMatch     bool
}

// Store is one loaded dataset version. Nothing mutates neurons or
// connections after Build or Restore returns, so all methods are safe for
// concurrent use; memo tables guard themselves.
type Store struct {
	opts    Options
	regions *catalog.Regions

	neurons     map[int64]*core.Neuron
	ids         []int64 // load order
	connections []core.Connection

	labelData       map[int64][]core.LabelRecord
	labelsTimestamp string

	grouped *GroupedCounts
	index   *index.Index

	searchCache *lru.Cache[searchKey, []int64]

	memoMu       sync.Mutex
	partnerMemo  map[int]*partnerSets
	weightedMemo map[int]*weightedPartners
	neuropilMemo map[int]*neuropilPartners

	statsOnce  sync.Once
	categories []Category
}

func newStore(opts Options) *Store {
	opts = opts.withDefaults()
	cache, err := lru.New[searchKey, []int64](opts.CacheSize)
	if err != nil {
		// only reachable with a non-positive size, which withDefaults rules out
		panic(err)
	}
	return &Store{
		opts:         opts,
		regions:      opts.Regions,
		neurons:      make(map[int64]*core.Neuron),
		labelData:    make(map[int64][]core.LabelRecord),
		grouped:      newGroupedCounts(),
		searchCache:  cache,
		partnerMemo:  make(map[int]*partnerSets),
		weightedMemo: make(map[int]*weightedPartners),
		neuropilMemo: make(map[int]*neuropilPartners),
	}
}

// Regions returns the region table of this dataset version.
func (s *Store) Regions() *catalog.Regions { return s.regions }

// Options returns the effective options.
func (s *Store) Options() Options { return s.opts }

// NumCells is the number of neurons.
func (s *Store) NumCells() int { return len(s.neurons) }

// IDs returns every root ID in load order. The slice must not be modified.
func (s *Store) IDs() []int64 { return s.ids }

// Contains reports whether rootID is in the dataset.
func (s *Store) Contains(rootID int64) bool {
	_, ok := s.neurons[rootID]
	return ok
}

// Neuron returns the record for rootID, or nil.
func (s *Store) Neuron(rootID int64) *core.Neuron {
	return s.neurons[rootID]
}

// GetNeuronData returns the record for rootID. A missing ID is logged and
// yields nil rather than an error.
func (s *Store) GetNeuronData(rootID int64) *core.Neuron {
	n, ok := s.neurons[rootID]
	if !ok {
		log.Printf("No data exists for %d in %d records", rootID, len(s.neurons))
		return nil
	}
	return n
}

// RandomCellID picks any root ID. It returns 0 for an empty store.
func (s *Store) RandomCellID() int64 {
	if len(s.ids) == 0 {
		return 0
	}
	return s.ids[rand.Intn(len(s.ids))]
}

// NumSynapses sums the synapse counts of all connection rows.
func (s *Store) NumSynapses() int {
	total := 0
	for _, c := range s.connections {
		total += c.SynCount
	}
	return total
}

// NumConnections is the number of connection rows.
func (s *Store) NumConnections() int { return len(s.connections) }

// NumLabels counts the cleaned labels over all neurons.
func (s *Store) NumLabels() int {
	total := 0
	for _, n := range s.neurons {
		total += len(n.Label)
	}
	return total
}

// LabelData returns the label history of one neuron, newest first.
func (s *Store) LabelData(rootID int64) []core.LabelRecord {
	return s.labelData[rootID]
}

// AllLabelData returns the label histories in load order of their neurons.
func (s *Store) AllLabelData() [][]core.LabelRecord {
	out := make([][]core.LabelRecord, 0, len(s.labelData))
	for _, id := range s.ids {
		if recs, ok := s.labelData[id]; ok {
			out = append(out, recs)
		}
	}
	return out
}

// LabelsTimestamp is the date the label table was produced, or "?".
func (s *Store) LabelsTimestamp() string { return s.labelsTimestamp }

// Contributor is one leaderboard entry.
type Contributor struct {
	UserName    string `json:"user_name"`
	Affiliation string `json:"user_affiliation"`
	Labels      int    `json:"labels"`
}

// LabelLeaderboard counts labels per contributor, most prolific first.
func (s *Store) LabelLeaderboard(top int) []Contributor {
	counts := make(map[Contributor]int)
	for _, recs := range s.labelData {
		for _, r := range recs {
			counts[Contributor{UserName: r.UserName, Affiliation: r.UserAffiliation}]++
		}
	}
	out := make([]Contributor, 0, len(counts))
	for c, n := range counts {
		c.Labels = n
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Labels != out[j].Labels {
			return out[i].Labels > out[j].Labels
		}
		return out[i].UserName < out[j].UserName
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}
