package engine

import (
	"sort"

	"github.com/neurocodex/codexdb/pkg/core"
)

// ScoredCell is a cell with a similarity score.
type ScoredCell struct {
	RootID int64   `json:"root_id"`
	Score  float64 `json:"score"`
}

// SimilarCellScores returns the morphologically similar cells of rootID
// scoring at least minScore, best first, at most topK (0 for all). Ties
// go to the smaller root ID.
func (s *Store) SimilarCellScores(rootID int64, minScore, topK int) []ScoredCell {
	n := s.neurons[rootID]
	if n == nil {
		return nil
	}
	out := make([]ScoredCell, 0, len(n.SimilarCells))
	for rid, score := range n.SimilarCells {
		if score >= minScore {
			out = append(out, ScoredCell{RootID: rid, Score: float64(score)})
		}
	}
	sortScored(out)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// SimilarCells returns the similar cells of rootID at the load threshold,
// best first, optionally led by rootID itself.
func (s *Store) SimilarCells(rootID int64, includeSelf bool) *core.IDSet {
	out := core.NewIDSet()
	if !s.Contains(rootID) {
		return out
	}
	if includeSelf {
		out.Add(rootID)
	}
	for _, sc := range s.SimilarCellScores(rootID, s.opts.MinSimilarityScore, 0) {
		out.Add(sc.RootID)
	}
	return out
}

// SimilarConnectivity scores cells by the Jaccard overlap of their partner
// sets with those of rootID. upstream and downstream pick which partners
// count; weighted compares synapse counts (sum of minima over sum of
// maxima) instead of bare membership. Only scores reaching the configured
// minimum are returned. rootID itself scores 1.
func (s *Store) SimilarConnectivity(rootID int64, upstream, downstream, weighted bool) map[int64]float64 {
	if !s.Contains(rootID) || (!upstream && !downstream) {
		return map[int64]float64{}
	}
	ins, outs := s.InputOutputPartnersWithSynapseCounts(-1)
	profile := func(id int64) map[partnerKey]int {
		p := make(map[partnerKey]int)
		if upstream {
			for rid, w := range ins[id] {
				p[partnerKey{rid, false}] = w
			}
		}
		if downstream {
			for rid, w := range outs[id] {
				p[partnerKey{rid, true}] = w
			}
		}
		return p
	}

	target := profile(rootID)
	if len(target) == 0 {
		return map[int64]float64{rootID: 1}
	}

	// candidates share at least one partner with rootID; partners are walked
	// in key order so the cap always keeps the same cells
	keys := make([]partnerKey, 0, len(target))
	for k := range target {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].id != keys[j].id {
			return keys[i].id < keys[j].id
		}
		return !keys[i].downstream && keys[j].downstream
	})
	candidates := make(map[int64]bool)
	for _, k := range keys {
		sharing := outs[k.id]
		if k.downstream {
			sharing = ins[k.id]
		}
		ids := make([]int64, 0, len(sharing))
		for rid := range sharing {
			ids = append(ids, rid)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, rid := range ids {
			candidates[rid] = true
		}
		if len(candidates) >= s.opts.MaxConnectivityCandidates {
			break
		}
	}

	res := map[int64]float64{rootID: 1}
	for cid := range candidates {
		if cid == rootID {
			continue
		}
		score := jaccard(target, profile(cid), weighted)
		if score >= s.opts.MinConnectivitySimilarity {
			res[cid] = score
		}
	}
	return res
}

type partnerKey struct {
	id         int64
	downstream bool
}

func jaccard(a, b map[partnerKey]int, weighted bool) float64 {
	var inter, union float64
	for k, wa := range a {
		wb, ok := b[k]
		switch {
		case !weighted && ok:
			inter++
			union++
		case !weighted:
			union++
		default:
			inter += float64(min(wa, wb))
			union += float64(max(wa, wb))
		}
	}
	for k, wb := range b {
		if _, ok := a[k]; ok {
			continue
		}
		if weighted {
			union += float64(wb)
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return inter / union
}

// SortedSimilarity orders a SimilarConnectivity result best first.
func SortedSimilarity(scores map[int64]float64) []ScoredCell {
	out := make([]ScoredCell, 0, len(scores))
	for rid, sc := range scores {
		out = append(out, ScoredCell{RootID: rid, Score: sc})
	}
	sortScored(out)
	return out
}

func sortScored(out []ScoredCell) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].RootID < out[j].RootID
	})
}
