// Package graph holds the traversal algorithms over directed adjacency sets:
// hop distances, distance matrices and shortest-path pathways.
package graph

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/neurocodex/codexdb/pkg/core"
)

// NeighborSets maps a cell to the cells one hop away in one direction.
type NeighborSets map[int64]*core.IDSet

// maxCountDepth bounds the hop levels reported by ReachableNodeCounts.
const maxCountDepth = 99

// ReachableNodes runs a breadth-first expansion from sources and returns the
// hop distance of every reached cell. Sources are at distance 0. The first
// distance recorded for a cell is kept.
func ReachableNodes(sources []int64, neighbors NeighborSets) map[int64]int {
	reached := make(map[int64]int, len(sources))
	frontier := make([]int64, 0, len(sources))
	for _, s := range sources {
		if _, ok := reached[s]; !ok {
			reached[s] = 0
			frontier = append(frontier, s)
		}
	}
	for depth := 1; len(frontier) > 0; depth++ {
		var next []int64
		for _, n := range frontier {
			for _, m := range neighbors[n].IDs() {
				if _, ok := reached[m]; !ok {
					reached[m] = depth
					next = append(next, m)
				}
			}
		}
		frontier = next
	}
	return reached
}

// HopCount is the cumulative number of cells within Hops steps.
type HopCount struct {
	Hops  int    `json:"hops"`
	Label string `json:"label"`
	Count int    `json:"count"`
	Text  string `json:"text"`
}

// ReachableNodeCounts reports, for 1, 2, ... hops, how many cells are
// reachable within that many steps (sources included), formatted as
// "N (P%)" of total. It stops at the first depth that reaches nothing new.
func ReachableNodeCounts(sources []int64, neighbors NeighborSets, total int) []HopCount {
	perDepth := make(map[int]int)
	for _, d := range ReachableNodes(sources, neighbors) {
		perDepth[d]++
	}
	var out []HopCount
	cumulative := perDepth[0]
	for i := 1; i < maxCountDepth+1; i++ {
		n, ok := perDepth[i]
		if !ok {
			break
		}
		cumulative += n
		label := fmt.Sprintf("%d hops", i)
		if i == 1 {
			label = "1 hop"
		}
		out = append(out, HopCount{
			Hops:  i,
			Label: label,
			Count: cumulative,
			Text:  fmt.Sprintf("%s (%s)", humanize.Comma(int64(cumulative)), Percentage(cumulative, total)),
		})
	}
	return out
}

// Percentage renders part/total as a whole, truncated percentage.
func Percentage(part, total int) string {
	if total <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%d%%", part*100/total)
}

// DistanceRow holds the hop distances from one source to every target,
// -1 where a target is unreachable.
type DistanceRow struct {
	Source    int64 `json:"source"`
	Distances []int `json:"distances"`
}

// Matrix is a distance matrix with its target header.
type Matrix struct {
	Targets []int64       `json:"targets"`
	Rows    []DistanceRow `json:"rows"`
}

// DistanceMatrix computes hop distances from each source to each target,
// running one traversal per source.
func DistanceMatrix(sources, targets []int64, neighbors NeighborSets) Matrix {
	m := Matrix{Targets: targets, Rows: make([]DistanceRow, 0, len(sources))}
	for _, s := range sources {
		reached := ReachableNodes([]int64{s}, neighbors)
		row := DistanceRow{Source: s, Distances: make([]int, len(targets))}
		for i, t := range targets {
			d, ok := reached[t]
			if !ok {
				d = -1
			}
			row.Distances[i] = d
		}
		m.Rows = append(m.Rows, row)
	}
	return m
}

// SortedIDs returns the keys of a distance map in ascending order.
func SortedIDs(m map[int64]int) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
