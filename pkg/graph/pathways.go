package graph

import "log"

// Pathways returns every cell lying on some shortest directed path from
// source to target, mapped to its distance from source. It returns nil when
// source equals target, when source has no outputs or target no inputs, or
// when target is unreachable.
func Pathways(source, target int64, inputs, outputs NeighborSets) map[int64]int {
	if source == target || inputs[target].Len() == 0 || outputs[source].Len() == 0 {
		return nil
	}
	forward := ReachableNodes([]int64{source}, outputs)
	dist, ok := forward[target]
	if !ok {
		return nil
	}
	backward := ReachableNodes([]int64{target}, inputs)

	out := make(map[int64]int)
	atTarget := 0
	for id, fd := range forward {
		bd, ok := backward[id]
		if !ok || fd+bd != dist {
			continue
		}
		out[id] = fd
		if fd == dist {
			atTarget++
		}
	}
	if atTarget != 1 || out[target] != dist {
		log.Printf("pathways %d -> %d: inconsistent distances, %d cells at distance %d", source, target, atTarget, dist)
	}
	return out
}

// PathwayEdge is a hop between consecutive layers of a pathway.
type PathwayEdge struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// PathwayEdges lists the edges connecting pathway cells at distance d to
// pathway cells at distance d+1, ordered by source then target ID.
func PathwayEdges(nodes map[int64]int, outputs NeighborSets) []PathwayEdge {
	var out []PathwayEdge
	for _, from := range SortedIDs(nodes) {
		for _, to := range SortedIDs(nodes) {
			if from != to && nodes[to] == nodes[from]+1 && outputs[from].Has(to) {
				out = append(out, PathwayEdge{From: from, To: to})
			}
		}
	}
	return out
}
