package textutil

import (
	"sort"

	"github.com/hbollon/go-edlib"
)

// EditDistance is the Levenshtein distance between a and b, counted in runes.
func EditDistance(a, b string) int {
	return edlib.LevenshteinDistance(a, b)
}

// Closest returns the candidate with the smallest edit distance to term.
// Candidates are sorted first so ties resolve lexicographically. ok is
// false when there are no candidates.
func Closest(term string, candidates []string) (best string, dist int, ok bool) {
	if len(candidates) == 0 {
		return "", 0, false
	}
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	best, dist = sorted[0], EditDistance(term, sorted[0])
	for _, c := range sorted[1:] {
		if d := EditDistance(term, c); d < dist {
			best, dist = c, d
		}
	}
	return best, dist, true
}
