package textutil

import (
	"strconv"
	"strings"
)

// maxCleaningRounds bounds the fixed-point loop in CleanAndReduceLabels.
const maxCleaningRounds = 32

var boilerplate = []string{
	"; Part of comprehensive neck connective tracing, contact Connectomics Group Cambridge for more detailed " +
		"information on descending/ascending neurons",
	" (total brain fart (not part of the name of the neuron))",
	" (complete brain fart trying to lend weight to someone else`s self-correction, ended up choosing the wrong label myself too xD)",
	"Taisz ... Galili 2022 doi:10.1101/2022.05.13.491877",
	"; https://doi.org/10.1101/2021.12.20.473513",
}

var blacklistedLabels = map[string]bool{
	"not a neuron":                true,
	"not a neuron; glia":          true,
	"most likely not a neuron":    true,
	"correction - not optic lobe": true,
}

var correctionPrefixes = []string{
	"Correction: ",
	"(correction) ",
	"Tm16 is wrong. this is: ",
	"L1 label is wrong",
}

var correctionSuffixes = []string{
	" (correction)",
	" (correction due to brain fart)",
	" (correction due to brainfart)",
	" (Tm5c is not correct)",
	" (corrected)",
	" - L1 Label Incorrect",
	" - L2 Label Incorrect",
	" - R2 Label Incorrect (spelling error)",
	"; L5 label is incorrect",
	"; L1 label is wrong",
	"; L1 - Lamina monopolar 3; L3 is incorrect and submitted by accident",
	" (I just pasted a segment ID here and accidentally submitted. sorry)",
	", wrongly annotated",
}

var sideMarkers = []string{"_left", "_right", "left_", "right_", "left", "right", "Left", "Right", "-RHS", "-LHS"}

var sideSuffixes = []string{"_l", "_r", "-l", "-r"}

var sideDelims = []string{";", ":", ",", "_", "-"}

var insignificantChars = map[rune]bool{
	'\'': true, '`': true, '.': true, ',': true, '-': true, '_': true, ':': true, ';': true, ' ': true,
}

// CanBeRootID reports whether s looks like a FlyWire root ID.
func CanBeRootID(s string) bool {
	if len(s) != 18 || !strings.HasPrefix(s, "72") {
		return false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return err == nil && n != 0
}

// CleanAndReduceLabels reduces a neuron's labels, newest first, to the set
// worth showing. redundant holds the neuron's own classification values
// (and transmitter name); label parts repeating one of them are dropped.
// Passes repeat until the list stops changing. The result holds no
// duplicates, no pair differing only in punctuation and no label that is a
// separator-bounded prefix of another.
func CleanAndReduceLabels(latestToOldest []string, redundant []string) []string {
	attrs := make(map[string]bool, len(redundant))
	for _, a := range redundant {
		if a != "" {
			attrs[strings.ToLower(a)] = true
		}
	}

	prev := latestToOldest
	for round := 0; round < maxCleaningRounds; round++ {
		labels := make([]string, 0, len(prev))
		for _, lbl := range prev {
			lbl = MakeWebSafe(compactLabel(lbl))
			if blacklisted(lbl) {
				continue
			}
			labels = append(labels, strings.TrimSpace(lbl))
		}
		labels = removeRedundantParts(labels, attrs)
		labels = removeCorrected(labels)
		labels = mapNonEmpty(labels, removeLeftRight)
		labels = mapNonEmpty(labels, removeDuplicateTokens)
		labels = mapNonEmpty(labels, removeSubsumedTokens)
		labels = removeRedundantParts(labels, attrs)
		labels = dedupeWithOrder(labels)
		labels = dedupeUpToInsignificantChars(labels)
		labels = dedupePrefixes(labels)
		labels = spaceOutDelimiters(labels)
		labels = stripTrailingDelimiters(labels)
		labels = dedupeWithOrder(labels)

		if equalStrings(labels, prev) {
			return labels
		}
		prev = labels
	}
	return prev
}

func compactLabel(lbl string) string {
	for _, p := range boilerplate {
		lbl = strings.ReplaceAll(lbl, p, "")
	}
	return lbl
}

func blacklisted(lbl string) bool {
	return blacklistedLabels[strings.ToLower(lbl)] || CanBeRootID(lbl)
}

func mapNonEmpty(labels []string, fn func(string) string) []string {
	out := make([]string, 0, len(labels))
	for _, lbl := range labels {
		if lbl != "" {
			out = append(out, fn(lbl))
		}
	}
	return out
}

func removeRedundantParts(labels []string, attrs map[string]bool) []string {
	out := make([]string, 0, len(labels))
	for _, lbl := range labels {
		parts := strings.Split(lbl, ";")
		kept := make([]string, 0, len(parts))
		for _, part := range parts {
			if attrs[strings.ToLower(strings.TrimSpace(part))] {
				continue
			}
			kept = append(kept, dropPutative(part))
		}
		res := strings.TrimSpace(strings.Join(kept, ";"))
		if len([]rune(res)) > 1 {
			out = append(out, res)
		}
	}
	return out
}

func dropPutative(part string) string {
	for _, p := range []string{"putative ", "putative-", "putative_"} {
		if strings.HasPrefix(strings.ToLower(part), p) {
			part = part[len(p):]
		}
	}
	return part
}

// removeCorrected drops every label older than the newest explicit correction.
func removeCorrected(latestToOldest []string) []string {
	for _, cp := range correctionPrefixes {
		for i, lbl := range latestToOldest {
			if strings.HasPrefix(lbl, cp) {
				return append(append([]string{}, latestToOldest[:i]...), lbl[len(cp):])
			}
		}
	}
	for _, cs := range correctionSuffixes {
		for i, lbl := range latestToOldest {
			if strings.HasSuffix(lbl, cs) {
				return append(append([]string{}, latestToOldest[:i]...), lbl[:len(lbl)-len(cs)])
			}
		}
	}
	return latestToOldest
}

// removeLeftRight strips hemisphere annotations from every word.
func removeLeftRight(lbl string) string {
	words := strings.Fields(lbl)
	clean := make([]string, 0, len(words))
	for _, w := range words {
		for _, bt := range sideMarkers {
			w = strings.TrimSpace(strings.ReplaceAll(w, bt, ""))
		}
		for _, delim := range sideDelims {
			for _, bt := range sideSuffixes {
				up := strings.ToUpper(bt)
				w = strings.ReplaceAll(w, bt+delim, delim)
				w = strings.ReplaceAll(w, up+delim, delim)
				if strings.HasSuffix(w, bt) || strings.HasSuffix(w, up) {
					w = w[:len(w)-len(bt)]
				}
				w = strings.TrimSpace(w)
			}
		}
		if w != "" && !contains(sideDelims, w) {
			clean = append(clean, w)
		}
	}
	return strings.Join(clean, " ")
}

func splitTrimmed(lbl, delim string) []string {
	var out []string
	for _, t := range strings.Split(lbl, delim) {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func removeDuplicateTokens(lbl string) string {
	tokens := splitTrimmed(lbl, ";")
	deduped := dedupeWithOrder(tokens)
	if len(deduped) < len(tokens) {
		return strings.Join(deduped, "; ")
	}
	return lbl
}

// removeSubsumedTokens drops a part repeated inside the part that follows
// it, e.g. "LC10; visual LC10" becomes "visual LC10".
func removeSubsumedTokens(lbl string) string {
	res := lbl
	for _, delim := range []string{";", ","} {
		tokens := splitTrimmed(lbl, delim)
		kept := make([]string, 0, len(tokens))
		for i, t := range tokens {
			if i < len(tokens)-1 {
				next := tokens[i+1]
				if strings.HasPrefix(next, t+":") ||
					strings.HasSuffix(next, " "+t) ||
					strings.Contains(next, " "+t+",") ||
					strings.Contains(next, " "+t+";") {
					continue
				}
			}
			kept = append(kept, t)
		}
		if len(kept) < len(tokens) {
			res = strings.Join(kept, delim+" ")
		}
	}
	return res
}

func dedupeWithOrder(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, lbl := range labels {
		if !seen[lbl] {
			seen[lbl] = true
			out = append(out, lbl)
		}
	}
	return out
}

// significantDiff reports whether a and b differ in anything beyond
// punctuation and spacing, position by position.
func significantDiff(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	n := len(ra)
	if len(rb) > n {
		n = len(rb)
	}
	for i := 0; i < n; i++ {
		ca, okA := runeAt(ra, i)
		cb, okB := runeAt(rb, i)
		if okA && okB && ca == cb {
			continue
		}
		if okA && !insignificantChars[ca] {
			return true
		}
		if okB && !insignificantChars[cb] {
			return true
		}
	}
	return false
}

func runeAt(rs []rune, i int) (rune, bool) {
	if i < len(rs) {
		return rs[i], true
	}
	return 0, false
}

func dedupeUpToInsignificantChars(labels []string) []string {
	if len(labels) < 2 {
		return labels
	}
	dupes := make(map[int]bool)
	for i := range labels {
		for j := i + 1; j < len(labels); j++ {
			if !significantDiff(labels[i], labels[j]) {
				dupes[j] = true
			}
		}
	}
	return dropIndices(labels, dupes)
}

// dedupePrefixes drops a label when a longer one starts with it and the
// next character is a separator rather than part of a word.
func dedupePrefixes(labels []string) []string {
	if len(labels) < 2 {
		return labels
	}
	dupes := make(map[int]bool)
	for _, long := range labels {
		for j, short := range labels {
			if len(long) > len(short) && strings.HasPrefix(long, short) && !isWordChar(long[len(short)]) {
				dupes[j] = true
			}
		}
	}
	return dropIndices(labels, dupes)
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func dropIndices(labels []string, drop map[int]bool) []string {
	if len(drop) == 0 {
		return labels
	}
	out := make([]string, 0, len(labels)-len(drop))
	for i, lbl := range labels {
		if !drop[i] {
			out = append(out, lbl)
		}
	}
	return out
}

func spaceOutDelimiters(labels []string) []string {
	out := make([]string, len(labels))
	for i, lbl := range labels {
		for _, delim := range []string{";", ","} {
			parts := strings.Split(lbl, delim)
			for k := range parts {
				parts[k] = strings.TrimSpace(parts[k])
			}
			lbl = strings.Join(parts, delim+" ")
		}
		out[i] = lbl
	}
	return out
}

func stripTrailingDelimiters(labels []string) []string {
	out := make([]string, len(labels))
	for i, lbl := range labels {
		lbl = strings.TrimSpace(lbl)
		if strings.HasSuffix(lbl, ";") || strings.HasSuffix(lbl, ",") || strings.HasSuffix(lbl, ":") {
			lbl = strings.TrimSpace(lbl[:len(lbl)-1])
		}
		out[i] = lbl
	}
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
