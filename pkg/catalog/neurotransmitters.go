package catalog

import "strings"

// Transmitter is a neurotransmitter code with its long name.
type Transmitter struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var transmitters = []Transmitter{
	{"DA", "dopamine"},
	{"SER", "serotonin"},
	{"GABA", "gabaergic"},
	{"GLUT", "glutamate"},
	{"ACH", "acetylcholine"},
	{"OCT", "octopamine"},
}

var transmitterNames = func() map[string]string {
	m := make(map[string]string, len(transmitters))
	for _, t := range transmitters {
		m[t.Code] = t.Name
	}
	return m
}()

// Transmitters returns all known transmitters.
func Transmitters() []Transmitter {
	return append([]Transmitter(nil), transmitters...)
}

// IsNTType reports whether code is a known transmitter code (upper case).
func IsNTType(code string) bool {
	_, ok := transmitterNames[code]
	return ok
}

// NTTypeCodes returns the transmitter codes, sorted.
func NTTypeCodes() []string {
	return []string{"ACH", "DA", "GABA", "GLUT", "OCT", "SER"}
}

// LookupNTType resolves a code or a prefix of a transmitter name to its
// code. Unresolvable input is returned unchanged.
func LookupNTType(txt string) string {
	if txt == "" {
		return txt
	}
	if up := strings.ToUpper(txt); IsNTType(up) {
		return up
	}
	low := strings.ToLower(txt)
	for _, t := range transmitters {
		if strings.HasPrefix(t.Name, low) {
			return t.Code
		}
	}
	return txt
}

// NTTypeName returns the long name for a code or name prefix.
func NTTypeName(txt string) string {
	if name, ok := transmitterNames[LookupNTType(txt)]; ok {
		return name
	}
	return "unknown NT type"
}
