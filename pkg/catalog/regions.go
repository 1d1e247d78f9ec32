// Package catalog holds the static reference data of a connectome dataset:
// neuropil regions, neurotransmitter codes and the raw table schemas.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/neurocodex/codexdb/pkg/textutil"
)

// Hemisphere names as used in queries and region listings.
const (
	Left   = "Left"
	Right  = "Right"
	Center = "Center"
)

// Hemispheres in display order.
var Hemispheres = []string{Left, Right, Center}

// Region is one neuropil. Segment IDs are per-version mesh identifiers.
type Region struct {
	Code        string `yaml:"code" json:"id"`
	SegmentID   int    `yaml:"segmentId" json:"segment_id"`
	Description string `yaml:"description" json:"description"`
}

var defaultRegions = []Region{
	{"AME_L", 56, "accessory medulla"},
	{"AME_R", 29, "accessory medulla"},
	{"LO_L", 51, "lobula"},
	{"LO_R", 14, "lobula"},
	{"NO", 58, "noduli"},
	{"BU_L", 73, "bulb (in lateral complex)"},
	{"BU_R", 11, "bulb (in lateral complex)"},
	{"PB", 68, "protocerebral bridge"},
	{"LH_L", 20, "lateral horn"},
	{"LH_R", 54, "lateral horn"},
	{"LAL_L", 46, "lateral accessory lobe"},
	{"LAL_R", 25, "lateral accessory lobe"},
	{"SAD", 70, "saddle"},
	{"CAN_L", 3, "cantle"},
	{"CAN_R", 61, "cantle"},
	{"AMMC_L", 45, "antennal mechanosensory and motor center"},
	{"AMMC_R", 71, "antennal mechanosensory and motor center"},
	{"ICL_L", 31, "inferior clamp"},
	{"ICL_R", 33, "inferior clamp"},
	{"VES_L", 44, "vest"},
	{"VES_R", 40, "vest"},
	{"IB_L", 67, "inferior bridge"},
	{"IB_R", 17, "inferior bridge"},
	{"ATL_L", 18, "antler"},
	{"ATL_R", 23, "antler"},
	{"CRE_L", 30, "crepine"},
	{"CRE_R", 19, "crepine"},
	{"MB_PED_L", 48, "mushroom body → pedunculus"},
	{"MB_PED_R", 28, "mushroom body → pedunculus"},
	{"MB_VL_L", 4, "mushroom body → vertical lobe"},
	{"MB_VL_R", 55, "mushroom body → vertical lobe"},
	{"MB_ML_L", 10, "mushroom body → medial lobe"},
	{"MB_ML_R", 41, "mushroom body → medial lobe"},
	{"FLA_L", 74, "flange"},
	{"FLA_R", 5, "flange"},
	{"LOP_L", 6, "lobula plate"},
	{"LOP_R", 36, "lobula plate"},
	{"EB", 35, "ellipsoid body"},
	{"AL_L", 57, "antennal lobe"},
	{"AL_R", 27, "antennal lobe"},
	{"ME_L", 43, "medulla"},
	{"ME_R", 2, "medulla"},
	{"FB", 65, "fanshaped body"},
	{"SLP_L", 62, "superior lateral protocerebrum"},
	{"SLP_R", 47, "superior lateral protocerebrum"},
	{"SIP_L", 72, "superior intermediate protocerebrum"},
	{"SIP_R", 63, "superior intermediate protocerebrum"},
	{"SMP_L", 42, "superior medial protocerebrum"},
	{"SMP_R", 1, "superior medial protocerebrum"},
	{"AVLP_L", 69, "anterior VLP (ventrolateral protocerebrum)"},
	{"AVLP_R", 49, "anterior VLP (ventrolateral protocerebrum)"},
	{"PVLP_L", 39, "posterior VLP (ventrolateral protocerebrum)"},
	{"PVLP_R", 37, "posterior VLP (ventrolateral protocerebrum)"},
	{"WED_L", 50, "wedge"},
	{"WED_R", 60, "wedge"},
	{"PLP_L", 59, "posteriorlateral protocerebrum"},
	{"PLP_R", 9, "posteriorlateral protocerebrum"},
	{"AOTU_L", 22, "anterior optic tubercle"},
	{"AOTU_R", 24, "anterior optic tubercle"},
	{"GOR_L", 12, "gorget"},
	{"GOR_R", 32, "gorget"},
	{"MB_CA_L", 66, "mushroom body → calyx"},
	{"MB_CA_R", 21, "mushroom body → calyx"},
	{"SPS_L", 13, "superior posterior slope"},
	{"SPS_R", 64, "superior posterior slope"},
	{"IPS_L", 7, "inferior posterior slope"},
	{"IPS_R", 38, "inferior posterior slope"},
	{"SCL_L", 15, "superior clamp"},
	{"SCL_R", 0, "superior clamp"},
	{"EPA_L", 8, "epaulette"},
	{"EPA_R", 52, "epaulette"},
	{"GNG", 26, "gnathal ganglia"},
	{"PRW", 53, "prow"},
	{"GA_L", 34, "gall"},
	{"GA_R", 16, "gall"},
	{"LA_R", 75, "lamina of the compound eyes"},
	{"LA_L", 76, "lamina of the compound eyes"},
	{"OCG", 77, "ocellar ganglion"},
	{"UNASGD", -1, "unassigned"},
}

// RegionCategory groups neuropils for listings.
type RegionCategory struct {
	Name    string   `json:"name"`
	Regions []Region `json:"regions"`
}

var regionCategories = []struct {
	name  string
	codes []string
}{
	{"optic lobe", []string{"AME_R", "AME_L", "LA_L", "LA_R", "LO_R", "LO_L", "LOP_R", "LOP_L", "ME_R", "ME_L"}},
	{"central complex", []string{"NO", "PB", "EB", "FB"}},
	{"lateral complex", []string{"BU_R", "BU_L", "LAL_R", "LAL_L", "GA_R", "GA_L"}},
	{"lateral horn", []string{"LH_R", "LH_L"}},
	{"periesophageal neuropils", []string{"SAD", "CAN_R", "CAN_L", "AMMC_R", "AMMC_L", "FLA_R", "FLA_L", "PRW"}},
	{"inferior neuropils", []string{"ICL_R", "ICL_L", "IB_R", "IB_L", "ATL_R", "ATL_L", "CRE_R", "CRE_L", "SCL_R", "SCL_L"}},
	{"ventromedial neuropils", []string{"VES_R", "VES_L", "GOR_R", "GOR_L", "SPS_R", "SPS_L", "IPS_R", "IPS_L", "EPA_R", "EPA_L"}},
	{"mushroom body", []string{"MB_PED_R", "MB_PED_L", "MB_VL_R", "MB_VL_L", "MB_ML_R", "MB_ML_L", "MB_CA_R", "MB_CA_L"}},
	{"antennal lobe", []string{"AL_R", "AL_L"}},
	{"superior neuropils", []string{"SLP_R", "SLP_L", "SIP_R", "SIP_L", "SMP_R", "SMP_L"}},
	{"ventrolateral neuropils", []string{"AVLP_R", "AVLP_L", "PVLP_R", "PVLP_L", "WED_R", "WED_L", "PLP_R", "PLP_L", "AOTU_R", "AOTU_L"}},
	{"gnathal ganglia", []string{"GNG"}},
	{"ocelli", []string{"OCG"}},
	{"other regions", []string{"UNASGD"}},
}

// Regions is the region table of one dataset version. It is immutable once built.
type Regions struct {
	list   []Region
	byCode map[string]Region
	codes  []string
}

// NewRegions builds a table from the given regions. Codes are upper-cased.
func NewRegions(list []Region) *Regions {
	r := &Regions{byCode: make(map[string]Region, len(list))}
	for _, rg := range list {
		rg.Code = strings.ToUpper(rg.Code)
		if _, dup := r.byCode[rg.Code]; !dup {
			r.list = append(r.list, rg)
		}
		r.byCode[rg.Code] = rg
	}
	for i, rg := range r.list {
		r.list[i] = r.byCode[rg.Code]
		r.codes = append(r.codes, rg.Code)
	}
	sort.Strings(r.codes)
	return r
}

// DefaultRegions returns the built-in region table.
func DefaultRegions() *Regions {
	return NewRegions(defaultRegions)
}

type regionsFile struct {
	Regions []Region `yaml:"regions"`
}

// LoadRegions overlays a version's regions.yaml on the built-in table.
// Entries replace built-in regions with the same code; new codes are added.
func LoadRegions(path string) (*Regions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading regions file %s: %w", path, err)
	}
	var f regionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing regions file %s: %w", path, err)
	}
	merged := append([]Region(nil), defaultRegions...)
	for _, rg := range f.Regions {
		if rg.Code == "" {
			return nil, fmt.Errorf("regions file %s: entry without code", path)
		}
		merged = append(merged, rg)
	}
	return NewRegions(merged), nil
}

// Has reports whether code is a known region (case-sensitive, upper case).
func (r *Regions) Has(code string) bool {
	_, ok := r.byCode[code]
	return ok
}

// Get returns the region for a code.
func (r *Regions) Get(code string) (Region, bool) {
	rg, ok := r.byCode[strings.ToUpper(code)]
	return rg, ok
}

// Codes returns all region codes, sorted.
func (r *Regions) Codes() []string {
	return r.codes
}

// Len is the number of regions.
func (r *Regions) Len() int { return len(r.list) }

// NeuropilHemisphere derives the hemisphere from a region code's side suffix.
func NeuropilHemisphere(code string) string {
	code = strings.ToUpper(code)
	switch {
	case strings.HasSuffix(code, "_L"):
		return Left
	case strings.HasSuffix(code, "_R"):
		return Right
	}
	return Center
}

// WithoutSideSuffix strips "_L"/"_R" from a region code.
func WithoutSideSuffix(code string) string {
	code = strings.ToUpper(code)
	if strings.HasSuffix(code, "_L") || strings.HasSuffix(code, "_R") {
		return code[:len(code)-2]
	}
	return code
}

// LookupNeuropilSet resolves free text to region codes, trying in order an
// exact code, a code prefix, a hemisphere name, and finally a match of all
// text tokens against description tokens plus the hemisphere word. The
// result is sorted; it is empty when nothing matches.
func (r *Regions) LookupNeuropilSet(txt string) []string {
	if txt == "" {
		return nil
	}
	upper := strings.ToUpper(txt)
	lower := strings.ToLower(txt)

	if r.Has(upper) {
		return []string{upper}
	}

	var out []string
	for _, code := range r.codes {
		if strings.HasPrefix(code, upper) {
			out = append(out, code)
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, hs := range Hemispheres {
		if strings.ToLower(hs) == lower {
			for _, code := range r.codes {
				if NeuropilHemisphere(code) == hs {
					out = append(out, code)
				}
			}
			return out
		}
	}

	want := textutil.Tokenize(lower)
	for _, code := range r.codes {
		have := map[string]bool{strings.ToLower(NeuropilHemisphere(code)): true}
		for _, tk := range textutil.Tokenize(strings.ToLower(r.byCode[code].Description)) {
			have[tk] = true
		}
		all := true
		for _, tk := range want {
			if !have[tk] {
				all = false
				break
			}
		}
		if all {
			out = append(out, code)
		}
	}
	return out
}

// MatchToNeuropil returns the single region matching txt, or txt unchanged
// when there is no unique match.
func (r *Regions) MatchToNeuropil(txt string) string {
	if set := r.LookupNeuropilSet(txt); len(set) == 1 {
		return set[0]
	}
	return txt
}

// Description renders a human-readable region name, prefixed with the side
// for lateralized regions.
func (r *Regions) Description(txt string) string {
	code := r.MatchToNeuropil(txt)
	rg, ok := r.byCode[code]
	if !ok {
		if code == "" {
			return "Unknown brain region"
		}
		return code
	}
	hs := NeuropilHemisphere(code)
	if hs == Center {
		return rg.Description
	}
	return strings.ToLower(hs) + " " + rg.Description
}

// SegmentIDs maps region codes to mesh segment IDs, skipping unknown codes.
func (r *Regions) SegmentIDs(codes []string) []int {
	out := make([]int, 0, len(codes))
	for _, c := range codes {
		if rg, ok := r.byCode[strings.ToUpper(c)]; ok {
			out = append(out, rg.SegmentID)
		}
	}
	return out
}

// Categories lists region categories restricted to one hemisphere. Regions
// missing from this table are skipped, as are categories left empty.
func (r *Regions) Categories(hemisphere string) []RegionCategory {
	var out []RegionCategory
	for _, cat := range regionCategories {
		var regions []Region
		for _, code := range cat.codes {
			rg, ok := r.byCode[code]
			if ok && NeuropilHemisphere(code) == hemisphere {
				regions = append(regions, rg)
			}
		}
		if len(regions) > 0 {
			out = append(out, RegionCategory{Name: cat.name, Regions: regions})
		}
	}
	return out
}
