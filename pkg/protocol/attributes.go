package protocol

import (
	"sort"
	"strconv"
	"strings"

	"github.com/neurocodex/codexdb/pkg/catalog"
	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/textutil"
)

// Attribute is a neuron attribute addressable from structured queries.
type Attribute struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	AlternativeNames []string `json:"alternative_names,omitempty"`
	ValueRange       []string `json:"value_range,omitempty"`

	get     func(n *core.Neuron) any
	convert func(rs *catalog.Regions, v string) (string, error)
	split   func(rs *catalog.Regions, v string) []string
	// regionRange takes the value range from the dataset's region table
	regionRange bool
}

// Value reads the attribute from a neuron.
func (a *Attribute) Value(n *core.Neuron) any {
	if a.get != nil {
		return a.get(n)
	}
	v, _ := n.Value(a.Name)
	return v
}

// Convert normalizes a query value, e.g. resolving a transmitter name to its
// code. Values without a converter are returned unchanged.
func (a *Attribute) Convert(rs *catalog.Regions, v string) (string, error) {
	if a.convert == nil {
		return v, nil
	}
	return a.convert(rs, v)
}

// Split decomposes a multi-value right-hand side.
func (a *Attribute) Split(rs *catalog.Regions, v string) []string {
	if a.split == nil {
		return textutil.Tokenize(v)
	}
	return a.split(rs, v)
}

// Range returns the valid values for the attribute, if enumerable.
func (a *Attribute) Range(rs *catalog.Regions) []string {
	if a.regionRange && rs != nil {
		return rs.Codes()
	}
	return a.ValueRange
}

func convertInt(_ *catalog.Regions, v string) (string, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

func convertNeuropil(rs *catalog.Regions, v string) (string, error) {
	return rs.MatchToNeuropil(v), nil
}

func splitNeuropils(rs *catalog.Regions, v string) []string {
	if set := rs.LookupNeuropilSet(v); len(set) > 0 {
		return set
	}
	seen := make(map[string]bool)
	var out []string
	for _, tk := range textutil.Tokenize(v) {
		for _, code := range rs.LookupNeuropilSet(tk) {
			if !seen[code] {
				seen[code] = true
				out = append(out, code)
			}
		}
	}
	sort.Strings(out)
	return out
}

func hemispheresOf(pils []string) []string {
	out := make([]string, len(pils))
	for i, p := range pils {
		out[i] = catalog.NeuropilHemisphere(p)
	}
	return out
}

func sortedHemispheres() []string {
	out := append([]string(nil), catalog.Hemispheres...)
	sort.Strings(out)
	return out
}

var attributes = []*Attribute{
	{
		Name:             "root_id",
		Description:      "ID of the cell, unique across data versions but might get replaced if altered by proofreading",
		AlternativeNames: []string{"id", "cell_id"},
		convert:          convertInt,
	},
	{
		Name:             "label",
		Description:      "Human readable label assigned during cell identification process (each cell can have zero or more labels)",
		AlternativeNames: []string{"tag", "labels", "identification", "annotation"},
	},
	{
		Name:             "side",
		Description:      "Neuron side / hemisphere",
		AlternativeNames: []string{"hemisphere"},
		ValueRange:       []string{"left", "right", "center"},
	},
	{
		Name:             "nt_type",
		Description:      "Neuro-transmitter type",
		AlternativeNames: []string{"nt", "neurotransmitter", "neuro_transmitter"},
		ValueRange:       catalog.NTTypeCodes(),
		convert: func(_ *catalog.Regions, v string) (string, error) {
			return catalog.LookupNTType(v), nil
		},
	},
	{
		Name:             "input_neuropils",
		Description:      "Brain region / neuropil with upstream synaptic connections",
		AlternativeNames: []string{"input_neuropil", "input_regions", "input_region"},
		convert:          convertNeuropil,
		split:            splitNeuropils,
		regionRange:      true,
	},
	{
		Name:             "output_neuropils",
		Description:      "Brain region / neuropil with downstream synaptic connections",
		AlternativeNames: []string{"output_neuropil", "output_regions", "output_region"},
		convert:          convertNeuropil,
		split:            splitNeuropils,
		regionRange:      true,
	},
	{
		Name:             "input_hemisphere",
		Description:      "Brain hemisphere / side with upstream synaptic connections",
		AlternativeNames: []string{"input_side"},
		ValueRange:       sortedHemispheres(),
		get:              func(n *core.Neuron) any { return hemispheresOf(n.InputNeuropils) },
	},
	{
		Name:             "output_hemisphere",
		Description:      "Brain hemisphere / side with downstream synaptic connections",
		AlternativeNames: []string{"output_side"},
		ValueRange:       sortedHemispheres(),
		get:              func(n *core.Neuron) any { return hemispheresOf(n.OutputNeuropils) },
	},
	{
		Name:        "flow",
		Description: "Flow, refers to containment of the neuron in the brain",
		ValueRange:  []string{"intrinsic", "efferent", "afferent"},
	},
	{
		Name:        "super_class",
		Description: "Cell typing attribute, indicates function or other property of the cell",
		ValueRange: []string{
			"optic", "central", "sensory", "visual_projection", "ascending",
			"descending", "visual_centrifugal", "motor", "endocrine",
		},
	},
	{
		Name:        "class",
		Description: "Cell typing attribute, indicates function or other property of the cell",
		ValueRange: []string{
			"ALIN", "ALLN", "ALON", "ALPN", "AN", "CX", "DAN", "Kenyon_Cell", "LHCENT",
			"LHLN", "MBIN", "MBON", "TPN", "TuBu", "bilateral", "gustatory", "hygrosensory",
			"mechanosensory", "ocellar", "olfactory", "optic_lobe_intrinsic", "optic_lobes",
			"pars_intercerebralis", "pars_lateralis", "thermosensory", "unknown_sensory", "visual",
		},
	},
	{
		Name:        "sub_class",
		Description: "Cell typing attribute, indicates function or other property of the cell",
	},
	{
		Name:             "cell_type",
		Description:      "Cell typing attribute, indicates function or other property of the cell",
		AlternativeNames: []string{"type"},
	},
	{
		Name:        "hemilineage",
		Description: "Lineage from Janelia hemibrain dataset",
	},
	{
		Name:             "nerve",
		Description:      "Nerve type, if applicable",
		AlternativeNames: []string{"nerve_type"},
		ValueRange:       []string{"CV", "AN", "MxLbN", "OCN", "PhN", "aPhN", "NCC", "ON"},
	},
	{
		Name: "name",
		Description: "Automatically assigned name (based on most significant input/output regions) - " +
			"unique across data versions, but might get replaced if affected by proofreading",
	},
	{
		Name:        "group",
		Description: "Automatically assigned group name (based on most significant input/output regions)",
	},
	{
		Name:             "connectivity_tag",
		Description:      "Connectivity tag, describes the type of connections the neuron participates in",
		AlternativeNames: []string{"connectivity_label", "connectivity_tags"},
		ValueRange: []string{
			"3_cycle_participant", "broadcaster", "feedforward_loop_participant",
			"highly_reciprocal_neuron", "integrator", "nsrn", "reciprocal", "rich_club",
		},
	},
	{
		Name:             "mirror_twin_root_id",
		Description:      "ID of the mirror-twin cell, optional",
		AlternativeNames: []string{"twin", "mirror", "mirror_twin"},
		convert:          convertInt,
	},
	{
		Name:        "marker",
		Description: "Generic cell markers",
	},
}

// separator variants: "cell_id" is also reachable as "cell-id" and "cell id"
func init() {
	for _, a := range attributes {
		names := append(append([]string(nil), a.AlternativeNames...), a.Name)
		for _, n := range names {
			if strings.Contains(n, "_") {
				a.AlternativeNames = append(a.AlternativeNames,
					strings.ReplaceAll(n, "_", "-"), strings.ReplaceAll(n, "_", " "))
			}
		}
	}
}

// Attributes returns the searchable attributes in declaration order.
func Attributes() []*Attribute {
	return append([]*Attribute(nil), attributes...)
}

// AttributeNames returns the canonical attribute names in declaration order.
func AttributeNames() []string {
	out := make([]string, len(attributes))
	for i, a := range attributes {
		out[i] = a.Name
	}
	return out
}

// ClosestAttribute finds the attribute whose name or alias is nearest to
// name by edit distance, comparing case-insensitively.
func ClosestAttribute(name string) (*Attribute, int) {
	name = strings.ToLower(name)
	var best *Attribute
	bestDist := -1
	for _, a := range attributes {
		for _, n := range append(append([]string(nil), a.AlternativeNames...), a.Name) {
			if d := textutil.EditDistance(n, name); bestDist < 0 || d < bestDist {
				best, bestDist = a, d
			}
		}
	}
	return best, bestDist
}

// LookupAttribute resolves an attribute by exact name or alias. Anything
// else is rejected with the closest known attribute as a hint.
func LookupAttribute(name string) (*Attribute, error) {
	a, dist := ClosestAttribute(name)
	if dist != 0 {
		return nil, core.NewQueryError(core.UnknownAttribute,
			"Attribute '%s' is not recognized - closest match is %s. Possible solutions: "+
				"correct typos in '%s', or try searching by one of the supported attributes: %s",
			name, a.Name, name, strings.Join(AttributeNames(), ", "))
	}
	return a, nil
}

func invalidValue(attr *Attribute, rs *catalog.Regions, value string) error {
	msg := "'" + value + "' is not a valid value for " + attr.Name + "."
	if valid := attr.Range(rs); len(valid) > 0 {
		msg += " Valid values are: " + strings.Join(valid, ", ")
	}
	return &core.QueryError{Kind: core.InvalidValue, Message: msg}
}
