package core

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Neuron is one cell of a dataset snapshot, keyed by its root ID.
// Every attribute of NeuronSchema is always present; empty means default.
type Neuron struct {
	RootID int64  `msgpack:"root_id" json:"root_id"`
	Name   string `msgpack:"name" json:"name"`
	Group  string `msgpack:"group" json:"group"`

	SupervoxelID     []int64       `msgpack:"supervoxel_id" json:"supervoxel_id"`
	MirrorTwinRootID int64         `msgpack:"mirror_twin_root_id" json:"mirror_twin_root_id"`
	Label            []string      `msgpack:"label" json:"label"`
	Marker           []string      `msgpack:"marker" json:"marker"`
	SimilarCells     map[int64]int `msgpack:"similar_cell_scores" json:"similar_cell_scores"`

	NTType      string  `msgpack:"nt_type" json:"nt_type"`
	NTTypeScore float64 `msgpack:"nt_type_score" json:"nt_type_score"`
	ACHAvg      float64 `msgpack:"ach_avg" json:"ach_avg"`
	GABAAvg     float64 `msgpack:"gaba_avg" json:"gaba_avg"`
	GLUTAvg     float64 `msgpack:"glut_avg" json:"glut_avg"`
	SERAvg      float64 `msgpack:"ser_avg" json:"ser_avg"`
	OCTAvg      float64 `msgpack:"oct_avg" json:"oct_avg"`
	DAAvg       float64 `msgpack:"da_avg" json:"da_avg"`

	Flow        string   `msgpack:"flow" json:"flow"`
	SuperClass  string   `msgpack:"super_class" json:"super_class"`
	Class       string   `msgpack:"class" json:"class"`
	SubClass    string   `msgpack:"sub_class" json:"sub_class"`
	CellType    []string `msgpack:"cell_type" json:"cell_type"`
	Hemilineage string   `msgpack:"hemilineage" json:"hemilineage"`
	Nerve       string   `msgpack:"nerve" json:"nerve"`
	Side        string   `msgpack:"side" json:"side"`

	InputCells      int      `msgpack:"input_cells" json:"input_cells"`
	InputSynapses   int      `msgpack:"input_synapses" json:"input_synapses"`
	InputNeuropils  []string `msgpack:"input_neuropils" json:"input_neuropils"`
	OutputCells     int      `msgpack:"output_cells" json:"output_cells"`
	OutputSynapses  int      `msgpack:"output_synapses" json:"output_synapses"`
	OutputNeuropils []string `msgpack:"output_neuropils" json:"output_neuropils"`
	ConnectivityTag []string `msgpack:"connectivity_tag" json:"connectivity_tag"`

	Position []string `msgpack:"position" json:"position"`

	LengthNM int64 `msgpack:"length_nm" json:"length_nm"`
	AreaNM   int64 `msgpack:"area_nm" json:"area_nm"`
	SizeNM   int64 `msgpack:"size_nm" json:"size_nm"`
}

// NewNeuron returns a record with every attribute at its default.
func NewNeuron(rootID int64) *Neuron {
	n := &Neuron{RootID: rootID}
	n.Normalize()
	return n
}

// Normalize replaces nil collections with empty ones.
func (n *Neuron) Normalize() {
	if n.SupervoxelID == nil {
		n.SupervoxelID = []int64{}
	}
	if n.Label == nil {
		n.Label = []string{}
	}
	if n.Marker == nil {
		n.Marker = []string{}
	}
	if n.SimilarCells == nil {
		n.SimilarCells = map[int64]int{}
	}
	if n.CellType == nil {
		n.CellType = []string{}
	}
	if n.InputNeuropils == nil {
		n.InputNeuropils = []string{}
	}
	if n.OutputNeuropils == nil {
		n.OutputNeuropils = []string{}
	}
	if n.ConnectivityTag == nil {
		n.ConnectivityTag = []string{}
	}
	if n.Position == nil {
		n.Position = []string{}
	}
}

// AttrKind is the declared value type of a neuron attribute.
type AttrKind int

const (
	KindString AttrKind = iota
	KindStringList
	KindInt
	KindIntList
	KindFloat
	KindScoreMap
)

func (k AttrKind) String() string {
	switch k {
	case KindString:
		return "str"
	case KindStringList:
		return "list"
	case KindInt:
		return "int"
	case KindIntList:
		return "intlist"
	case KindFloat:
		return "float"
	case KindScoreMap:
		return "dict"
	}
	return "unknown"
}

// AttributeSpec declares one neuron attribute.
type AttributeSpec struct {
	Name string
	Kind AttrKind
}

// NeuronSchema is the canonical attribute table. Loading, generic attribute
// access and the snapshot compatibility check all iterate it.
var NeuronSchema = []AttributeSpec{
	{"group", KindString},
	{"name", KindString},
	{"root_id", KindInt},
	{"supervoxel_id", KindIntList},
	{"mirror_twin_root_id", KindInt},
	{"label", KindStringList},
	{"marker", KindStringList},
	{"similar_cell_scores", KindScoreMap},
	{"nt_type", KindString},
	{"nt_type_score", KindFloat},
	{"ach_avg", KindFloat},
	{"gaba_avg", KindFloat},
	{"glut_avg", KindFloat},
	{"ser_avg", KindFloat},
	{"oct_avg", KindFloat},
	{"da_avg", KindFloat},
	{"flow", KindString},
	{"super_class", KindString},
	{"class", KindString},
	{"sub_class", KindString},
	{"cell_type", KindStringList},
	{"hemilineage", KindString},
	{"nerve", KindString},
	{"side", KindString},
	{"input_cells", KindInt},
	{"input_synapses", KindInt},
	{"input_neuropils", KindStringList},
	{"output_cells", KindInt},
	{"output_synapses", KindInt},
	{"output_neuropils", KindStringList},
	{"connectivity_tag", KindStringList},
	{"position", KindStringList},
	{"length_nm", KindInt},
	{"area_nm", KindInt},
	{"size_nm", KindInt},
}

var schemaIndex = func() map[string]AttrKind {
	m := make(map[string]AttrKind, len(NeuronSchema))
	for _, a := range NeuronSchema {
		m[a.Name] = a.Kind
	}
	return m
}()

// AttributeKind reports the declared kind of an attribute.
func AttributeKind(name string) (AttrKind, bool) {
	k, ok := schemaIndex[name]
	return k, ok
}

// SchemaSignature renders the schema as "name:kind;..." in declaration order.
func SchemaSignature() string {
	var b strings.Builder
	for _, a := range NeuronSchema {
		b.WriteString(a.Name)
		b.WriteByte(':')
		b.WriteString(a.Kind.String())
		b.WriteByte(';')
	}
	return b.String()
}

// SchemaFingerprint identifies the compiled attribute schema. Snapshots
// written under a different fingerprint are rejected.
func SchemaFingerprint() uint64 {
	return xxhash.Sum64String(SchemaSignature())
}

// Value returns the attribute by its schema name.
func (n *Neuron) Value(name string) (any, bool) {
	switch name {
	case "group":
		return n.Group, true
	case "name":
		return n.Name, true
	case "root_id":
		return n.RootID, true
	case "supervoxel_id":
		return n.SupervoxelID, true
	case "mirror_twin_root_id":
		return n.MirrorTwinRootID, true
	case "label":
		return n.Label, true
	case "marker":
		return n.Marker, true
	case "similar_cell_scores":
		return n.SimilarCells, true
	case "nt_type":
		return n.NTType, true
	case "nt_type_score":
		return n.NTTypeScore, true
	case "ach_avg":
		return n.ACHAvg, true
	case "gaba_avg":
		return n.GABAAvg, true
	case "glut_avg":
		return n.GLUTAvg, true
	case "ser_avg":
		return n.SERAvg, true
	case "oct_avg":
		return n.OCTAvg, true
	case "da_avg":
		return n.DAAvg, true
	case "flow":
		return n.Flow, true
	case "super_class":
		return n.SuperClass, true
	case "class":
		return n.Class, true
	case "sub_class":
		return n.SubClass, true
	case "cell_type":
		return n.CellType, true
	case "hemilineage":
		return n.Hemilineage, true
	case "nerve":
		return n.Nerve, true
	case "side":
		return n.Side, true
	case "input_cells":
		return n.InputCells, true
	case "input_synapses":
		return n.InputSynapses, true
	case "input_neuropils":
		return n.InputNeuropils, true
	case "output_cells":
		return n.OutputCells, true
	case "output_synapses":
		return n.OutputSynapses, true
	case "output_neuropils":
		return n.OutputNeuropils, true
	case "connectivity_tag":
		return n.ConnectivityTag, true
	case "position":
		return n.Position, true
	case "length_nm":
		return n.LengthNM, true
	case "area_nm":
		return n.AreaNM, true
	case "size_nm":
		return n.SizeNM, true
	}
	return nil, false
}

// StringValue returns a scalar string attribute, or "" for other kinds.
func (n *Neuron) StringValue(name string) string {
	v, _ := n.Value(name)
	s, _ := v.(string)
	return s
}

// Strings renders an attribute value as a list of strings: scalars become
// a single element, lists keep their elements, empty values yield nil.
func Strings(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case int64:
		return []string{strconv.FormatInt(t, 10)}
	case int:
		return []string{strconv.Itoa(t)}
	case float64:
		return []string{strconv.FormatFloat(t, 'f', -1, 64)}
	case []int64:
		out := make([]string, len(t))
		for i, x := range t {
			out[i] = strconv.FormatInt(x, 10)
		}
		return out
	case map[int64]int:
		keys := make([]int64, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		out := make([]string, len(keys))
		for i, k := range keys {
			out[i] = strconv.FormatInt(k, 10)
		}
		return out
	}
	return nil
}

// Truthy reports whether an attribute value is non-empty / non-zero.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []string:
		return len(t) > 0
	case []int64:
		return len(t) > 0
	case map[int64]int:
		return len(t) > 0
	case int64:
		return t != 0
	case int:
		return t != 0
	case float64:
		return t != 0
	}
	return true
}

// Connection is one row of the synapse table: the synapses from Pre onto
// Post inside a single neuropil. Rows for the same pair in different
// neuropils are kept separate.
type Connection struct {
	Pre      int64  `msgpack:"pre" json:"pre_root_id"`
	Post     int64  `msgpack:"post" json:"post_root_id"`
	Neuropil string `msgpack:"neuropil" json:"neuropil"`
	SynCount int    `msgpack:"syn_count" json:"syn_count"`
	NTType   string `msgpack:"nt_type" json:"nt_type"`
}

// LabelRecord is one community annotation with its provenance.
type LabelRecord struct {
	Label           string `msgpack:"label" json:"label"`
	UserID          int64  `msgpack:"user_id" json:"user_id"`
	Position        string `msgpack:"position" json:"position"`
	SupervoxelID    int64  `msgpack:"supervoxel_id" json:"supervoxel_id"`
	LabelID         int64  `msgpack:"label_id" json:"label_id"`
	DateCreated     string `msgpack:"date_created" json:"date_created"`
	UserName        string `msgpack:"user_name" json:"user_name"`
	UserAffiliation string `msgpack:"user_affiliation" json:"user_affiliation"`
}

// GroupKey addresses one heatmap cell: counts from one group value to another.
type GroupKey struct {
	From string `msgpack:"from" json:"from"`
	To   string `msgpack:"to" json:"to"`
}
