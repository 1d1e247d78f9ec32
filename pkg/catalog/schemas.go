package catalog

// TableSchema fixes the file name and exact column header of one raw table.
// Loaders reject a file whose header differs in any way.
type TableSchema struct {
	Name     string
	File     string
	Columns  []string
	Required bool
}

var (
	NeuronsTable = TableSchema{
		Name: "neurons", File: "neurons.csv.gz", Required: true,
		Columns: []string{"root_id", "group", "nt_type", "nt_type_score", "da_avg", "ser_avg", "gaba_avg", "glut_avg", "ach_avg", "oct_avg"},
	}
	ClassificationTable = TableSchema{
		Name: "classification", File: "classification.csv.gz",
		Columns: []string{"root_id", "flow", "super_class", "class", "sub_class", "hemilineage", "side", "nerve"},
	}
	CellTypesTable = TableSchema{
		Name: "consolidated_cell_types", File: "consolidated_cell_types.csv.gz",
		Columns: []string{"root_id", "primary_type", "additional_type(s)"},
	}
	CellStatsTable = TableSchema{
		Name: "cell_stats", File: "cell_stats.csv.gz",
		Columns: []string{"root_id", "length_nm", "area_nm", "size_nm"},
	}
	LabelsTable = TableSchema{
		Name: "labels", File: "labels.csv.gz",
		Columns: []string{"root_id", "label", "user_id", "position", "supervoxel_id", "label_id", "date_created", "user_name", "user_affiliation"},
	}
	ConnectionsTable = TableSchema{
		Name: "connections", File: "connections.csv.gz",
		Columns: []string{"pre_root_id", "post_root_id", "neuropil", "syn_count", "nt_type"},
	}
	ConnectivityTagsTable = TableSchema{
		Name: "connectivity_tags", File: "connectivity_tags.csv.gz",
		Columns: []string{"root_id", "connectivity_tag"},
	}
	CoordinatesTable = TableSchema{
		Name: "coordinates", File: "coordinates.csv.gz",
		Columns: []string{"root_id", "position", "supervoxel_id"},
	}
	NBLASTTable = TableSchema{
		Name: "nblast", File: "nblast.csv.gz",
		Columns: []string{"root_id", "scores"},
	}
)

// AllTables lists every raw table in load order.
var AllTables = []TableSchema{
	NeuronsTable,
	ClassificationTable,
	CellTypesTable,
	CellStatsTable,
	LabelsTable,
	ConnectionsTable,
	ConnectivityTagsTable,
	CoordinatesTable,
	NBLASTTable,
}

// Index maps column name to position.
func (s TableSchema) Index() map[string]int {
	m := make(map[string]int, len(s.Columns))
	for i, c := range s.Columns {
		m[c] = i
	}
	return m
}

// HeaderMatches reports whether header equals the schema columns exactly.
func (s TableSchema) HeaderMatches(header []string) bool {
	if len(header) != len(s.Columns) {
		return false
	}
	for i := range header {
		if header[i] != s.Columns[i] {
			return false
		}
	}
	return true
}
