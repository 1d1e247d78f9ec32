// Package fixture provides a small hand-built connectome shared by tests.
//
// Layout:
//
//	dsx cells D1 D2 D3 project onto rr cells R1 R2 (R1 feeds back to D1)
//	P1 -> P2, P3 -> P4 is a diamond, P4 -> D3 is below the default threshold
//	I1 I2 I3 are isolated, L1 is a labelled descending neuron
package fixture

import (
	"strconv"

	"github.com/neurocodex/codexdb/pkg/catalog"
)

const (
	D1 int64 = 720575940600000001
	D2 int64 = 720575940600000002
	D3 int64 = 720575940600000003
	R1 int64 = 720575940600000011
	R2 int64 = 720575940600000012
	P1 int64 = 720575940600000021
	P2 int64 = 720575940600000022
	P3 int64 = 720575940600000023
	P4 int64 = 720575940600000024
	I1 int64 = 720575940600000031
	I2 int64 = 720575940600000032
	I3 int64 = 720575940600000033
	L1 int64 = 720575940600000041

	// Unknown is referenced by a few rows but absent from the neurons table.
	Unknown int64 = 720575940699999999
)

// LabelsTimestamp is the labels table date reported by the fixture.
const LabelsTimestamp = "2024-06-01"

// IDs lists every neuron in table order.
var IDs = []int64{D1, D2, D3, R1, R2, P1, P2, P3, P4, I1, I2, I3, L1}

// NumSynapses is the synapse total over the accepted connection rows.
const NumSynapses = 73

func id(v int64) string { return strconv.FormatInt(v, 10) }

func table(schema catalog.TableSchema, rows ...[]string) [][]string {
	return append([][]string{append([]string(nil), schema.Columns...)}, rows...)
}

// Rows returns fresh raw tables keyed by table name, headers first.
func Rows() map[string][][]string {
	return map[string][][]string{
		catalog.NeuronsTable.Name: table(catalog.NeuronsTable,
			[]string{id(D1), "LH_L.LH_L", "ACH", "0.91", "0.01", "0.0", "0.02", "0.03", "0.91", "0.0"},
			[]string{id(D2), "LH_R.LH_R", "ACH", "0.88", "0.01", "0.0", "0.05", "0.03", "0.88", "0.0"},
			[]string{id(D3), "LH_L.LH_L", "ACH", "0.75", "0.0", "0.1", "0.1", "0.05", "0.75", "0.0"},
			[]string{id(R1), "LH_L.LH_L", "GABA", "0.8", "0.0", "0.0", "0.8", "0.1", "0.1", "0.0"},
			[]string{id(R2), "LH_L.AL_L", "GABA", "0.7", "0.0", "0.0", "0.7", "0.2", "0.1", "0.0"},
			[]string{id(P1), "", "GLUT", "0.6", "0.0", "0.0", "0.1", "0.6", "0.3", "0.0"},
			[]string{id(P2), "", "GLUT", "0.6", "0.0", "0.0", "0.1", "0.6", "0.3", "0.0"},
			[]string{id(P3), "", "GLUT", "0.6", "0.0", "0.0", "0.1", "0.6", "0.3", "0.0"},
			[]string{id(P4), "", "GLUT", "0.6", "0.0", "0.0", "0.1", "0.6", "0.3", "0.0"},
			[]string{id(I1), "ISO", "DA", "0.5", "0.5", "0.0", "0.0", "0.0", "0.0", "0.0"},
			[]string{id(I2), "ISO", "DA", "0.5", "0.5", "0.0", "0.0", "0.0", "0.0", "0.0"},
			[]string{id(I3), "ISO", "SER", "0.5", "0.0", "0.5", "0.0", "0.0", "0.0", "0.0"},
			[]string{id(L1), "GNG.GNG", "ACH", "0.9", "0.0", "0.0", "0.0", "0.0", "0.9", "0.0"},
		),
		catalog.ClassificationTable.Name: table(catalog.ClassificationTable,
			[]string{id(D1), "intrinsic", "central", "CX", "", "", "left", ""},
			[]string{id(D2), "intrinsic", "central", "CX", "", "", "right", ""},
			[]string{id(D3), "intrinsic", "central", "CX", "", "", "left", ""},
			[]string{id(R1), "intrinsic", "central", "LH", "", "", "left", ""},
			[]string{id(R2), "intrinsic", "central", "LH", "", "", "left", ""},
			[]string{id(P1), "intrinsic", "optic", "ME", "", "", "right", ""},
			[]string{id(P2), "intrinsic", "optic", "ME", "", "", "right", ""},
			[]string{id(P3), "intrinsic", "optic", "ME", "", "", "right", ""},
			[]string{id(P4), "intrinsic", "optic", "ME", "", "", "right", ""},
			[]string{id(I1), "afferent", "sensory", "olfactory", "", "", "left", "AN"},
			[]string{id(I2), "afferent", "sensory", "olfactory", "", "", "right", "AN"},
			[]string{id(I3), "afferent", "sensory", "olfactory", "", "", "left", "AN"},
			[]string{id(L1), "efferent", "descending", "DN", "", "", "left", "CV"},
			[]string{id(Unknown), "intrinsic", "central", "CX", "", "", "left", ""},
		),
		catalog.CellTypesTable.Name: table(catalog.CellTypesTable,
			[]string{id(D1), "pC1a", ""},
			[]string{id(D2), "pC1a", ""},
			[]string{id(D3), "pC2l", ""},
			[]string{id(R1), "RR1", ""},
			[]string{id(R2), "RR1", "RR1b"},
		),
		catalog.CellStatsTable.Name: table(catalog.CellStatsTable,
			[]string{id(D1), "1000", "5000", "300"},
			[]string{id(D2), "1100", "9000", "310"},
			[]string{id(D3), "900", "7000", "290"},
			[]string{id(R1), "800", "3000", "200"},
			[]string{id(L1), "2000", "12000", "800"},
		),
		catalog.LabelsTable.Name: table(catalog.LabelsTable,
			[]string{id(D1), "dsx neuron", "1", "100,200,300", "81000000000000001", "1", "2023-03-01", "Alice", "Lab A"},
			[]string{id(D1), id(D2), "2", "100,200,300", "81000000000000001", "2", "2023-02-01", "Bob", "Lab B"},
			[]string{id(D1), "dsx neuron", "2", "100,200,300", "81000000000000001", "3", "2022-01-01", "Bob", "Lab B"},
			[]string{id(D2), "dsx neuron", "1", "110,210,310", "81000000000000002", "4", "2023-03-02", "Alice", "Lab A"},
			[]string{id(D3), "dsx cell", "3", "120,220,320", "81000000000000003", "5", "2023-03-03", "Carol", "Lab C"},
			[]string{id(R1), "rr projection", "1", "130,230,330", "81000000000000011", "6", "2023-04-01", "Alice", "Lab A"},
			[]string{id(R2), "rr local", "2", "140,240,340", "81000000000000012", "7", "2023-04-02", "Bob", "Lab B"},
			[]string{id(L1), "DNa02", "1", "150,250,350", "81000000000000041", "8", "2023-05-01", "Alice", "Lab A"},
			[]string{id(Unknown), "orphan", "1", "1,2,3", "1", "9", "2023-05-02", "Alice", "Lab A"},
		),
		catalog.ConnectionsTable.Name: table(catalog.ConnectionsTable,
			[]string{id(D1), id(R1), "LH_L", "10", "ACH"},
			[]string{id(D2), id(R1), "LH_R", "8", "ACH"},
			[]string{id(D3), id(R2), "LH_L", "6", "ACH"},
			[]string{id(D1), id(R2), "AL_L", "12", "ACH"},
			[]string{id(R1), id(D1), "LH_L", "7", "GABA"},
			[]string{id(P1), id(P2), "LO_R", "9", "GLUT"},
			[]string{id(P1), id(P3), "ME_R", "6", "GLUT"},
			[]string{id(P2), id(P4), "LO_R", "5", "GLUT"},
			[]string{id(P3), id(P4), "me_r", "7", "glut"},
			[]string{id(P4), id(D3), "LH_L", "3", "GLUT"},
			[]string{id(D1), id(Unknown), "LH_L", "20", "ACH"},
			[]string{id(D2), id(R2), "NOWHERE", "20", "ACH"},
			[]string{id(D2), id(R2), "LH_R", "20", "XYZ"},
		),
		catalog.ConnectivityTagsTable.Name: table(catalog.ConnectivityTagsTable,
			[]string{id(D1), "reciprocal,feedforward"},
			[]string{id(R1), "reciprocal"},
		),
		catalog.CoordinatesTable.Name: table(catalog.CoordinatesTable,
			[]string{id(D1), "[100, 200, 300]", "81000000000000001"},
			[]string{id(D1), "[100, 200, 300]", "81000000000000001"},
			[]string{id(D1), "[101, 201, 301]", "81000000000000005"},
			[]string{id(R1), "[130, 230, 330]", "81000000000000011"},
		),
		catalog.NBLASTTable.Name: table(catalog.NBLASTTable,
			[]string{id(D1), id(D2) + ":7;" + id(D3) + ":3"},
			[]string{id(D2), id(D1) + ":7"},
			[]string{id(D3), ""},
		),
	}
}
