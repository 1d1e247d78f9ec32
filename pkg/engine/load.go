package engine

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/neurocodex/codexdb/pkg/catalog"
	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/textutil"
)

// Tables holds the raw rows of one dataset version keyed by table name.
// The first row of every table is its header. Only the neurons table is
// required.
type Tables struct {
	Rows map[string][][]string

	// LabelsTimestamp is the production date of the labels table, "?" when
	// unknown.
	LabelsTimestamp string
}

func (t Tables) rows(schema catalog.TableSchema) ([][]string, error) {
	rows := t.Rows[schema.Name]
	if len(rows) == 0 {
		if schema.Required {
			return nil, fmt.Errorf("%w: %s table is missing", core.ErrTableSchemaMismatch, schema.Name)
		}
		return nil, nil
	}
	if !schema.HeaderMatches(rows[0]) {
		return nil, fmt.Errorf("%w: %s header %v, expected %v",
			core.ErrTableSchemaMismatch, schema.Name, rows[0], schema.Columns)
	}
	return rows[1:], nil
}

// heatmapGroupByAttributes are the attributes grouped counts are kept for.
var heatmapGroupByAttributes = []string{"side", "flow", "nt_type", "super_class", "class", "sub_class"}

// Build runs the load pipeline over raw tables and returns the finished
// store. Header mismatches and malformed neuron rows are fatal; anomalies
// in the other tables are counted, logged and skipped.
func Build(t Tables, opts Options) (*Store, error) {
	s := newStore(opts)
	s.labelsTimestamp = t.LabelsTimestamp
	if s.labelsTimestamp == "" {
		s.labelsTimestamp = "?"
	}

	steps := []struct {
		name string
		run  func(Tables) error
	}{
		{"neurons", s.loadNeurons},
		{"classification", s.loadClassification},
		{"labels", s.loadLabels},
		{"coordinates", s.loadCoordinates},
		{"connections", s.loadConnections},
		{"nblast", s.loadSimilarity},
	}
	for _, step := range steps {
		if err := step.run(t); err != nil {
			return nil, fmt.Errorf("loading %s: %w", step.name, err)
		}
	}

	s.computeGroupedCounts()
	s.assignGroups()
	assignNames(s.neurons, s.ids)
	s.buildIndex()

	log.Printf("Dataset loaded: %s neurons, %s connections, %s synapses, %s labels",
		humanize.Comma(int64(len(s.neurons))), humanize.Comma(int64(len(s.connections))),
		humanize.Comma(int64(s.NumSynapses())), humanize.Comma(int64(s.NumLabels())))
	return s, nil
}

// ---- Step 1: base attributes ----

func (s *Store) loadNeurons(t Tables) error {
	rows, err := t.rows(catalog.NeuronsTable)
	if err != nil {
		return err
	}
	log.Printf("Processing neuron data with %s rows", humanize.Comma(int64(len(rows))))
	col := catalog.NeuronsTable.Index()
	for i, r := range rows {
		if len(r) != len(col) {
			return fmt.Errorf("%w: neurons row %d has %d columns", core.ErrInvalidRow, i+1, len(r))
		}
		rid, err := parseRootID(r[col["root_id"]])
		if err != nil {
			return fmt.Errorf("%w: neurons row %d: %v", core.ErrInvalidRow, i+1, err)
		}
		if _, dup := s.neurons[rid]; dup {
			return fmt.Errorf("%w: %d", core.ErrDuplicateRootID, rid)
		}
		n := core.NewNeuron(rid)
		n.Group = cell(r, col, "group")
		n.NTType = strings.ToUpper(cell(r, col, "nt_type"))
		floats := []struct {
			column string
			dst    *float64
		}{
			{"nt_type_score", &n.NTTypeScore},
			{"da_avg", &n.DAAvg},
			{"ser_avg", &n.SERAvg},
			{"gaba_avg", &n.GABAAvg},
			{"glut_avg", &n.GLUTAvg},
			{"ach_avg", &n.ACHAvg},
			{"oct_avg", &n.OCTAvg},
		}
		for _, f := range floats {
			if *f.dst, err = parseFloat(cell(r, col, f.column)); err != nil {
				return fmt.Errorf("%w: neurons row %d column %s: %v", core.ErrInvalidRow, i+1, f.column, err)
			}
		}
		s.neurons[rid] = n
		s.ids = append(s.ids, rid)
	}
	return nil
}

// ---- Step 2: classification, cell types, cell stats, connectivity tags ----

func (s *Store) loadClassification(t Tables) error {
	overlays := []struct {
		schema catalog.TableSchema
		apply  func(n *core.Neuron, r []string, col map[string]int) error
	}{
		{catalog.ClassificationTable, applyClassification},
		{catalog.CellTypesTable, applyCellTypes},
		{catalog.CellStatsTable, applyCellStats},
		{catalog.ConnectivityTagsTable, applyConnectivityTags},
	}
	for _, o := range overlays {
		rows, err := t.rows(o.schema)
		if err != nil {
			return err
		}
		if rows == nil {
			continue
		}
		col := o.schema.Index()
		notFound, invalid := 0, 0
		for _, r := range rows {
			if len(r) != len(col) {
				invalid++
				continue
			}
			rid, err := parseRootID(r[col["root_id"]])
			if err != nil {
				invalid++
				continue
			}
			n, ok := s.neurons[rid]
			if !ok {
				notFound++
				continue
			}
			if err := o.apply(n, r, col); err != nil {
				invalid++
			}
		}
		log.Printf("Processed %s data with %s rows: %d ids not found, %d invalid rows",
			o.schema.Name, humanize.Comma(int64(len(rows))), notFound, invalid)
	}
	return nil
}

func applyClassification(n *core.Neuron, r []string, col map[string]int) error {
	n.Flow = cell(r, col, "flow")
	n.SuperClass = cell(r, col, "super_class")
	n.Class = cell(r, col, "class")
	n.SubClass = cell(r, col, "sub_class")
	n.Hemilineage = cell(r, col, "hemilineage")
	n.Side = cell(r, col, "side")
	n.Nerve = cell(r, col, "nerve")
	return nil
}

func applyCellTypes(n *core.Neuron, r []string, col map[string]int) error {
	types := append([]string{cell(r, col, "primary_type")}, splitList(cell(r, col, "additional_type(s)"))...)
	for _, ct := range types {
		if ct != "" && !contains(n.CellType, ct) {
			n.CellType = append(n.CellType, ct)
		}
	}
	return nil
}

func applyCellStats(n *core.Neuron, r []string, col map[string]int) error {
	var err error
	if n.LengthNM, err = parseInt(cell(r, col, "length_nm")); err != nil {
		return err
	}
	if n.AreaNM, err = parseInt(cell(r, col, "area_nm")); err != nil {
		return err
	}
	n.SizeNM, err = parseInt(cell(r, col, "size_nm"))
	return err
}

func applyConnectivityTags(n *core.Neuron, r []string, col map[string]int) error {
	n.ConnectivityTag = splitList(cell(r, col, "connectivity_tag"))
	return nil
}

// ---- Step 3: community labels ----

func (s *Store) loadLabels(t Tables) error {
	rows, err := t.rows(catalog.LabelsTable)
	if err != nil || rows == nil {
		return err
	}
	col := catalog.LabelsTable.Index()
	notFound := make(map[string]int)
	invalid := 0
	for _, r := range rows {
		if len(r) != len(col) {
			invalid++
			continue
		}
		rid, err := parseRootID(r[col["root_id"]])
		if err != nil {
			invalid++
			continue
		}
		if _, ok := s.neurons[rid]; !ok {
			notFound[r[col["label"]]]++
			continue
		}
		rec, err := labelRecord(r, col)
		if err != nil {
			invalid++
			continue
		}
		s.labelData[rid] = append(s.labelData[rid], rec)
	}
	log.Printf("Processed %s label rows for %s root ids, %d labels of unknown cells, %d invalid rows",
		humanize.Comma(int64(len(rows))), humanize.Comma(int64(len(s.labelData))), sumCounts(notFound), invalid)
	logTopCounts("Top not found labels", notFound, 10)

	cleaned, filtered := 0, 0
	for _, rid := range s.ids {
		recs, ok := s.labelData[rid]
		if !ok {
			continue
		}
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].DateCreated > recs[j].DateCreated })
		latestToOldest := make([]string, 0, len(recs))
		for _, rec := range recs {
			if rec.Label != "" {
				latestToOldest = append(latestToOldest, rec.Label)
			}
		}
		n := s.neurons[rid]
		clean := textutil.CleanAndReduceLabels(latestToOldest, redundantWith(n))
		if len(clean) != len(latestToOldest) {
			cleaned++
			filtered += len(latestToOldest) - len(clean)
		}
		n.Label = append(n.Label, clean...)
	}
	log.Printf("Label cleaning changed %d cells, dropped %d labels", cleaned, filtered)
	return nil
}

func labelRecord(r []string, col map[string]int) (core.LabelRecord, error) {
	rec := core.LabelRecord{
		Label:           r[col["label"]],
		Position:        r[col["position"]],
		DateCreated:     r[col["date_created"]],
		UserName:        r[col["user_name"]],
		UserAffiliation: r[col["user_affiliation"]],
	}
	var err error
	if rec.UserID, err = parseInt(r[col["user_id"]]); err != nil {
		return rec, err
	}
	if rec.SupervoxelID, err = parseInt(r[col["supervoxel_id"]]); err != nil {
		return rec, err
	}
	rec.LabelID, err = parseInt(r[col["label_id"]])
	return rec, err
}

// redundantWith lists the values a label part may not merely repeat.
func redundantWith(n *core.Neuron) []string {
	out := []string{n.NTType, n.Flow, n.SuperClass, n.Class, n.SubClass, n.Hemilineage, n.Side, n.Nerve}
	if catalog.IsNTType(n.NTType) {
		out = append(out, catalog.NTTypeName(n.NTType))
	}
	return out
}

// ---- Step 4: coordinates ----

func (s *Store) loadCoordinates(t Tables) error {
	rows, err := t.rows(catalog.CoordinatesTable)
	if err != nil || rows == nil {
		return err
	}
	col := catalog.CoordinatesTable.Index()
	notFound, invalid := 0, 0
	for _, r := range rows {
		if len(r) != len(col) {
			invalid++
			continue
		}
		rid, err := parseRootID(r[col["root_id"]])
		if err != nil {
			invalid++
			continue
		}
		n, ok := s.neurons[rid]
		if !ok {
			notFound++
			continue
		}
		pos := r[col["position"]]
		vox, err := parseInt(r[col["supervoxel_id"]])
		if err != nil || pos == "" {
			invalid++
			continue
		}
		if !containsInt(n.SupervoxelID, vox) || !contains(n.Position, pos) {
			n.Position = append(n.Position, pos)
			n.SupervoxelID = append(n.SupervoxelID, vox)
		}
	}
	log.Printf("Processed %s coordinate rows: %d ids not found, %d invalid rows",
		humanize.Comma(int64(len(rows))), notFound, invalid)
	return nil
}

// ---- Step 5: connections ----

func (s *Store) loadConnections(t Tables) error {
	rows, err := t.rows(catalog.ConnectionsTable)
	if err != nil || rows == nil {
		return err
	}
	inCells := make(map[int64]*core.IDSet)
	outCells := make(map[int64]*core.IDSet)
	inPils := make(map[int64]map[string]bool)
	outPils := make(map[int64]map[string]bool)
	rejected := make(map[string]int)

	s.connections = make([]core.Connection, 0, len(rows))
	for _, r := range rows {
		c, reason := s.parseConnection(r)
		if reason != "" {
			rejected[reason]++
			continue
		}
		s.connections = append(s.connections, c)
		addPartner(inCells, c.Post, c.Pre)
		addPartner(outCells, c.Pre, c.Post)
		addNeuropil(inPils, c.Post, c.Neuropil)
		addNeuropil(outPils, c.Pre, c.Neuropil)
		s.neurons[c.Post].InputSynapses += c.SynCount
		s.neurons[c.Pre].OutputSynapses += c.SynCount
	}
	for rid, n := range s.neurons {
		n.InputCells = inCells[rid].Len()
		n.OutputCells = outCells[rid].Len()
		n.InputNeuropils = sortedKeys(inPils[rid])
		n.OutputNeuropils = sortedKeys(outPils[rid])
	}
	log.Printf("Processed %s connection rows, rejected %d", humanize.Comma(int64(len(rows))), sumCounts(rejected))
	logTopCounts("Rejected connection rows", rejected, 10)
	return nil
}

func (s *Store) parseConnection(r []string) (core.Connection, string) {
	if len(r) != len(catalog.ConnectionsTable.Columns) {
		return core.Connection{}, "column count"
	}
	pre, err1 := parseRootID(r[0])
	post, err2 := parseRootID(r[1])
	syn, err3 := strconv.Atoi(strings.TrimSpace(r[3]))
	if err1 != nil || err2 != nil || err3 != nil {
		return core.Connection{}, "unparsable"
	}
	c := core.Connection{
		Pre:      pre,
		Post:     post,
		Neuropil: strings.ToUpper(strings.TrimSpace(r[2])),
		SynCount: syn,
		NTType:   strings.ToUpper(strings.TrimSpace(r[4])),
	}
	switch {
	case !s.Contains(pre) || !s.Contains(post):
		return c, "unknown cell"
	case !catalog.IsNTType(c.NTType):
		return c, "unknown nt type " + c.NTType
	case !s.regions.Has(c.Neuropil):
		return c, "unknown neuropil " + c.Neuropil
	case syn <= 0:
		return c, "non-positive synapse count"
	}
	return c, ""
}

// ---- Step 6: morphology similarity ----

func (s *Store) loadSimilarity(t Tables) error {
	rows, err := t.rows(catalog.NBLASTTable)
	if err != nil || rows == nil {
		return err
	}
	col := catalog.NBLASTTable.Index()
	notFound, invalid, withScores := 0, 0, 0
	for _, r := range rows {
		if len(r) != len(col) {
			invalid++
			continue
		}
		rid, err := parseRootID(r[col["root_id"]])
		if err != nil {
			invalid++
			continue
		}
		n, ok := s.neurons[rid]
		if !ok {
			notFound++
			continue
		}
		scores := r[col["scores"]]
		if scores == "" {
			continue
		}
		for _, pair := range strings.Split(scores, ";") {
			to, score, ok := parseScorePair(pair)
			if !ok {
				invalid++
				continue
			}
			if !s.Contains(to) {
				notFound++
				continue
			}
			if score >= s.opts.MinSimilarityScore {
				n.SimilarCells[to] = score
			}
		}
		if len(n.SimilarCells) > 0 {
			withScores++
		}
	}
	log.Printf("Processed similarity scores: %s cells with similar cells, %d ids not found, %d invalid entries",
		humanize.Comma(int64(withScores)), notFound, invalid)
	return nil
}

func parseScorePair(pair string) (int64, int, bool) {
	rid, score, found := strings.Cut(pair, ":")
	if !found {
		return 0, 0, false
	}
	to, err := parseRootID(rid)
	if err != nil {
		return 0, 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(score))
	if err != nil || v <= 0 || v >= 10 {
		return 0, 0, false
	}
	return to, v, true
}

// ---- Group fallback ----

// assignGroups fills empty groups with "<dominant input region>.<dominant
// output region>", weighting regions by synapse count.
func (s *Store) assignGroups() {
	inWeights := make(map[int64]map[string]int)
	outWeights := make(map[int64]map[string]int)
	for _, c := range s.connections {
		addWeight(inWeights, c.Post, c.Neuropil, c.SynCount)
		addWeight(outWeights, c.Pre, c.Neuropil, c.SynCount)
	}
	assigned := 0
	for _, rid := range s.ids {
		n := s.neurons[rid]
		if n.Group != "" {
			continue
		}
		in := dominant(inWeights[rid])
		if in == "" {
			in = "NO_IN"
		}
		out := dominant(outWeights[rid])
		if out == "" {
			out = "NO_OUT"
		}
		n.Group = in + "." + out
		assigned++
	}
	if assigned > 0 {
		log.Printf("Derived groups for %s cells from dominant regions", humanize.Comma(int64(assigned)))
	}
}

func dominant(weights map[string]int) string {
	best, bestW := "", 0
	for k, w := range weights {
		if w > bestW || (w == bestW && k < best) {
			best, bestW = k, w
		}
	}
	return best
}

// ---- helpers ----

func cell(r []string, col map[string]int, name string) string {
	return textutil.MakeWebSafe(r[col[name]])
}

func parseRootID(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

// parseInt accepts integers and integral floats, as exported by some
// spreadsheet tools. Empty means zero.
func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func splitList(s string) []string {
	if s == "" {
		return []string{}
	}
	out := make([]string, 0, 2)
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func addPartner(m map[int64]*core.IDSet, key, partner int64) {
	set, ok := m[key]
	if !ok {
		set = core.NewIDSet()
		m[key] = set
	}
	set.Add(partner)
}

func addNeuropil(m map[int64]map[string]bool, key int64, pil string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]bool)
		m[key] = set
	}
	set[pil] = true
}

func addWeight(m map[int64]map[string]int, key int64, pil string, w int) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]int)
		m[key] = set
	}
	set[pil] += w
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
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

func containsInt(list []int64, v int64) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func sumCounts(m map[string]int) int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}

func logTopCounts(title string, m map[string]int, top int) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > top {
		keys = keys[:top]
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%q=%d", k, m[k])
	}
	log.Printf("%s: %s", title, strings.Join(parts, ", "))
}
