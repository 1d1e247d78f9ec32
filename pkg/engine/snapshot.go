package engine

import (
	"fmt"
	"log"
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/neurocodex/codexdb/pkg/core"
)

// Snapshot is the serializable state of a built store. The search index
// and memo tables are derived and not part of it.
type Snapshot struct {
	// Attributes is the neuron schema the records were built with.
	Attributes      []string                     `msgpack:"attributes"`
	Neurons         []*core.Neuron               `msgpack:"neurons"`
	Connections     []core.Connection            `msgpack:"connections"`
	LabelData       map[int64][]core.LabelRecord `msgpack:"label_data"`
	LabelsTimestamp string                       `msgpack:"labels_timestamp"`
	Grouped         []GroupedCountRow            `msgpack:"grouped"`
}

// SchemaAttributes lists the attribute names of core.NeuronSchema.
func SchemaAttributes() []string {
	out := make([]string, len(core.NeuronSchema))
	for i, a := range core.NeuronSchema {
		out[i] = a.Name
	}
	return out
}

// Snapshot captures the store. The result shares records with the store
// and must be treated as read-only.
func (s *Store) Snapshot() *Snapshot {
	neurons := make([]*core.Neuron, len(s.ids))
	for i, rid := range s.ids {
		neurons[i] = s.neurons[rid]
	}
	return &Snapshot{
		Attributes:      SchemaAttributes(),
		Neurons:         neurons,
		Connections:     s.connections,
		LabelData:       s.labelData,
		LabelsTimestamp: s.labelsTimestamp,
		Grouped:         s.grouped.Rows(),
	}
}

// Restore materializes a store from a snapshot without rerunning the load
// pipeline. A snapshot built under a different attribute schema is
// rejected with core.ErrSnapshotSchemaMismatch.
func Restore(snap *Snapshot, opts Options) (*Store, error) {
	if !slices.Equal(snap.Attributes, SchemaAttributes()) {
		return nil, fmt.Errorf("%w: snapshot has %v", core.ErrSnapshotSchemaMismatch, snap.Attributes)
	}
	s := newStore(opts)
	for _, n := range snap.Neurons {
		if n == nil {
			return nil, fmt.Errorf("%w: nil neuron record", core.ErrSnapshotCorrupt)
		}
		if _, dup := s.neurons[n.RootID]; dup {
			return nil, fmt.Errorf("%w: %w: %d", core.ErrSnapshotCorrupt, core.ErrDuplicateRootID, n.RootID)
		}
		n.Normalize()
		s.neurons[n.RootID] = n
		s.ids = append(s.ids, n.RootID)
	}
	for _, c := range snap.Connections {
		if !s.Contains(c.Pre) || !s.Contains(c.Post) {
			return nil, fmt.Errorf("%w: connection %d -> %d references unknown cell",
				core.ErrSnapshotCorrupt, c.Pre, c.Post)
		}
	}
	s.connections = snap.Connections
	if snap.LabelData != nil {
		s.labelData = snap.LabelData
	}
	s.labelsTimestamp = snap.LabelsTimestamp
	s.grouped = groupedCountsFromRows(snap.Grouped)
	s.buildIndex()

	log.Printf("Dataset restored from snapshot: %s neurons, %s connections",
		humanize.Comma(int64(len(s.neurons))), humanize.Comma(int64(len(s.connections))))
	return s, nil
}
