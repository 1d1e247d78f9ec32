package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/internal/fixture"
)

func TestRestoreMatchesBuild(t *testing.T) {
	built := newTestStore(t)
	restored, err := Restore(built.Snapshot(), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, built.IDs(), restored.IDs())
	assert.Equal(t, built.NumSynapses(), restored.NumSynapses())
	assert.Equal(t, built.LabelsTimestamp(), restored.LabelsTimestamp())
	for _, id := range built.IDs() {
		assert.Equal(t, built.Neuron(id).Name, restored.Neuron(id).Name)
	}
	for _, q := range []string{"", "dsx", "side == left", "720575940600000021 -> 720575940600000024"} {
		assert.Equal(t, mustSearch(t, built, q, false, false), mustSearch(t, restored, q, false, false), q)
	}

	want, _ := built.HeatmapCounts("side")
	got, ok := restored.HeatmapCounts("side")
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Len(t, restored.LabelData(fixture.D1), 3)
}

func TestRestoreRejectsOtherSchema(t *testing.T) {
	snap := newTestStore(t).Snapshot()
	attrs := SchemaAttributes()
	snap.Attributes = append(attrs[:len(attrs)-1:len(attrs)-1], "extra_attribute")

	_, err := Restore(snap, DefaultOptions())
	assert.ErrorIs(t, err, core.ErrSnapshotSchemaMismatch)

	snap.Attributes = attrs[1:]
	_, err = Restore(snap, DefaultOptions())
	assert.ErrorIs(t, err, core.ErrSnapshotSchemaMismatch)
}

func TestRestoreRejectsCorruptSnapshots(t *testing.T) {
	t.Run("dangling connection", func(t *testing.T) {
		snap := newTestStore(t).Snapshot()
		snap.Connections = append(append([]core.Connection(nil), snap.Connections...),
			core.Connection{Pre: fixture.D1, Post: fixture.Unknown, Neuropil: "LH_L", SynCount: 5, NTType: "ACH"})
		_, err := Restore(snap, DefaultOptions())
		assert.ErrorIs(t, err, core.ErrSnapshotCorrupt)
	})
	t.Run("duplicate neuron", func(t *testing.T) {
		snap := newTestStore(t).Snapshot()
		snap.Neurons = append(snap.Neurons, snap.Neurons[0])
		_, err := Restore(snap, DefaultOptions())
		assert.ErrorIs(t, err, core.ErrSnapshotCorrupt)
		assert.ErrorIs(t, err, core.ErrDuplicateRootID)
	})
	t.Run("nil neuron", func(t *testing.T) {
		snap := newTestStore(t).Snapshot()
		snap.Neurons = append(snap.Neurons, nil)
		_, err := Restore(snap, DefaultOptions())
		assert.ErrorIs(t, err, core.ErrSnapshotCorrupt)
	})
}
