package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/neurocodex/codexdb/pkg/catalog"
	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/engine"
	"github.com/neurocodex/codexdb/pkg/internal/fixture"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeFixtureTables(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, WriteTables(dir, engine.Tables{Rows: fixture.Rows()}))
	return dir
}

func TestReadTablesRoundTrip(t *testing.T) {
	dir := writeFixtureTables(t)

	tables, err := ReadTables(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, fixture.Rows(), tables.Rows)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, tables.LabelsTimestamp)
}

func TestReadTablesSkipsOptionalTables(t *testing.T) {
	dir := writeFixtureTables(t)
	require.NoError(t, os.Remove(filepath.Join(dir, catalog.LabelsTable.File)))
	require.NoError(t, os.Remove(filepath.Join(dir, catalog.NBLASTTable.File)))

	tables, err := ReadTables(context.Background(), dir)
	require.NoError(t, err)
	assert.NotContains(t, tables.Rows, "labels")
	assert.Equal(t, "?", tables.LabelsTimestamp)
	assert.Contains(t, tables.Rows, "neurons")
}

func TestReadTablesRejectsHeader(t *testing.T) {
	dir := t.TempDir()
	rows := fixture.Rows()
	rows["connections"][0] = []string{"pre", "post", "neuropil", "syn_count", "nt_type"}
	require.NoError(t, WriteTables(dir, engine.Tables{Rows: rows}))

	_, err := ReadTables(context.Background(), dir)
	assert.ErrorIs(t, err, core.ErrTableSchemaMismatch)
}

func TestReadTablesPlainCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "neurons.csv")
	content := "root_id,group\n1,x\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := readTable(context.Background(), path, catalog.NeuronsTable)
	assert.ErrorIs(t, err, core.ErrTableSchemaMismatch)
}

func TestLoadDatasetFromTables(t *testing.T) {
	dir := writeFixtureTables(t)
	store := NewStore(true)

	ds, err := store.LoadDataset(context.Background(), dir, true, engine.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, len(fixture.IDs), ds.NumCells())
	assert.Equal(t, fixture.NumSynapses, ds.NumSynapses())
	assert.EqualValues(t, 1, store.Stats()["table_builds"])
}

func TestSnapshotSaveAndRestore(t *testing.T) {
	dir := writeFixtureTables(t)
	store := NewStore(true)

	built, err := store.LoadDataset(context.Background(), dir, false, engine.DefaultOptions())
	require.NoError(t, err)
	header, err := store.SaveSnapshot(dir, built)
	require.NoError(t, err)
	assert.True(t, store.HasSnapshot(dir))

	_, err = os.Stat(store.SnapshotPath(dir) + ".tmp")
	assert.True(t, os.IsNotExist(err))

	verified, err := store.VerifySnapshot(dir)
	require.NoError(t, err)
	assert.Equal(t, header.Build(), verified.Build())

	restored, err := store.LoadDataset(context.Background(), dir, true, engine.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, built.IDs(), restored.IDs())
	assert.Equal(t, built.LabelsTimestamp(), restored.LabelsTimestamp())
	for _, q := range []string{"dsx", "side == right"} {
		want, err := built.Search(q, false, false)
		require.NoError(t, err)
		got, err := restored.Search(q, false, false)
		require.NoError(t, err)
		assert.Equal(t, want, got, q)
	}
	assert.EqualValues(t, 1, store.Stats()["snapshot_loads"])
}

func TestLoadDatasetStaleSnapshotIsFatal(t *testing.T) {
	dir := writeFixtureTables(t)
	store := NewStoreWithFsync(false, FsyncPolicyOff)

	built, err := store.LoadDataset(context.Background(), dir, false, engine.DefaultOptions())
	require.NoError(t, err)
	_, err = store.SaveSnapshot(dir, built)
	require.NoError(t, err)

	raw, err := os.ReadFile(store.SnapshotPath(dir))
	require.NoError(t, err)
	raw[8] ^= 0xff
	require.NoError(t, os.WriteFile(store.SnapshotPath(dir), raw, 0o644))

	_, err = store.LoadDataset(context.Background(), dir, true, engine.DefaultOptions())
	assert.ErrorIs(t, err, core.ErrSnapshotSchemaMismatch)

	// tables are still usable when the snapshot is not preferred
	_, err = store.LoadDataset(context.Background(), dir, false, engine.DefaultOptions())
	assert.NoError(t, err)
}

func TestLoadDatasetMissingDirectory(t *testing.T) {
	_, err := NewStore(false).LoadDataset(context.Background(), filepath.Join(t.TempDir(), "nope"), true, engine.DefaultOptions())
	assert.ErrorIs(t, err, core.ErrVersionUnavailable)
}

func TestReadTablesCancelled(t *testing.T) {
	dir := writeFixtureTables(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ReadTables(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}
