package concurrency

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/engine"
	"github.com/neurocodex/codexdb/pkg/internal/fixture"
	"github.com/neurocodex/codexdb/pkg/persistence"
	"github.com/neurocodex/codexdb/pkg/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// setupTestPool lays out one version "783" holding the fixture tables.
func setupTestPool(t *testing.T) *DatasetPool {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, persistence.WriteTables(filepath.Join(root, "783"), engine.Tables{Rows: fixture.Rows()}))

	reg, err := registry.NewStore(root, "versions.yaml")
	require.NoError(t, err)
	return NewDatasetPool(reg, persistence.NewStore(false), core.DefaultConfig())
}

func TestDatasetPoolGetLoadsFromDisk(t *testing.T) {
	pool := setupTestPool(t)

	ds, version, err := pool.Get(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "783", version)
	assert.Equal(t, fixture.NumSynapses, ds.NumSynapses())

	again, _, err := pool.Get(context.Background(), "783")
	require.NoError(t, err)
	assert.Same(t, ds, again)
	assert.Equal(t, []string{"783"}, pool.Loaded())
	assert.EqualValues(t, 1, pool.Stats()["cache_hits"])
}

func TestDatasetPoolUnknownVersion(t *testing.T) {
	pool := setupTestPool(t)

	_, _, err := pool.Get(context.Background(), "999")
	assert.True(t, errors.Is(err, core.ErrVersionUnavailable))
	assert.Zero(t, pool.ActiveCount())
}

func TestDatasetPoolSingleLoadPerVersion(t *testing.T) {
	pool := setupTestPool(t)

	var calls atomic.Int32
	release := make(chan struct{})
	orig := pool.load
	pool.load = func(ctx context.Context, e *registry.Entry) (*engine.Store, error) {
		calls.Add(1)
		<-release
		return orig(ctx, e)
	}

	const n = 16
	results := make([]*engine.Store, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ds, _, err := pool.Get(context.Background(), "783")
			assert.NoError(t, err)
			results[i] = ds
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, ds := range results {
		assert.Same(t, results[0], ds)
	}
}

func TestDatasetPoolFailedLoadIsRetried(t *testing.T) {
	pool := setupTestPool(t)

	var calls atomic.Int32
	orig := pool.load
	pool.load = func(ctx context.Context, e *registry.Entry) (*engine.Store, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("disk on fire")
		}
		return orig(ctx, e)
	}

	_, _, err := pool.Get(context.Background(), "783")
	require.Error(t, err)
	assert.False(t, pool.IsLoaded("783"))

	_, _, err = pool.Get(context.Background(), "783")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 1, pool.Stats()["total_failed"])
}

func TestDatasetPoolCancelledWait(t *testing.T) {
	pool := setupTestPool(t)

	release := make(chan struct{})
	done := make(chan struct{})
	pool.load = func(ctx context.Context, e *registry.Entry) (*engine.Store, error) {
		defer close(done)
		<-release
		return nil, errors.New("never used")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := pool.Get(ctx, "783")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
}

func TestDatasetPoolEvict(t *testing.T) {
	pool := setupTestPool(t)

	first, _, err := pool.Get(context.Background(), "783")
	require.NoError(t, err)
	assert.True(t, pool.Evict("783"))
	assert.False(t, pool.Evict("783"))

	second, _, err := pool.Get(context.Background(), "783")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestDatasetPoolRegionOverride(t *testing.T) {
	pool := setupTestPool(t)
	e, ok := pool.Registry().Get("783")
	require.True(t, ok)
	require.NoError(t, os.WriteFile(filepath.Join(pool.Registry().Dir(e), registry.RegionsFile),
		[]byte("not: [valid"), 0o644))

	_, _, err := pool.Get(context.Background(), "783")
	assert.Error(t, err)
}
