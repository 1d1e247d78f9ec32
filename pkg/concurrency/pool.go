// Package concurrency owns the process-wide set of loaded dataset versions.
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/neurocodex/codexdb/pkg/catalog"
	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/engine"
	"github.com/neurocodex/codexdb/pkg/persistence"
	"github.com/neurocodex/codexdb/pkg/registry"
)

// DatasetPool lazily loads dataset versions and keeps them for the life of
// the process. Concurrent first requests for one version share a single
// load; a failed load is not cached.
type DatasetPool struct {
	registry       *registry.Store
	store          *persistence.Store
	opts           engine.Options
	preferSnapshot bool

	// load materializes one version; replaced in tests.
	load func(ctx context.Context, e *registry.Entry) (*engine.Store, error)

	mu       sync.RWMutex
	datasets map[string]*engine.Store
	group    singleflight.Group

	// Stats
	totalLoaded atomic.Uint64
	totalFailed atomic.Uint64
	totalHits   atomic.Uint64
}

// NewDatasetPool creates a pool over the registered versions.
func NewDatasetPool(reg *registry.Store, store *persistence.Store, cfg *core.Config) *DatasetPool {
	p := &DatasetPool{
		registry:       reg,
		store:          store,
		opts:           engine.OptionsFromConfig(cfg),
		preferSnapshot: cfg.Data.PreferSnapshot,
		datasets:       make(map[string]*engine.Store),
	}
	p.load = p.loadFromDisk
	return p
}

// Registry returns the version registry.
func (p *DatasetPool) Registry() *registry.Store { return p.registry }

// Get returns the dataset for version ("" for the default) together with
// the resolved version id, loading it on first use. Unknown versions fail
// with core.ErrVersionUnavailable. A cancelled ctx stops the wait, not the
// load.
func (p *DatasetPool) Get(ctx context.Context, version string) (*engine.Store, string, error) {
	entry, err := p.registry.Resolve(version)
	if err != nil {
		return nil, "", err
	}

	// Fast path
	p.mu.RLock()
	ds, ok := p.datasets[entry.ID]
	p.mu.RUnlock()
	if ok {
		p.totalHits.Add(1)
		return ds, entry.ID, nil
	}

	ch := p.group.DoChan(entry.ID, func() (any, error) {
		// Double-check after winning the flight
		p.mu.RLock()
		ds, ok := p.datasets[entry.ID]
		p.mu.RUnlock()
		if ok {
			return ds, nil
		}

		start := time.Now()
		ds, err := p.load(context.WithoutCancel(ctx), entry)
		if err != nil {
			p.totalFailed.Add(1)
			log.Printf("Loading version %s failed: %v", entry.ID, err)
			return nil, err
		}

		p.mu.Lock()
		p.datasets[entry.ID] = ds
		p.mu.Unlock()
		p.totalLoaded.Add(1)
		log.Printf("Version %s ready in %s", entry.ID, time.Since(start).Round(time.Millisecond))
		return ds, nil
	})

	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, "", res.Err
		}
		return res.Val.(*engine.Store), entry.ID, nil
	}
}

func (p *DatasetPool) loadFromDisk(ctx context.Context, e *registry.Entry) (*engine.Store, error) {
	opts := p.opts
	if path := p.registry.RegionsPath(e); path != "" {
		regions, err := catalog.LoadRegions(path)
		if err != nil {
			return nil, fmt.Errorf("version %s: %w", e.ID, err)
		}
		opts.Regions = regions
	}
	ds, err := p.store.LoadDataset(ctx, p.registry.Dir(e), p.preferSnapshot, opts)
	if err != nil {
		if errors.Is(err, core.ErrVersionUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("version %s: %w", e.ID, err)
	}
	return ds, nil
}

// Preload loads a version ahead of its first request.
func (p *DatasetPool) Preload(ctx context.Context, version string) error {
	_, _, err := p.Get(ctx, version)
	return err
}

// Loaded returns the ids of loaded versions, sorted.
func (p *DatasetPool) Loaded() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.datasets))
	for id := range p.datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsLoaded reports whether a version is in memory.
func (p *DatasetPool) IsLoaded(version string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.datasets[version]
	return ok
}

// Evict drops a loaded version; the next request loads it again.
func (p *DatasetPool) Evict(version string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.datasets[version]
	delete(p.datasets, version)
	p.group.Forget(version)
	return ok
}

// ActiveCount returns number of loaded versions
func (p *DatasetPool) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.datasets)
}

// Stats returns pool statistics
func (p *DatasetPool) Stats() map[string]any {
	return map[string]any{
		"loaded_versions": p.Loaded(),
		"total_loaded":    p.totalLoaded.Load(),
		"total_failed":    p.totalFailed.Load(),
		"cache_hits":      p.totalHits.Load(),
		"default_version": p.registry.Default(),
	}
}
