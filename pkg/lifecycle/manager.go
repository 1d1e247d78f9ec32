// Package lifecycle tracks request activity per loaded dataset version and
// unloads versions nobody has queried for a while.
package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ActivityState is the lifecycle stage of a dataset version.
type ActivityState int

const (
	StateActive ActivityState = iota
	StateIdle
	StateEvicted
)

func (s ActivityState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateEvicted:
		return "evicted"
	}
	return "unknown"
}

func (s ActivityState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// VersionState is the activity record of one version.
type VersionState struct {
	Version     string        `json:"version"`
	State       ActivityState `json:"state"`
	FirstAccess time.Time     `json:"first_access"`
	LastAccess  time.Time     `json:"last_access"`
	Requests    uint64        `json:"requests"`
	Evictions   int           `json:"evictions"`
}

// Manager moves versions through active -> idle -> evicted as requests
// stop arriving.
type Manager struct {
	states map[string]*VersionState

	// Callbacks
	onIdle  func(version string)
	onEvict func(version string)
	onWake  func(version string)

	// pinned versions are never evicted
	pinned func(version string) bool

	idleThreshold  time.Duration
	evictThreshold time.Duration

	now func() time.Time

	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager. evictAfter 0 disables eviction.
func NewManager(idleAfter, evictAfter time.Duration) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		states:         make(map[string]*VersionState),
		idleThreshold:  idleAfter,
		evictThreshold: evictAfter,
		now:            time.Now,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// SetCallbacks configures transition callbacks. They run on the caller of
// the transition, outside the manager lock.
func (m *Manager) SetCallbacks(onIdle, onEvict, onWake func(string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onIdle = onIdle
	m.onEvict = onEvict
	m.onWake = onWake
}

// SetPinned installs the predicate for versions that must stay loaded.
func (m *Manager) SetPinned(pinned func(string) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned = pinned
}

// RecordActivity records a request against version.
func (m *Manager) RecordActivity(version string) {
	m.mu.Lock()
	now := m.now()
	state, ok := m.states[version]
	if !ok {
		state = &VersionState{Version: version, FirstAccess: now}
		m.states[version] = state
	}
	woke := state.State == StateEvicted
	state.State = StateActive
	state.LastAccess = now
	state.Requests++
	onWake := m.onWake
	m.mu.Unlock()

	if woke && onWake != nil {
		onWake(version)
	}
}

// GetState returns the state of version. Unknown versions report evicted.
func (m *Manager) GetState(version string) ActivityState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.states[version]; ok {
		return state.State
	}
	return StateEvicted
}

// Get returns a copy of the activity record of version.
func (m *Manager) Get(version string) (VersionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.states[version]; ok {
		return *state, true
	}
	return VersionState{}, false
}

// CheckAndTransition evaluates one version and transitions it if needed.
// Returns true if a transition occurred.
func (m *Manager) CheckAndTransition(version string) bool {
	m.mu.Lock()
	state, ok := m.states[version]
	if !ok {
		m.mu.Unlock()
		return false
	}

	elapsed := m.now().Sub(state.LastAccess)
	old := state.State
	var callback func(string)

	switch state.State {
	case StateActive:
		if elapsed > m.idleThreshold {
			state.State = StateIdle
			callback = m.onIdle
		}
	case StateIdle:
		if m.evictThreshold > 0 && elapsed > m.evictThreshold && (m.pinned == nil || !m.pinned(version)) {
			state.State = StateEvicted
			state.Evictions++
			callback = m.onEvict
		}
	}
	changed := state.State != old
	m.mu.Unlock()

	if changed && callback != nil {
		callback(version)
	}
	return changed
}

// StartMonitor checks every version on each tick until Stop.
func (m *Manager) StartMonitor(checkInterval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.checkAll()
			}
		}
	}()
}

func (m *Manager) checkAll() {
	m.mu.RLock()
	versions := make([]string, 0, len(m.states))
	for v := range m.states {
		versions = append(versions, v)
	}
	m.mu.RUnlock()

	for _, v := range versions {
		m.CheckAndTransition(v)
	}
}

// Stop stops the monitor and waits for it to exit.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Stats returns manager statistics
func (m *Manager) Stats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := map[string]int{
		StateActive.String():  0,
		StateIdle.String():    0,
		StateEvicted.String(): 0,
	}
	versions := make([]VersionState, 0, len(m.states))
	for _, state := range m.states {
		counts[state.State.String()]++
		versions = append(versions, *state)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })

	evict := "never"
	if m.evictThreshold > 0 {
		evict = m.evictThreshold.String()
	}
	return map[string]any{
		"state_distribution": counts,
		"versions":           versions,
		"idle_after":         m.idleThreshold.String(),
		"evict_after":        evict,
	}
}
