// Package registry tracks the dataset versions available under a data root.
//
// Versions are declared in a YAML file:
//
//	default: "783"
//	versions:
//	  - id: "783"
//	    description: Materialization version 783
//	  - id: "630"
//	    path: archive/630
//
// Without a versions file every subdirectory of the data root is a version.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/neurocodex/codexdb/pkg/core"
)

// RegionsFile overrides the built-in region table for one version.
const RegionsFile = "regions.yaml"

// Entry is one dataset version.
type Entry struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Path is the version directory, relative to the data root unless
	// absolute. Empty means the id.
	Path         string    `yaml:"path,omitempty" json:"-"`
	RegisteredAt time.Time `yaml:"registeredAt,omitempty" json:"registered_at,omitempty"`
}

type file struct {
	Default  string   `yaml:"default"`
	Versions []*Entry `yaml:"versions"`
}

// Store manages the version list with file-based persistence.
type Store struct {
	root     string
	filePath string

	mu         sync.RWMutex
	entries    map[string]*Entry
	defaultID  string
	discovered bool
}

// NewStore loads the registry of root. versionsFile is relative to root
// unless absolute.
func NewStore(root, versionsFile string) (*Store, error) {
	if !filepath.IsAbs(versionsFile) {
		versionsFile = filepath.Join(root, versionsFile)
	}
	s := &Store{
		root:     root,
		filePath: versionsFile,
		entries:  make(map[string]*Entry),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return s, nil
}

// Get returns a version by id.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	return entry, ok
}

// Exists checks if a version is registered.
func (s *Store) Exists(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Resolve maps a requested version to its entry; "" means the default. An
// unknown version fails with core.ErrVersionUnavailable.
func (s *Store) Resolve(id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id == "" {
		id = s.defaultID
	}
	if entry, ok := s.entries[id]; ok {
		return entry, nil
	}
	if id == "" {
		return nil, fmt.Errorf("%w: no versions registered", core.ErrVersionUnavailable)
	}
	return nil, fmt.Errorf("%w: %s", core.ErrVersionUnavailable, id)
}

// Default returns the default version id.
func (s *Store) Default() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultID
}

// SetDefault changes the default version and persists the registry.
func (s *Store) SetDefault(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("%w: %s", core.ErrVersionUnavailable, id)
	}
	prev := s.defaultID
	s.defaultID = id
	if err := s.save(); err != nil {
		s.defaultID = prev
		return fmt.Errorf("failed to persist: %w", err)
	}
	return nil
}

// List returns all versions, newest first.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		result = append(result, entry)
	}
	sortNewestFirst(result)
	return result
}

// Dir returns the data directory of a version.
func (s *Store) Dir(e *Entry) string {
	p := e.Path
	if p == "" {
		p = e.ID
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.root, p)
}

// RegionsPath returns the region override file of a version, or "" when
// the version has none.
func (s *Store) RegionsPath(e *Entry) string {
	p := filepath.Join(s.Dir(e), RegionsFile)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// Register adds a version, or returns the existing one unchanged. The
// first registered version becomes the default.
func (s *Store) Register(id, description string) (*Entry, bool, error) {
	if id == "" {
		return nil, false, errors.New("version id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.entries[id]; exists {
		return entry, false, nil
	}

	entry := &Entry{ID: id, Description: description, RegisteredAt: time.Now().UTC()}
	s.entries[id] = entry
	prevDefault := s.defaultID
	if s.defaultID == "" {
		s.defaultID = id
	}

	if err := s.save(); err != nil {
		delete(s.entries, id)
		s.defaultID = prevDefault
		return nil, false, fmt.Errorf("failed to persist: %w", err)
	}
	return entry, true, nil
}

// Discovered reports whether the versions came from scanning the data root
// because no versions file exists.
func (s *Store) Discovered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discovered
}

// Count returns the number of registered versions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ---- Persistence ----

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return s.discover()
	}
	if err != nil {
		return err
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	for _, entry := range f.Versions {
		if entry == nil || entry.ID == "" {
			return fmt.Errorf("%s: version without id", s.filePath)
		}
		if _, dup := s.entries[entry.ID]; dup {
			return fmt.Errorf("%s: duplicate version %s", s.filePath, entry.ID)
		}
		s.entries[entry.ID] = entry
	}
	s.defaultID = f.Default
	if s.defaultID == "" {
		s.defaultID = newestID(s.entries)
	}
	if _, ok := s.entries[s.defaultID]; s.defaultID != "" && !ok {
		return fmt.Errorf("%s: default version %s is not listed", s.filePath, s.defaultID)
	}
	return nil
}

// discover registers every subdirectory of the root.
func (s *Store) discover() error {
	s.discovered = true
	dirs, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if d.IsDir() {
			s.entries[d.Name()] = &Entry{ID: d.Name()}
		}
	}
	s.defaultID = newestID(s.entries)
	return nil
}

func (s *Store) save() error {
	f := file{Default: s.defaultID, Versions: make([]*Entry, 0, len(s.entries))}
	for _, entry := range s.entries {
		f.Versions = append(f.Versions, entry)
	}
	sortNewestFirst(f.Versions)

	data, err := yaml.Marshal(&f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return err
	}

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.filePath)
}

// sortNewestFirst orders numeric ids numerically descending, then the
// rest lexically descending.
func sortNewestFirst(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return newer(entries[i].ID, entries[j].ID)
	})
}

func newer(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na > nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a > b
}

func newestID(entries map[string]*Entry) string {
	best := ""
	for id := range entries {
		if best == "" || newer(id, best) {
			best = id
		}
	}
	return best
}
