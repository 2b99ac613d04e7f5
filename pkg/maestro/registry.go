package maestro

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrUnknownMaestro is returned for ids that are not loaded.
var ErrUnknownMaestro = errors.New("unknown maestro")

// Registry holds every maestro loaded from a directory and serves lookups.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*Table
	dir    string
}

// NewRegistry creates a new empty registry for the given directory.
func NewRegistry(dir string) *Registry {
	return &Registry{
		tables: make(map[string]*Table),
		dir:    dir,
	}
}

// Load scans the maestros directory and loads every table. The swap is
// atomic: a failed load leaves the previous tables in place.
func (r *Registry) Load() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read maestros dir %s: %w", r.dir, err)
	}

	tables := make(map[string]*Table)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(r.dir, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, "manifest.yaml")); err != nil {
			continue
		}
		t, err := LoadTable(dir)
		if err != nil {
			return fmt.Errorf("load maestro %s: %w", entry.Name(), err)
		}
		if _, dup := tables[t.Manifest.ID]; dup {
			return fmt.Errorf("duplicate maestro id %q in %s", t.Manifest.ID, dir)
		}
		tables[t.Manifest.ID] = t
	}

	r.mu.Lock()
	r.tables = tables
	r.mu.Unlock()
	return nil
}

// Reload reloads all maestros from disk (hot reload).
func (r *Registry) Reload() error {
	return r.Load()
}

// Dir returns the directory the registry loads from.
func (r *Registry) Dir() string {
	return r.dir
}

// Get returns a loaded maestro by id.
func (r *Registry) Get(id string) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[id]
	return t, ok
}

// References returns a snapshot of the reference maestros keyed by id.
// Tables are immutable, so the snapshot stays valid across reloads.
func (r *Registry) References() map[string]*Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make(map[string]*Table, len(r.tables))
	for id, t := range r.tables {
		if t.Manifest.Kind == KindReference {
			refs[id] = t
		}
	}
	return refs
}

// DataPath returns the data file path of a loaded maestro.
func (r *Registry) DataPath(id string) (string, error) {
	t, ok := r.Get(id)
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownMaestro, id)
	}
	return t.DataPath(), nil
}

// LookupResult is the response for a single key lookup.
type LookupResult struct {
	Maestro    string `json:"maestro"`
	Key        string `json:"key"`
	Normalized string `json:"normalized"`
	ID         *int64 `json:"id"`
	Found      bool   `json:"found"`
}

// Lookup resolves key against one reference maestro.
func (r *Registry) Lookup(maestroID, key string) (*LookupResult, error) {
	t, ok := r.Get(maestroID)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownMaestro, maestroID)
	}
	if t.Manifest.Kind != KindReference {
		return nil, fmt.Errorf("maestro %s: %w", maestroID, ErrEntityTable)
	}
	res := &LookupResult{
		Maestro:    maestroID,
		Key:        key,
		Normalized: t.NormalizeKey(key),
	}
	if id, ok := t.Lookup(key); ok {
		res.ID = &id
		res.Found = true
	}
	return res, nil
}

// Info is the public metadata for a loaded maestro.
type Info struct {
	ID        string `json:"id"`
	Version   string `json:"version"`
	Dimension string `json:"dimension,omitempty"`
	Kind      string `json:"kind"`
	Source    string `json:"source"`
	Entries   int    `json:"entries"`
}

// List returns metadata for all loaded maestros, sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.tables))
	for _, t := range r.tables {
		infos = append(infos, Info{
			ID:        t.Manifest.ID,
			Version:   t.Manifest.Version,
			Dimension: t.Manifest.Dimension,
			Kind:      t.Manifest.Kind,
			Source:    t.Manifest.Source,
			Entries:   t.Len(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Count returns the number of loaded maestros.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables)
}

// TotalEntries returns the total number of keys across all maestros.
func (r *Registry) TotalEntries() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, t := range r.tables {
		total += t.Len()
	}
	return total
}
