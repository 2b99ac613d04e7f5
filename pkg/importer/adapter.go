package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hazyhaar/maestro/pkg/maestro"
	"github.com/hazyhaar/maestro/pkg/resolver"
)

// Request carries what an adapter needs for one import.
type Request struct {
	// Input overrides the adapter's default input (local path or http(s) URL).
	Input string
	// OutputDir receives the re-keyed dataset.
	OutputDir string
	// Maestros provides the reference tables; published entity tables are
	// written under its directory.
	Maestros *maestro.Registry
	Logger   *slog.Logger
}

func (r Request) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Report describes a successful import.
type Report struct {
	Adapter string         `json:"adapter"`
	Input   string         `json:"input"`
	Outputs []string       `json:"outputs"`
	Stats   resolver.Stats `json:"stats"`
}

// Adapter imports one source dataset: it reads the raw file, resolves its
// entities against the maestros and writes the re-keyed dataset.
type Adapter interface {
	// ID returns the unique identifier of this adapter (e.g. "caida-de-hojas").
	ID() string
	// Description returns a human-readable description.
	Description() string
	// DefaultInput returns the input used for seeding the ledger.
	DefaultInput() string
	// Import runs the import. Nothing is written when it fails.
	Import(ctx context.Context, req Request) (*Report, error)
}

// ErrUnknownAdapter is returned by Get for unregistered ids.
var ErrUnknownAdapter = errors.New("unknown import source")

var (
	registryMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// Register adds an adapter to the global registry, replacing any adapter
// with the same ID.
func Register(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	adapters[a.ID()] = a
}

// Get returns a registered adapter by ID, or an error if not found.
func Get(id string) (Adapter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, id)
	}
	return a, nil
}

// All returns all registered adapters sorted by ID.
func All() []Adapter {
	registryMu.RLock()
	defer registryMu.RUnlock()
	result := make([]Adapter, 0, len(adapters))
	for _, a := range adapters {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// Ordered returns adapters with every attach job moved after the adapters
// that publish entity tables. Relative order is otherwise kept.
func Ordered(list []Adapter) []Adapter {
	out := make([]Adapter, 0, len(list))
	var attach []Adapter
	for _, a := range list {
		if j, ok := a.(*Job); ok && j.Mode == ModeAttach {
			attach = append(attach, a)
			continue
		}
		out = append(out, a)
	}
	return append(out, attach...)
}
