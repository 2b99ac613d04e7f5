// Package resolver maps raw records with free-text identifying fields to
// deduplicated entities with dense surrogate ids, resolves each entity's
// natural keys against maestro reference tables, and re-keys the records.
package resolver

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/maestro/pkg/maestro"
	"github.com/hazyhaar/maestro/pkg/tabular"
)

var (
	// ErrMissingColumn is an input shape error: a declared column is absent.
	ErrMissingColumn = errors.New("missing column")
	// ErrUnknownReference is returned when a dimension names a reference table that was not supplied.
	ErrUnknownReference = errors.New("unknown reference table")
	// ErrIntegrity is returned when a record does not join back to exactly one entity.
	ErrIntegrity = errors.New("integrity violation")
)

// Reference maps a normalized natural key to its surrogate id.
// Implementations must not be mutated while a resolution runs.
type Reference interface {
	Lookup(key string) (int64, bool)
}

// StaticReference is an in-memory Reference with exact-match lookup.
type StaticReference map[string]int64

// Lookup implements Reference.
func (s StaticReference) Lookup(key string) (int64, bool) {
	id, ok := s[key]
	return id, ok
}

// References widens a typed map (e.g. from maestro.Registry.References) to Reference values.
func References[T Reference](m map[string]T) map[string]Reference {
	out := make(map[string]Reference, len(m))
	for id, ref := range m {
		out[id] = ref
	}
	return out
}

type dimension struct {
	Dimension
	normalize maestro.Normalizer
	spelling  *maestro.Spelling
}

// Resolver runs the resolution for one dataset configuration.
// It holds no per-run state and may be reused.
type Resolver struct {
	cfg  Config
	dims []dimension
}

// New validates cfg and compiles its normalizers and spelling tables.
func New(cfg Config) (*Resolver, error) {
	full, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	r := &Resolver{cfg: full}
	for _, d := range full.Dimensions {
		norm := maestro.GetNormalizer(d.Normalize)
		sp, err := maestro.CompileSpelling(d.Spelling, d.Rules, norm)
		if err != nil {
			return nil, fmt.Errorf("config: dimension %s: %w", d.Name, err)
		}
		r.dims = append(r.dims, dimension{Dimension: d, normalize: norm, spelling: sp})
	}
	return r, nil
}

// Config returns the configuration with defaults applied.
func (r *Resolver) Config() Config {
	return r.cfg
}

// Normalize canonicalizes one raw value of dimension dim: normalization
// first, then spelling reconciliation.
func (r *Resolver) Normalize(dim int, raw string) string {
	d := r.dims[dim]
	return d.spelling.Apply(d.normalize(raw))
}

// columns holds the frame positions of every declared column.
type columns struct {
	dims     []int
	measures []int
}

// bind locates every declared column in frame and checks that each
// referenced maestro was supplied. Nothing is resolved when bind fails.
func (r *Resolver) bind(frame *tabular.Frame, refs map[string]Reference) (columns, error) {
	var cols columns
	var missing []string
	for _, d := range r.dims {
		idx := frame.Index(d.Source)
		if idx < 0 {
			missing = append(missing, d.Source)
		}
		cols.dims = append(cols.dims, idx)
	}
	for _, m := range r.cfg.Measures {
		idx := frame.Index(m.Source)
		if idx < 0 {
			missing = append(missing, m.Source)
		}
		cols.measures = append(cols.measures, idx)
	}
	if len(missing) > 0 {
		return columns{}, fmt.Errorf("%w: %s (have %v)", ErrMissingColumn, strings.Join(missing, ", "), frame.Columns)
	}

	for _, d := range r.dims {
		if d.Reference == "" {
			continue
		}
		if ref, ok := refs[d.Reference]; !ok || ref == nil {
			return columns{}, fmt.Errorf("%w: %q for dimension %s", ErrUnknownReference, d.Reference, d.Name)
		}
	}
	return cols, nil
}

func (r *Resolver) keys(row []string, cols columns) []string {
	keys := make([]string, len(r.dims))
	for i, idx := range cols.dims {
		keys[i] = r.Normalize(i, row[idx])
	}
	return keys
}

// foreignKeys resolves keys against their reference tables. A miss is a
// null foreign key, recorded in stats for review.
func (r *Resolver) foreignKeys(keys []string, refs map[string]Reference, st *statsBuilder) []*int64 {
	fks := make([]*int64, len(r.dims))
	for i, d := range r.dims {
		if d.Reference == "" {
			continue
		}
		if id, ok := refs[d.Reference].Lookup(keys[i]); ok {
			fks[i] = &id
			continue
		}
		st.unresolved(d.Name, keys[i])
	}
	return fks
}

func (r *Resolver) values(row []string, cols columns, st *statsBuilder) []Value {
	vals := make([]Value, len(r.cfg.Measures))
	for i, m := range r.cfg.Measures {
		raw := strings.TrimSpace(row[cols.measures[i]])
		v, ok := coerce(m.Kind, raw)
		if !ok {
			st.invalid(m.Output)
		}
		vals[i] = v
	}
	return vals
}

// Resolve deduplicates frame into entities and re-keys every row.
// Entity ids are dense, zero-based and follow first appearance, so identical
// input in identical order always yields identical ids.
func (r *Resolver) Resolve(frame *tabular.Frame, refs map[string]Reference) (*Result, error) {
	cols, err := r.bind(frame, refs)
	if err != nil {
		return nil, err
	}

	st := newStatsBuilder()
	res := &Result{cfg: r.cfg}
	index := make(map[string]int)

	for _, row := range frame.Rows {
		keys := r.keys(row, cols)
		tk := tupleKey(keys)
		if _, seen := index[tk]; seen {
			continue
		}
		id := len(res.Entities)
		index[tk] = id
		res.Entities = append(res.Entities, Entity{
			ID:          id,
			Keys:        keys,
			ForeignKeys: r.foreignKeys(keys, refs, st),
		})
	}

	res.Records = make([]Record, 0, len(frame.Rows))
	for i, row := range frame.Rows {
		keys := r.keys(row, cols)
		id, ok := index[tupleKey(keys)]
		if !ok || !slicesEqual(res.Entities[id].Keys, keys) {
			return nil, fmt.Errorf("%w: row %d (%s) matches no entity", ErrIntegrity, i+1, strings.Join(keys, ", "))
		}
		res.Records = append(res.Records, Record{
			Row:      i,
			EntityID: &id,
			Values:   r.values(row, cols, st),
		})
	}

	res.Stats = st.build(len(res.Records), len(res.Entities))
	return res, nil
}

// tupleKey encodes a key tuple unambiguously: every part is length-prefixed.
func tupleKey(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// coerce converts a trimmed cell to a Value. Empty cells are null; number
// cells that do not parse to a finite float are null and reported as invalid.
func coerce(kind, raw string) (Value, bool) {
	if raw == "" {
		return Value{Null: true}, true
	}
	if kind != KindNumber {
		return Value{Text: raw}, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{Null: true}, false
	}
	return Value{Text: strconv.FormatFloat(f, 'f', -1, 64), Number: f, IsNumber: true}, true
}

type statsBuilder struct {
	unresolvedVals map[string]map[string]bool
	invalidCells   map[string]int
	unmatched      int
}

func newStatsBuilder() *statsBuilder {
	return &statsBuilder{
		unresolvedVals: make(map[string]map[string]bool),
		invalidCells:   make(map[string]int),
	}
}

func (s *statsBuilder) unresolved(dim, value string) {
	if s.unresolvedVals[dim] == nil {
		s.unresolvedVals[dim] = make(map[string]bool)
	}
	s.unresolvedVals[dim][value] = true
}

func (s *statsBuilder) invalid(column string) {
	s.invalidCells[column]++
}

func (s *statsBuilder) build(records, entities int) Stats {
	st := Stats{
		Records:         records,
		Entities:        entities,
		Unmatched:       s.unmatched,
		Unresolved:      make(map[string][]string, len(s.unresolvedVals)),
		InvalidMeasures: s.invalidCells,
	}
	for dim, set := range s.unresolvedVals {
		vals := make([]string, 0, len(set))
		for v := range set {
			vals = append(vals, v)
		}
		sort.Strings(vals)
		st.Unresolved[dim] = vals
	}
	return st
}
