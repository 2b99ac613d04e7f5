package resolver

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/maestro/pkg/maestro"
	"github.com/hazyhaar/maestro/pkg/tabular"
)

// EntityIndex maps the entity-column tuple of a published entity table back
// to its entity id.
type EntityIndex struct {
	ids map[string]int
}

// Len returns the number of indexed entities.
func (x *EntityIndex) Len() int {
	return len(x.ids)
}

// LoadEntityIndex indexes an entity table previously written by
// Result.EntityFrame under cfg. Foreign-key cells are compared as integers,
// raw key cells after the dimension's normalization; an empty cell matches
// only an empty cell.
func LoadEntityIndex(frame *tabular.Frame, cfg Config) (*EntityIndex, error) {
	r, err := New(cfg)
	if err != nil {
		return nil, err
	}

	entityCol := frame.Index(r.cfg.EntityColumn)
	if entityCol < 0 {
		return nil, fmt.Errorf("%w: %s in entity table", ErrMissingColumn, r.cfg.EntityColumn)
	}
	cols := make([]int, len(r.dims))
	for i, d := range r.dims {
		cols[i] = entityColumn(frame, d.Dimension)
		if cols[i] < 0 {
			return nil, fmt.Errorf("%w: %s in entity table", ErrMissingColumn, d.Column())
		}
	}

	x := &EntityIndex{ids: make(map[string]int, frame.Len())}
	for n, row := range frame.Rows {
		id, err := maestro.ParseID(row[entityCol])
		if err != nil {
			return nil, fmt.Errorf("entity table row %d: %w", n+1, err)
		}
		parts := make([]string, len(r.dims))
		for i, d := range r.dims {
			cell := row[cols[i]]
			if d.Reference == "" {
				parts[i] = r.Normalize(i, cell)
				continue
			}
			parts[i], err = canonicalID(cell)
			if err != nil {
				return nil, fmt.Errorf("entity table row %d, column %s: %w", n+1, d.Column(), err)
			}
		}
		tk := tupleKey(parts)
		if prev, dup := x.ids[tk]; dup {
			return nil, fmt.Errorf("%w: entities %d and %d share (%s)", ErrIntegrity, prev, id, strings.Join(parts, ", "))
		}
		x.ids[tk] = int(id)
	}
	return x, nil
}

// entityColumn finds the column of a dimension in a published entity table.
func entityColumn(frame *tabular.Frame, d Dimension) int {
	for _, name := range []string{d.Column(), d.Name, d.Source} {
		if idx := frame.Index(name); idx >= 0 {
			return idx
		}
	}
	return -1
}

func canonicalID(cell string) (string, error) {
	if strings.TrimSpace(cell) == "" {
		return "", nil
	}
	id, err := maestro.ParseID(cell)
	if err != nil {
		return "", err
	}
	return formatID(&id), nil
}

// Attach re-keys frame against a published entity table instead of
// creating entities. Each row's natural keys are normalized and resolved
// exactly as in Resolve; the resulting tuple is looked up in index. A row
// matching no entity keeps a nil EntityID and is counted in Stats.Unmatched.
func (r *Resolver) Attach(frame *tabular.Frame, refs map[string]Reference, index *EntityIndex) (*Result, error) {
	if index == nil {
		return nil, fmt.Errorf("attach: nil entity index")
	}
	cols, err := r.bind(frame, refs)
	if err != nil {
		return nil, err
	}

	st := newStatsBuilder()
	res := &Result{cfg: r.cfg, Records: make([]Record, 0, len(frame.Rows))}
	for i, row := range frame.Rows {
		keys := r.keys(row, cols)
		fks := r.foreignKeys(keys, refs, st)

		parts := make([]string, len(r.dims))
		for n, d := range r.dims {
			if d.Reference == "" {
				parts[n] = keys[n]
				continue
			}
			parts[n] = formatID(fks[n])
		}

		rec := Record{Row: i, Values: r.values(row, cols, st)}
		if id, ok := index.ids[tupleKey(parts)]; ok {
			rec.EntityID = &id
		} else {
			st.unmatched++
		}
		res.Records = append(res.Records, rec)
	}

	res.Stats = st.build(len(res.Records), 0)
	return res, nil
}
