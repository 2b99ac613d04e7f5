package resolver

import (
	"encoding/json"
	"strconv"

	"github.com/hazyhaar/maestro/pkg/tabular"
)

// Value is one measure cell: text, a number, or null.
type Value struct {
	Null     bool
	Text     string
	Number   float64
	IsNumber bool
}

// String renders the value as an output cell; null is the empty string.
func (v Value) String() string {
	if v.Null {
		return ""
	}
	return v.Text
}

// MarshalJSON encodes null as null and numbers as JSON numbers.
func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.Null:
		return []byte("null"), nil
	case v.IsNumber:
		return json.Marshal(v.Number)
	default:
		return json.Marshal(v.Text)
	}
}

// Entity is one deduplicated combination of natural keys.
type Entity struct {
	ID int `json:"id"`
	// Keys is the normalized, reconciled tuple, one value per dimension.
	Keys []string `json:"keys"`
	// ForeignKeys holds the resolved surrogate id per dimension; nil for
	// unreferenced dimensions and lookup misses.
	ForeignKeys []*int64 `json:"foreign_keys"`
}

// Record is one source row re-keyed to its entity.
type Record struct {
	// Row is the zero-based position of the row in the input frame.
	Row int `json:"row"`
	// EntityID is never nil after Resolve; Attach leaves it nil when the
	// record matches no published entity.
	EntityID *int    `json:"entity_id"`
	Values   []Value `json:"values"`
}

// Stats summarizes a run for review.
type Stats struct {
	Records  int `json:"records"`
	Entities int `json:"entities"`
	// Unresolved lists, per dimension, the sorted distinct normalized values
	// missing from the dimension's reference table.
	Unresolved map[string][]string `json:"unresolved,omitempty"`
	// InvalidMeasures counts number cells that failed to parse, per output column.
	InvalidMeasures map[string]int `json:"invalid_measures,omitempty"`
	// Unmatched counts records Attach could not map to an entity.
	Unmatched int `json:"unmatched,omitempty"`
}

// UnresolvedCount returns the number of distinct unresolved values over all dimensions.
func (s Stats) UnresolvedCount() int {
	n := 0
	for _, vals := range s.Unresolved {
		n += len(vals)
	}
	return n
}

// Result is the output of one resolution.
type Result struct {
	cfg      Config
	Entities []Entity `json:"entities"`
	Records  []Record `json:"records"`
	Stats    Stats    `json:"stats"`
}

// EntityFrame renders the entity output: the entity id column, then one
// column per dimension holding its foreign key or, for unreferenced
// dimensions, its normalized natural key.
func (r *Result) EntityFrame() *tabular.Frame {
	cols := []string{r.cfg.EntityColumn}
	for _, d := range r.cfg.Dimensions {
		cols = append(cols, d.Column())
	}
	f := tabular.NewFrame(cols...)
	for _, e := range r.Entities {
		row := []string{strconv.Itoa(e.ID)}
		for i, d := range r.cfg.Dimensions {
			if d.Reference == "" {
				row = append(row, e.Keys[i])
				continue
			}
			row = append(row, formatID(e.ForeignKeys[i]))
		}
		f.Append(row...)
	}
	return f
}

// RecordFrame renders the re-keyed records: the entity id column followed
// by the renamed measures. Null cells are empty.
func (r *Result) RecordFrame() *tabular.Frame {
	cols := []string{r.cfg.EntityColumn}
	for _, m := range r.cfg.Measures {
		cols = append(cols, m.Output)
	}
	f := tabular.NewFrame(cols...)
	for _, rec := range r.Records {
		row := make([]string, 0, len(cols))
		if rec.EntityID == nil {
			row = append(row, "")
		} else {
			row = append(row, strconv.Itoa(*rec.EntityID))
		}
		for _, v := range rec.Values {
			row = append(row, v.String())
		}
		f.Append(row...)
	}
	return f
}

func formatID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
