package resolver

import (
	"fmt"

	"github.com/hazyhaar/maestro/pkg/maestro"
)

// Measure kinds.
const (
	KindText   = "text"
	KindNumber = "number"
)

// DefaultEntityColumn names the surrogate id column of both outputs.
const DefaultEntityColumn = "entidad_id"

// Dimension is one identifying field of a raw record.
type Dimension struct {
	// Name is the canonical dimension name, e.g. "zona".
	Name string `yaml:"name" json:"name"`
	// Source is the input column; defaults to Name.
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
	// Reference is the id of the maestro resolving this dimension; empty
	// keeps the raw natural key in the entity output.
	Reference string `yaml:"reference,omitempty" json:"reference,omitempty"`
	// ForeignKey is the entity output column of referenced dimensions; defaults to Name+"_id".
	ForeignKey string `yaml:"foreign_key,omitempty" json:"foreign_key,omitempty"`
	// Output is the entity output column of unreferenced dimensions; defaults to Name.
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
	// Normalize is a maestro normalizer mode; defaults to lowercase.
	Normalize string `yaml:"normalize,omitempty" json:"normalize,omitempty"`
	// Spelling maps normalized alternate spellings to their canonical value.
	Spelling map[string]string `yaml:"spelling,omitempty" json:"spelling,omitempty"`
	// Rules are regex reconciliations tried after Spelling.
	Rules []maestro.RuleSpec `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// Column returns the entity output column of the dimension.
func (d Dimension) Column() string {
	if d.Reference != "" {
		return d.ForeignKey
	}
	return d.Output
}

// Measure is a measurement field carried into the re-keyed records.
type Measure struct {
	Source string `yaml:"source" json:"source"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
	Kind   string `yaml:"kind,omitempty" json:"kind,omitempty"`
}

// Config declares the identifying dimensions and the measures of a dataset.
type Config struct {
	EntityColumn string      `yaml:"entity_column,omitempty" json:"entity_column,omitempty"`
	Dimensions   []Dimension `yaml:"dimensions" json:"dimensions"`
	Measures     []Measure   `yaml:"measures" json:"measures"`
}

// withDefaults fills every optional field and validates the result.
func (c Config) withDefaults() (Config, error) {
	out := Config{EntityColumn: c.EntityColumn}
	if out.EntityColumn == "" {
		out.EntityColumn = DefaultEntityColumn
	}
	if len(c.Dimensions) == 0 {
		return Config{}, fmt.Errorf("config: at least one dimension is required")
	}

	names := make(map[string]bool)
	entityCols := map[string]bool{out.EntityColumn: true}
	for _, d := range c.Dimensions {
		if d.Name == "" {
			return Config{}, fmt.Errorf("config: dimension without name")
		}
		if names[d.Name] {
			return Config{}, fmt.Errorf("config: duplicate dimension %q", d.Name)
		}
		names[d.Name] = true

		if d.Source == "" {
			d.Source = d.Name
		}
		if d.ForeignKey == "" {
			d.ForeignKey = d.Name + "_id"
		}
		if d.Output == "" {
			d.Output = d.Name
		}
		if err := maestro.ValidMode(d.Normalize); err != nil {
			return Config{}, fmt.Errorf("config: dimension %s: %w", d.Name, err)
		}
		if entityCols[d.Column()] {
			return Config{}, fmt.Errorf("config: duplicate entity column %q", d.Column())
		}
		entityCols[d.Column()] = true
		out.Dimensions = append(out.Dimensions, d)
	}

	recordCols := map[string]bool{out.EntityColumn: true}
	for _, m := range c.Measures {
		if m.Source == "" {
			return Config{}, fmt.Errorf("config: measure without source")
		}
		if m.Output == "" {
			m.Output = m.Source
		}
		switch m.Kind {
		case "":
			m.Kind = KindText
		case KindText, KindNumber:
		default:
			return Config{}, fmt.Errorf("config: measure %s: unknown kind %q", m.Source, m.Kind)
		}
		if recordCols[m.Output] {
			return Config{}, fmt.Errorf("config: duplicate record column %q", m.Output)
		}
		recordCols[m.Output] = true
		out.Measures = append(out.Measures, m)
	}
	return out, nil
}
