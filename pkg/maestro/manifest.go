package maestro

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest kinds.
const (
	KindReference = "reference"
	KindEntities  = "entities"
)

// Manifest describes a maestro table: what dimension it keys and how its data file is laid out.
type Manifest struct {
	ID        string     `yaml:"id" json:"id"`
	Version   string     `yaml:"version" json:"version"`
	Dimension string     `yaml:"dimension" json:"dimension"`
	Kind      string     `yaml:"kind" json:"kind"`
	Source    string     `yaml:"source" json:"source"`
	DataFile  string     `yaml:"data_file" json:"data_file"`
	Format    FormatSpec `yaml:"format" json:"-"`
}

// FormatSpec describes the CSV layout.
type FormatSpec struct {
	Delimiter string `yaml:"delimiter,omitempty"`
	Encoding  string `yaml:"encoding,omitempty"`
	HasHeader bool   `yaml:"has_header"`
	KeyColumn string `yaml:"key_column,omitempty"`
	IDColumn  string `yaml:"id_column,omitempty"`
	Normalize string `yaml:"normalize,omitempty"`
}

// LoadManifest reads and parses a manifest.yaml file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("manifest %s: missing id", path)
	}
	if m.DataFile == "" {
		m.DataFile = "data.csv"
	}
	if m.Kind == "" {
		m.Kind = KindReference
	}
	switch m.Kind {
	case KindReference:
		if m.Dimension == "" {
			m.Dimension = m.ID
		}
		if m.Format.KeyColumn == "" {
			m.Format.KeyColumn = m.Dimension
		}
		if m.Format.IDColumn == "" {
			m.Format.IDColumn = m.Format.KeyColumn + "_id"
		}
	case KindEntities:
	default:
		return nil, fmt.Errorf("manifest %s: unknown kind %q", path, m.Kind)
	}
	if err := ValidMode(m.Format.Normalize); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

// WriteManifest writes m as YAML to dir/manifest.yaml.
func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "manifest.yaml"), data, 0o644)
}
