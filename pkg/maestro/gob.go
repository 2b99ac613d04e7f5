package maestro

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// loadGob deserializes entries from a gob-encoded file into t.entries.
func (t *Table) loadGob(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open gob file: %w", err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(&t.entries); err != nil {
		return fmt.Errorf("decode gob: %w", err)
	}
	return nil
}

// SaveGob serializes entries to a gob-encoded file at path.
func SaveGob(entries map[string]int64, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create gob file: %w", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(entries); err != nil {
		return fmt.Errorf("encode gob: %w", err)
	}
	return nil
}

// Compile loads the CSV data of the reference maestro in dir and writes its
// normalized entries to dir/data.gob. An existing cache is rebuilt.
func Compile(dir string) (int, error) {
	gobPath := filepath.Join(dir, "data.gob")
	if err := os.Remove(gobPath); err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("remove stale cache: %w", err)
	}
	t, err := LoadTable(dir)
	if err != nil {
		return 0, err
	}
	if t.Manifest.Kind != KindReference {
		return 0, fmt.Errorf("maestro %s: %w", t.Manifest.ID, ErrEntityTable)
	}
	if err := SaveGob(t.entries, gobPath); err != nil {
		return 0, err
	}
	return len(t.entries), nil
}
