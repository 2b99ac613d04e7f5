package maestro

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// ErrEntityTable is returned when a lookup is attempted on an entities maestro.
var ErrEntityTable = errors.New("maestro holds entities, not reference keys")

// Table is one loaded maestro: a read-only mapping from normalized natural key
// to surrogate id. Entity tables only carry their manifest and data path.
type Table struct {
	Manifest  *Manifest
	dir       string
	entries   map[string]int64
	normalize Normalizer
}

// LoadTable reads dir/manifest.yaml and loads the data from gob or csv.
func LoadTable(dir string) (*Table, error) {
	manifest, err := LoadManifest(filepath.Join(dir, "manifest.yaml"))
	if err != nil {
		return nil, err
	}

	t := &Table{
		Manifest:  manifest,
		dir:       dir,
		entries:   make(map[string]int64),
		normalize: GetNormalizer(manifest.Format.Normalize),
	}

	if manifest.Kind == KindEntities {
		if _, err := os.Stat(t.DataPath()); err != nil {
			return nil, fmt.Errorf("maestro %s: %w", manifest.ID, err)
		}
		return t, nil
	}

	// Gob takes priority over CSV.
	gobPath := filepath.Join(dir, "data.gob")
	if _, err := os.Stat(gobPath); err == nil {
		if err := t.loadGob(gobPath); err != nil {
			return nil, fmt.Errorf("maestro %s: %w", manifest.ID, err)
		}
		return t, nil
	}

	if err := t.loadCSV(t.DataPath()); err != nil {
		return nil, fmt.Errorf("maestro %s: %w", manifest.ID, err)
	}
	return t, nil
}

func (t *Table) loadCSV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open data file: %w", err)
	}
	defer f.Close()

	// Transcode non-UTF-8 encodings declared in the manifest.
	var reader io.Reader = f
	if enc := t.Manifest.Format.Encoding; enc != "" && !isUTF8(enc) {
		e, err := htmlindex.Get(enc)
		if err != nil {
			return fmt.Errorf("unsupported encoding %q: %w", enc, err)
		}
		reader = transform.NewReader(f, e.NewDecoder())
	}

	r := csv.NewReader(reader)
	if delim := t.Manifest.Format.Delimiter; delim != "" {
		r.Comma = []rune(delim)[0]
	}
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	// Without a header the key is column 0 and the id column 1.
	keyIdx, idIdx := 0, 1
	if t.Manifest.Format.HasHeader {
		header, err := r.Read()
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		keyIdx = columnIndex(header, t.Manifest.Format.KeyColumn)
		if keyIdx < 0 {
			return fmt.Errorf("key column %q not found in header %v", t.Manifest.Format.KeyColumn, header)
		}
		idIdx = columnIndex(header, t.Manifest.Format.IDColumn)
		if idIdx < 0 {
			return fmt.Errorf("id column %q not found in header %v", t.Manifest.Format.IDColumn, header)
		}
	}

	var collisions int
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read row: %w", err)
		}
		line++
		if keyIdx >= len(record) || idIdx >= len(record) {
			continue
		}

		key := t.normalize(record[keyIdx])
		if key == "" {
			continue
		}
		id, err := ParseID(record[idIdx])
		if err != nil {
			return fmt.Errorf("row %d: %w", line, err)
		}
		if _, exists := t.entries[key]; exists {
			collisions++
			continue
		}
		t.entries[key] = id
	}

	if collisions > 0 {
		slog.Warn("key collisions after normalization, first id kept", "maestro", t.Manifest.ID, "collisions", collisions)
	}
	return nil
}

// Lookup returns the surrogate id for key after normalization.
func (t *Table) Lookup(key string) (int64, bool) {
	id, ok := t.entries[t.normalize(key)]
	return id, ok
}

// NormalizeKey applies this maestro's normalizer to a key.
func (t *Table) NormalizeKey(key string) string {
	return t.normalize(key)
}

// Len returns the number of keys.
func (t *Table) Len() int {
	return len(t.entries)
}

// Dir returns the directory the table was loaded from.
func (t *Table) Dir() string {
	return t.dir
}

// DataPath returns the path of the table's data file.
func (t *Table) DataPath() string {
	return filepath.Join(t.dir, t.Manifest.DataFile)
}

// ParseID parses a surrogate id. Integral floats ("7.0") are accepted since
// tables exported from dataframes with missing values store ids as floats.
func ParseID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id, nil
	}
	if id, ok := parseIntegral(raw); ok {
		return id, nil
	}
	return 0, fmt.Errorf("invalid id %q", raw)
}

func columnIndex(header []string, name string) int {
	name = NormalizeLowercase(name)
	for i, h := range header {
		if NormalizeLowercase(strings.TrimPrefix(h, "\ufeff")) == name {
			return i
		}
	}
	return -1
}

func isUTF8(enc string) bool {
	e := strings.ToLower(strings.ReplaceAll(enc, "-", ""))
	return e == "utf8" || e == ""
}
