package maestro

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeTestMaestro writes a minimal manifest + CSV in a temp directory and returns the parent dir.
func writeTestMaestro(t *testing.T, id, normalize, csvContent string) string {
	t.Helper()
	dir := t.TempDir()
	mDir := filepath.Join(dir, id)
	if err := os.MkdirAll(mDir, 0o755); err != nil {
		t.Fatal(err)
	}

	manifest := `id: ` + id + `
version: "2024"
dimension: zona
source: unit test
data_file: data.csv
format:
  has_header: true
  key_column: zona
  id_column: zona_id
  normalize: ` + normalize + `
`
	os.WriteFile(filepath.Join(mDir, "manifest.yaml"), []byte(manifest), 0o644)
	os.WriteFile(filepath.Join(mDir, "data.csv"), []byte(csvContent), 0o644)
	return dir
}

func TestLoadTable(t *testing.T) {
	dir := writeTestMaestro(t, "zonas", "lowercase",
		"zona_id,zona\n7,Teno Prado\n8, SANTA ANA \n9,Wapri\n")

	tbl, err := LoadTable(filepath.Join(dir, "zonas"))
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if tbl.Manifest.ID != "zonas" {
		t.Errorf("ID = %q, want zonas", tbl.Manifest.ID)
	}
	if tbl.Len() != 3 {
		t.Errorf("Len = %d, want 3", tbl.Len())
	}

	for key, want := range map[string]int64{"teno prado": 7, "santa ana": 8, "wapri": 9} {
		got, ok := tbl.entries[key]
		if !ok || got != want {
			t.Errorf("entries[%q] = %d, %v; want %d", key, got, ok, want)
		}
	}
}

func TestLoadTable_ManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte("id: variedades\ndimension: variedad\nformat:\n  has_header: true\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "data.csv"), []byte("variedad_id,variedad\n1,Lapins\n"), 0o644)

	tbl, err := LoadTable(dir)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if tbl.Manifest.Kind != KindReference {
		t.Errorf("Kind = %q, want reference", tbl.Manifest.Kind)
	}
	if tbl.Manifest.Format.KeyColumn != "variedad" || tbl.Manifest.Format.IDColumn != "variedad_id" {
		t.Errorf("columns = %q/%q, want variedad/variedad_id", tbl.Manifest.Format.KeyColumn, tbl.Manifest.Format.IDColumn)
	}
	if id, ok := tbl.Lookup("LAPINS"); !ok || id != 1 {
		t.Errorf("Lookup(LAPINS) = %d, %v; want 1, true", id, ok)
	}
}

func TestLoadTable_FloatIDs(t *testing.T) {
	dir := writeTestMaestro(t, "zonas", "lowercase", "zona_id,zona\n7.0,Teno Prado\n")

	tbl, err := LoadTable(filepath.Join(dir, "zonas"))
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if id, ok := tbl.Lookup("teno prado"); !ok || id != 7 {
		t.Errorf("Lookup = %d, %v; want 7, true", id, ok)
	}
}

func TestLoadTable_InvalidID(t *testing.T) {
	dir := writeTestMaestro(t, "zonas", "lowercase", "zona_id,zona\nseven,Teno Prado\n")

	if _, err := LoadTable(filepath.Join(dir, "zonas")); err == nil {
		t.Error("expected error for unparsable id")
	}
}

func TestLoadTable_EmptyKeysSkipped(t *testing.T) {
	dir := writeTestMaestro(t, "zonas", "lowercase", "zona_id,zona\n1,\n2,wapri\n3,  \n")

	tbl, err := LoadTable(filepath.Join(dir, "zonas"))
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if tbl.Len() != 1 {
		t.Errorf("Len = %d, want 1 (empty keys skipped)", tbl.Len())
	}
}

func TestLoadTable_CollisionKeepsFirst(t *testing.T) {
	dir := writeTestMaestro(t, "zonas", "lowercase", "zona_id,zona\n1,Wapri\n2,WAPRI \n")

	tbl, err := LoadTable(filepath.Join(dir, "zonas"))
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if id, _ := tbl.Lookup("wapri"); id != 1 {
		t.Errorf("Lookup(wapri) = %d, want 1 (first id kept)", id)
	}
}

func TestLoadTable_MissingKeyColumn(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(`id: bad
format:
  has_header: true
  key_column: nonexistent
  id_column: zona_id
`), 0o644)
	os.WriteFile(filepath.Join(dir, "data.csv"), []byte("zona_id,zona\n1,a\n"), 0o644)

	if _, err := LoadTable(dir); err == nil {
		t.Error("expected error for missing key column")
	}
}

func TestLoadTable_NoHeader(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(`id: tratamientos
format:
  delimiter: ";"
  has_header: false
`), 0o644)
	os.WriteFile(filepath.Join(dir, "data.csv"), []byte("T1;1\nT2;2\n"), 0o644)

	tbl, err := LoadTable(dir)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if id, ok := tbl.Lookup("t2"); !ok || id != 2 {
		t.Errorf("Lookup(t2) = %d, %v; want 2, true", id, ok)
	}
}

func TestLoadTable_Latin1(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(`id: zonas
dimension: zona
format:
  encoding: iso-8859-1
  has_header: true
`), 0o644)
	// "Almidón" with ó encoded as 0xF3.
	os.WriteFile(filepath.Join(dir, "data.csv"), []byte("zona_id,zona\n4,Almid\xf3n\n"), 0o644)

	tbl, err := LoadTable(dir)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if id, ok := tbl.Lookup("almidón"); !ok || id != 4 {
		t.Errorf("Lookup(almidón) = %d, %v; want 4, true", id, ok)
	}
}

func TestLoadTable_EntitiesKind(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte("id: entidades\nkind: entities\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "data.csv"), []byte("entidad_id,zona_id\n0,7\n"), 0o644)

	tbl, err := LoadTable(dir)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("Len = %d, want 0 for entity table", tbl.Len())
	}
	if tbl.DataPath() != filepath.Join(dir, "data.csv") {
		t.Errorf("DataPath = %q", tbl.DataPath())
	}
}

func TestLoadManifest_UnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	os.WriteFile(path, []byte("id: x\nkind: bogus\n"), 0o644)

	if _, err := LoadManifest(path); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestLookup(t *testing.T) {
	dir := writeTestMaestro(t, "zonas", "lowercase", "zona_id,zona\n7,teno prado\n")

	tbl, err := LoadTable(filepath.Join(dir, "zonas"))
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}

	tests := []struct {
		key   string
		found bool
	}{
		{"teno prado", true},
		{"TENO PRADO", true},
		{"  Teno Prado ", true},
		{"teno -prado", false},
		{"unknown zone", false},
	}
	for _, tt := range tests {
		id, ok := tbl.Lookup(tt.key)
		if ok != tt.found {
			t.Errorf("Lookup(%q) = %v, want %v", tt.key, ok, tt.found)
		}
		if ok && id != 7 {
			t.Errorf("Lookup(%q) id = %d, want 7", tt.key, id)
		}
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{"7", 7, true},
		{" 12 ", 12, true},
		{"7.0", 7, true},
		{"7.5", 0, false},
		{"9007199254740993.0", 9007199254740993, true},
		{"1e300", 0, false},
		{"", 0, false},
		{"x", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseID(tt.raw)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseID(%q) = %d, %v; want %d, ok=%v", tt.raw, got, err, tt.want, tt.ok)
		}
	}
}

func TestWriteManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{ID: "entidades", Version: "2024", Kind: KindEntities, Source: "caida-de-hojas", DataFile: "data.csv"}
	if err := WriteManifest(dir, m); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	got, err := LoadManifest(filepath.Join(dir, "manifest.yaml"))
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if got.ID != m.ID || got.Kind != m.Kind || got.Source != m.Source {
		t.Errorf("round trip = %+v, want %+v", got, m)
	}
}

func TestCompileRejectsEntityTable(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte("id: entidades\nkind: entities\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "data.csv"), []byte("entidad_id\n0\n"), 0o644)

	_, err := Compile(dir)
	if !errors.Is(err, ErrEntityTable) {
		t.Errorf("Compile = %v, want ErrEntityTable", err)
	}
}
