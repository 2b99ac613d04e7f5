package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hazyhaar/maestro/pkg/maestro"
	"github.com/hazyhaar/maestro/pkg/resolver"
	"github.com/hazyhaar/maestro/pkg/tabular"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// trialMaestros writes the three reference maestros used by the built-in jobs.
func trialMaestros(t *testing.T) *maestro.Registry {
	t.Helper()
	dir := t.TempDir()
	refs := map[string]struct{ dim, csv string }{
		"zonas":        {"zona", "zona,zona_id\nteno prado,7\nsanta ana,8\nwapri,9\n"},
		"variedades":   {"variedad", "variedad,variedad_id\nsantina,1\nlapins,2\n"},
		"tratamientos": {"tratamiento", "tratamiento,tratamiento_id\nt0,10\nt1,11\n"},
	}
	for id, r := range refs {
		writeFile(t, filepath.Join(dir, id, "manifest.yaml"),
			"id: "+id+"\nversion: \"2024\"\ndimension: "+r.dim+"\nformat:\n  has_header: true\n")
		writeFile(t, filepath.Join(dir, id, "data.csv"), r.csv)
	}
	reg := maestro.NewRegistry(dir)
	if err := reg.Load(); err != nil {
		t.Fatalf("Load maestros: %v", err)
	}
	return reg
}

func readFrame(t *testing.T, path string) *tabular.Frame {
	t.Helper()
	f, err := tabular.ReadFile(path, tabular.ReadOptions{})
	if err != nil {
		t.Fatalf("ReadFile %s: %v", path, err)
	}
	return f
}

const caidaInput = `Lugar,Variedad,Tratamiento,UE,Fecha,A %,VA %,V%,CH %,D%
Teno -Prado,Santina,T0,1,2024-03-01,10,20,60,5,5
teno prado,santina,t0,1.0,2024-03-08,12,18,58,7,5
Los Niches- Marengo,Lapins,T1,2,2024-03-01,n/d,10,80,5,5
Curico,Lapins,T1,3,2024-03-01,1,2,3,4,5
`

func TestCaidaDeHojasThenAlmidon(t *testing.T) {
	reg := trialMaestros(t)
	out := t.TempDir()
	input := filepath.Join(t.TempDir(), "entrada_caida_de_hojas.csv")
	writeFile(t, input, caidaInput)

	caida, err := Get("caida-de-hojas")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	rep, err := caida.Import(context.Background(), Request{Input: input, OutputDir: out, Maestros: reg, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Import caida: %v", err)
	}
	if rep.Stats.Records != 4 || rep.Stats.Entities != 3 {
		t.Errorf("stats = %+v", rep.Stats)
	}
	if diff := cmp.Diff(map[string][]string{"zona": {"curico"}}, rep.Stats.Unresolved); diff != "" {
		t.Errorf("unresolved (-want +got):\n%s", diff)
	}

	records := readFrame(t, filepath.Join(out, "entrada_caida_de_hojas_with_entity_id.csv"))
	wantCols := []string{"entidad_id", "fecha", "porcentaje_hojas_amarillas", "porcentaje_hojas_verde_amarillas",
		"porcentaje_hojas_verdes", "porcentaje_hojas_caidas", "porcentaje_hojas_danadas"}
	if diff := cmp.Diff(wantCols, records.Columns); diff != "" {
		t.Errorf("record columns (-want +got):\n%s", diff)
	}
	var ids []string
	for _, row := range records.Rows {
		ids = append(ids, row[0])
	}
	if diff := cmp.Diff([]string{"0", "0", "1", "2"}, ids); diff != "" {
		t.Errorf("record entity ids (-want +got):\n%s", diff)
	}
	if records.Rows[2][2] != "" {
		t.Errorf("unparsable percentage = %q, want empty", records.Rows[2][2])
	}

	ent, ok := reg.Get("entidades")
	if !ok {
		t.Fatal("entidades maestro not published")
	}
	if ent.Manifest.Kind != maestro.KindEntities {
		t.Errorf("kind = %s", ent.Manifest.Kind)
	}
	entities := readFrame(t, ent.DataPath())
	want := tabular.NewFrame("entidad_id", "zona_id", "variedad_id", "tratamiento_id", "unidad_experimental")
	want.Append("0", "7", "1", "10", "1")
	want.Append("1", "9", "2", "11", "2")
	want.Append("2", "", "2", "11", "3")
	if diff := cmp.Diff(want, entities); diff != "" {
		t.Errorf("entity table (-want +got):\n%s", diff)
	}

	starch := filepath.Join(t.TempDir(), "almidon.csv")
	writeFile(t, starch, `LUGAR,VARIEDAD,TRATAMIENTO,UE,FECHA,MUESTREO,PESO(MG),ABSORBANCIA,CONC. MG/G
teno -prado,Santina,t0,1,2024-06-01,1,12.5,0.31,4.2
Los niches- marengo,lapins,T1,2,2024-06-01,1,abc,0.29,3.9
Santa Ana,santina,t0,1,2024-06-01,1,11,0.2,3
`)
	almidon, err := Get("almidon-en-yemas")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	rep, err = almidon.Import(context.Background(), Request{Input: starch, OutputDir: out, Maestros: reg, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Import almidon: %v", err)
	}
	if rep.Stats.Unmatched != 1 {
		t.Errorf("unmatched = %d, want 1", rep.Stats.Unmatched)
	}

	got := readFrame(t, filepath.Join(out, "entrada_almidon_en_yemas.csv"))
	wantStarch := tabular.NewFrame("entidad_id", "fecha", "muestreo", "peso_yema_mg", "absorbancia", "concentracion_almidon_mg_por_g")
	wantStarch.Append("0", "2024-06-01", "1", "12.5", "0.31", "4.2")
	wantStarch.Append("1", "2024-06-01", "1", "", "0.29", "3.9")
	wantStarch.Append("", "2024-06-01", "1", "11", "0.2", "3")
	if diff := cmp.Diff(wantStarch, got); diff != "" {
		t.Errorf("starch output (-want +got):\n%s", diff)
	}
}

func TestImportFatalWritesNothing(t *testing.T) {
	reg := trialMaestros(t)
	out := t.TempDir()
	input := filepath.Join(t.TempDir(), "bad.csv")
	writeFile(t, input, "zona,variedad,tratamiento,ue\nteno prado,santina,t0,1\n")

	caida, _ := Get("caida-de-hojas")
	_, err := caida.Import(context.Background(), Request{Input: input, OutputDir: out, Maestros: reg, Logger: quietLogger()})
	if !errors.Is(err, resolver.ErrMissingColumn) {
		t.Fatalf("err = %v, want ErrMissingColumn", err)
	}
	entries, _ := os.ReadDir(out)
	if len(entries) != 0 {
		t.Errorf("output dir has %d entries after failure", len(entries))
	}
	if _, ok := reg.Get("entidades"); ok {
		t.Error("entity table published after failure")
	}
}

func TestImportFailedPublishRemovesRecords(t *testing.T) {
	reg := trialMaestros(t)
	writeFile(t, filepath.Join(reg.Dir(), "entidades"), "not a directory")
	out := t.TempDir()
	input := filepath.Join(t.TempDir(), "entrada_caida_de_hojas.csv")
	writeFile(t, input, caidaInput)

	caida, _ := Get("caida-de-hojas")
	if _, err := caida.Import(context.Background(), Request{Input: input, OutputDir: out, Maestros: reg, Logger: quietLogger()}); err == nil {
		t.Fatal("Import succeeded with unwritable entity table")
	}
	entries, _ := os.ReadDir(out)
	if len(entries) != 0 {
		t.Errorf("output dir has %d entries after failed publish", len(entries))
	}
	if _, ok := reg.Get("entidades"); ok {
		t.Error("entity table published after failure")
	}
}

func TestOrderedRunsAttachLast(t *testing.T) {
	var builtin []Adapter
	for _, a := range All() {
		if a.ID() == "caida-de-hojas" || a.ID() == "almidon-en-yemas" {
			builtin = append(builtin, a)
		}
	}
	var ids []string
	for _, a := range Ordered(builtin) {
		ids = append(ids, a.ID())
	}
	if diff := cmp.Diff([]string{"caida-de-hojas", "almidon-en-yemas"}, ids); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}

	reg := trialMaestros(t)
	dir := t.TempDir()
	inputs := map[string]string{
		"caida-de-hojas":   filepath.Join(dir, "caida.csv"),
		"almidon-en-yemas": filepath.Join(dir, "almidon.csv"),
	}
	writeFile(t, inputs["caida-de-hojas"], caidaInput)
	writeFile(t, inputs["almidon-en-yemas"], "lugar,variedad,tratamiento,ue,fecha,muestreo,peso(mg),absorbancia,conc. mg/g\nteno prado,santina,t0,1,2024-06-01,1,12.5,0.31,4.2\n")
	out := t.TempDir()
	for _, a := range Ordered(builtin) {
		if _, err := a.Import(context.Background(), Request{Input: inputs[a.ID()], OutputDir: out, Maestros: reg, Logger: quietLogger()}); err != nil {
			t.Fatalf("Import %s: %v", a.ID(), err)
		}
	}
}

func TestOrderedKeepsRelativeOrder(t *testing.T) {
	attach := &Job{Name: "b-attach", Mode: ModeAttach}
	resolveJob := &Job{Name: "c-resolve", Mode: ModeResolve}
	other := &fakeAdapter{id: "a-other"}
	late := &Job{Name: "d-attach", Mode: ModeAttach}

	var ids []string
	for _, a := range Ordered([]Adapter{other, attach, late, resolveJob}) {
		ids = append(ids, a.ID())
	}
	if diff := cmp.Diff([]string{"a-other", "c-resolve", "b-attach", "d-attach"}, ids); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestAttachWithoutPublishedEntities(t *testing.T) {
	reg := trialMaestros(t)
	input := filepath.Join(t.TempDir(), "almidon.csv")
	writeFile(t, input, "lugar,variedad,tratamiento,ue,fecha,muestreo,peso(mg),absorbancia,conc. mg/g\n")

	almidon, _ := Get("almidon-en-yemas")
	_, err := almidon.Import(context.Background(), Request{Input: input, OutputDir: t.TempDir(), Maestros: reg, Logger: quietLogger()})
	if err == nil || !strings.Contains(err.Error(), "entidades") {
		t.Fatalf("err = %v, want unknown entidades maestro", err)
	}
}

const jobYAML = `id: poda
description: Pruning weights
input: poda.csv
delimiter: ";"
output: poda_with_entity_id.csv
config:
  dimensions:
    - name: zona
      source: lugar
      reference: zonas
      spelling:
        teno -prado: teno prado
    - name: ue
      output: unidad_experimental
      normalize: label
  measures:
    - source: peso
      output: peso_kg
      kind: number
`

func TestLoadJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poda.yaml")
	writeFile(t, path, jobYAML)

	j, err := LoadJob(path)
	if err != nil {
		t.Fatalf("LoadJob: %v", err)
	}
	if j.ID() != "poda" || j.Mode != ModeResolve || j.DefaultInput() != "poda.csv" {
		t.Errorf("job = %+v", j)
	}
	if j.ReadOptions().Delimiter != ';' {
		t.Errorf("delimiter = %q", j.ReadOptions().Delimiter)
	}
	if j.Config.EntityColumn != resolver.DefaultEntityColumn {
		t.Errorf("entity column = %q", j.Config.EntityColumn)
	}
	if got := j.Config.Dimensions[0].ForeignKey; got != "zona_id" {
		t.Errorf("foreign key = %q", got)
	}

	reg := trialMaestros(t)
	f := tabular.NewFrame("lugar", "ue", "peso")
	f.Append("Teno -Prado", "4", "1.25")
	f.Append("TENO PRADO", "4.0", "x")
	res, err := j.Resolve(f, reg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Entities) != 1 || *res.Entities[0].ForeignKeys[0] != 7 {
		t.Errorf("entities = %+v", res.Entities)
	}
	if res.Stats.InvalidMeasures["peso_kg"] != 1 {
		t.Errorf("invalid = %v", res.Stats.InvalidMeasures)
	}
}

func TestLoadJobErrors(t *testing.T) {
	tests := []struct {
		name, yaml string
	}{
		{"missing id", "config:\n  dimensions:\n    - name: a\n"},
		{"bad mode", "id: x\nmode: merge\nconfig:\n  dimensions:\n    - name: a\n"},
		{"attach without entities", "id: x\nmode: attach\nconfig:\n  dimensions:\n    - name: a\n"},
		{"no dimensions", "id: x\n"},
		{"long delimiter", "id: x\ndelimiter: ';;'\nconfig:\n  dimensions:\n    - name: a\n"},
		{"bad yaml", "id: [x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "job.yaml")
			writeFile(t, path, tt.yaml)
			if _, err := LoadJob(path); err == nil {
				t.Error("LoadJob succeeded, want error")
			}
		})
	}
}

func TestRegisterJobs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "poda.yaml"), jobYAML)
	writeFile(t, filepath.Join(dir, "README.md"), "not a job")

	jobs, err := RegisterJobs(dir)
	if err != nil {
		t.Fatalf("RegisterJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if _, err := Get("poda"); err != nil {
		t.Errorf("Get(poda): %v", err)
	}

	jobs, err = RegisterJobs(filepath.Join(dir, "missing"))
	if err != nil || len(jobs) != 0 {
		t.Errorf("missing dir: jobs=%v err=%v", jobs, err)
	}
}

func TestBuiltinAdapters(t *testing.T) {
	for _, id := range []string{"caida-de-hojas", "almidon-en-yemas"} {
		a, err := Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if a.DefaultInput() == "" || a.Description() == "" {
			t.Errorf("%s: incomplete adapter", id)
		}
	}
	if _, err := Get("nope"); err == nil {
		t.Error("Get(nope) succeeded")
	}
}
