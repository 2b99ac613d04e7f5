package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/maestro/pkg/maestro"
)

func writeMaestro(t *testing.T, root, id, dim, data string) {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := "id: " + id + "\nversion: \"2024\"\ndimension: " + dim + "\nsource: test\nformat:\n  has_header: true\n"
	if err := os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "data.csv"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testServer(t *testing.T) (*httptest.Server, *maestro.Registry) {
	t.Helper()
	root := t.TempDir()
	writeMaestro(t, root, "zonas", "zona", "zona,zona_id\nteno prado,7\nsanta ana,8\n")
	writeMaestro(t, root, "variedades", "variedad", "variedad,variedad_id\nsantina,1\n")
	writeMaestro(t, root, "tratamientos", "tratamiento", "tratamiento,tratamiento_id\nt0,10\n")

	reg := maestro.NewRegistry(root)
	if err := reg.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ts := httptest.NewServer(NewRouter(reg, NewMetrics(reg)))
	t.Cleanup(ts.Close)
	return ts, reg
}

func getJSON(t *testing.T, url string, wantStatus int, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s: status %d, want %d: %s", url, resp.StatusCode, wantStatus, body)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
}

func TestHealthAndList(t *testing.T) {
	ts, _ := testServer(t)

	var health healthResponse
	getJSON(t, ts.URL+"/v1/health", http.StatusOK, &health)
	if health.Status != "ok" || health.Maestros != 3 || health.Entries != 4 {
		t.Errorf("health = %+v", health)
	}

	var list maestrosResponse
	getJSON(t, ts.URL+"/v1/maestros", http.StatusOK, &list)
	var ids []string
	for _, m := range list.Maestros {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"tratamientos", "variedades", "zonas"}, ids); diff != "" {
		t.Errorf("maestros (-want +got):\n%s", diff)
	}
}

func TestLookup(t *testing.T) {
	ts, _ := testServer(t)

	var hit maestro.LookupResult
	getJSON(t, ts.URL+"/v1/maestros/zonas/lookup/Teno%20Prado", http.StatusOK, &hit)
	if !hit.Found || hit.ID == nil || *hit.ID != 7 || hit.Normalized != "teno prado" {
		t.Errorf("hit = %+v", hit)
	}

	var miss maestro.LookupResult
	getJSON(t, ts.URL+"/v1/maestros/zonas/lookup/unknown%20zone", http.StatusOK, &miss)
	if miss.Found || miss.ID != nil {
		t.Errorf("miss = %+v", miss)
	}

	getJSON(t, ts.URL+"/v1/maestros/nope/lookup/x", http.StatusNotFound, nil)
}

func postCSV(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "text/csv", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestResolve(t *testing.T) {
	ts, _ := testServer(t)
	body := "lugar,variedad,tratamiento,ue,fecha,a %,va %,v%,ch %,d%\n" +
		"Teno -Prado,Santina,T0,1,2024-03-01,10,20,60,5,5\n" +
		"teno prado,santina,t0,1,2024-03-08,x,18,58,7,5\n" +
		"Atlantis,santina,t0,2,2024-03-08,1,1,1,1,1\n"

	resp, data := postCSV(t, ts.URL+"/v1/resolve/caida-de-hojas", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	var got resolveResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Mode != "resolve" || got.Stats.Records != 3 || got.Stats.Entities != 2 {
		t.Errorf("response = %+v", got)
	}
	wantEntities := []map[string]string{
		{"entidad_id": "0", "zona_id": "7", "variedad_id": "1", "tratamiento_id": "10", "unidad_experimental": "1"},
		{"entidad_id": "1", "zona_id": "", "variedad_id": "1", "tratamiento_id": "10", "unidad_experimental": "2"},
	}
	if diff := cmp.Diff(wantEntities, got.Entities); diff != "" {
		t.Errorf("entities (-want +got):\n%s", diff)
	}
	if got.Records[1]["porcentaje_hojas_amarillas"] != "" {
		t.Errorf("invalid number kept: %v", got.Records[1])
	}
	if diff := cmp.Diff(map[string][]string{"zona": {"atlantis"}}, got.Stats.Unresolved); diff != "" {
		t.Errorf("unresolved (-want +got):\n%s", diff)
	}
}

func TestResolveErrors(t *testing.T) {
	ts, _ := testServer(t)

	resp, _ := postCSV(t, ts.URL+"/v1/resolve/caida-de-hojas", "zona,variedad\na,b\n")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("missing column: status %d, want 422", resp.StatusCode)
	}
	resp, _ = postCSV(t, ts.URL+"/v1/resolve/no-such-job", "a\n1\n")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown job: status %d, want 404", resp.StatusCode)
	}
	resp, _ = postCSV(t, ts.URL+"/v1/resolve/almidon-en-yemas",
		"lugar,variedad,tratamiento,ue,fecha,muestreo,peso(mg),absorbancia,conc. mg/g\n")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("attach without entity table: status %d, want 404", resp.StatusCode)
	}
	getJSON(t, ts.URL+"/v1/resolve/caida-de-hojas", http.StatusMethodNotAllowed, nil)
}

func TestMetrics(t *testing.T) {
	ts, _ := testServer(t)
	getJSON(t, ts.URL+"/v1/maestros/zonas/lookup/teno%20prado", http.StatusOK, nil)
	getJSON(t, ts.URL+"/v1/maestros/zonas/lookup/nowhere", http.StatusOK, nil)
	getJSON(t, ts.URL+"/v1/maestros/bogus/lookup/x", http.StatusNotFound, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	text := string(data)
	for _, want := range []string{
		`maestro_lookups_total{maestro="zonas",outcome="hit"} 1`,
		`maestro_lookups_total{maestro="zonas",outcome="miss"} 1`,
		`maestro_lookups_total{maestro="unknown",outcome="error"} 1`,
		`maestro_tables_loaded 3`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestMCPTools(t *testing.T) {
	_, reg := testServer(t)
	srv := NewMCPServer(reg, NewMetrics(reg))
	ctx := context.Background()

	srv.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`))

	call := func(id int, name, args string) string {
		t.Helper()
		msg := `{"jsonrpc":"2.0","id":` + strconv.Itoa(id) + `,"method":"tools/call","params":{"name":"` + name + `","arguments":` + args + `}}`
		out, err := json.Marshal(srv.HandleMessage(ctx, []byte(msg)))
		if err != nil {
			t.Fatalf("marshal response: %v", err)
		}
		var resp struct {
			Result struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
				IsError bool `json:"isError"`
			} `json:"result"`
		}
		if err := json.Unmarshal(out, &resp); err != nil {
			t.Fatalf("decode %s: %v", out, err)
		}
		if resp.Result.IsError || len(resp.Result.Content) == 0 {
			t.Fatalf("%s: %s", name, out)
		}
		return resp.Result.Content[0].Text
	}

	var hit maestro.LookupResult
	if err := json.Unmarshal([]byte(call(2, "lookup_key", `{"maestro":"zonas","key":"SANTA ANA"}`)), &hit); err != nil {
		t.Fatal(err)
	}
	if hit.ID == nil || *hit.ID != 8 {
		t.Errorf("lookup_key = %+v", hit)
	}

	var list maestrosResponse
	if err := json.Unmarshal([]byte(call(3, "list_maestros", `{}`)), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Maestros) != 3 {
		t.Errorf("list_maestros returned %d maestros", len(list.Maestros))
	}

	var res resolveResponse
	csv := `lugar,variedad,tratamiento,ue,fecha,a %,va %,v%,ch %,d%\nteno prado,santina,t0,1,2024-03-01,1,2,3,4,5\n`
	if err := json.Unmarshal([]byte(call(4, "resolve_csv", `{"job":"caida-de-hojas","csv":"`+csv+`"}`)), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Entities) != 1 || res.Entities[0]["zona_id"] != "7" {
		t.Errorf("resolve_csv = %+v", res)
	}
}
