package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/maestro/pkg/importer"
	"github.com/hazyhaar/maestro/pkg/kit"
	"github.com/hazyhaar/maestro/pkg/maestro"
	"github.com/hazyhaar/maestro/pkg/resolver"
	"github.com/hazyhaar/maestro/pkg/tabular"
)

// maxResolveBody bounds the spreadsheet accepted by POST /v1/resolve.
const maxResolveBody = 32 << 20

// NewRouter returns an http.Handler with every maestro API route, the
// Prometheus endpoint and the streamable MCP endpoint.
func NewRouter(reg *maestro.Registry, metrics *Metrics) http.Handler {
	mux := http.NewServeMux()
	h := &handler{
		lookup:       kit.Chain(kit.Logging("lookup"), metrics.countLookups)(lookupEndpoint(reg)),
		listMaestros: listMaestrosEndpoint(reg),
		resolve:      kit.Chain(kit.Logging("resolve"), metrics.countResolutions)(resolveEndpoint(reg)),
		reg:          reg,
	}

	mux.HandleFunc("GET /v1/maestros", h.handleListMaestros)
	mux.HandleFunc("GET /v1/maestros/{id}/lookup/{term}", h.handleLookup)
	mux.HandleFunc("GET /v1/resolve/{job}", methodNotAllowed) // resolve needs a body
	mux.HandleFunc("POST /v1/resolve/{job}", h.handleResolve)
	mux.HandleFunc("GET /v1/health", h.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("/mcp", server.NewStreamableHTTPServer(NewMCPServer(reg, metrics)))

	return cors(kit.HTTPContext(mux))
}

type handler struct {
	lookup       kit.Endpoint
	listMaestros kit.Endpoint
	resolve      kit.Endpoint
	reg          *maestro.Registry
}

// --- lookup ---

func (h *handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	resp, err := h.lookup(r.Context(), &lookupReq{
		Maestro: r.PathValue("id"),
		Key:     r.PathValue("term"),
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- list maestros ---

func (h *handler) handleListMaestros(w http.ResponseWriter, r *http.Request) {
	resp, err := h.listMaestros(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- resolve ---

// handleResolve reads the body as CSV, or as a workbook when ?format=xlsx,
// and returns the re-keyed dataset as JSON.
func (h *handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxResolveBody)

	name := "body.csv"
	if strings.EqualFold(r.URL.Query().Get("format"), "xlsx") {
		name = "body.xlsx"
	}
	opts := tabular.ReadOptions{LowerHeaders: true, Sheet: r.URL.Query().Get("sheet")}
	if d := r.URL.Query().Get("delimiter"); len(d) == 1 {
		opts.Delimiter = rune(d[0])
	}
	frame, err := tabular.Read(name, r.Body, opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.resolve(r.Context(), &resolveReq{Job: r.PathValue("job"), Frame: frame})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- health ---

type healthResponse struct {
	Status   string `json:"status"`
	Maestros int    `json:"maestros"`
	Entries  int    `json:"entries"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Maestros: h.reg.Count(),
		Entries:  h.reg.TotalEntries(),
	})
}

// --- helpers ---

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, maestro.ErrUnknownMaestro), errors.Is(err, importer.ErrUnknownAdapter):
		return http.StatusNotFound
	case errors.Is(err, resolver.ErrMissingColumn), errors.Is(err, resolver.ErrUnknownReference):
		return http.StatusUnprocessableEntity
	case errors.Is(err, maestro.ErrEntityTable), errors.Is(err, errNotResolvable), errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// cors is a simple CORS middleware for browser-based clients.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
