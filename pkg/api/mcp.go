package api

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/maestro/pkg/kit"
	"github.com/hazyhaar/maestro/pkg/maestro"
	"github.com/hazyhaar/maestro/pkg/tabular"
)

// Version is reported to MCP clients.
const Version = "0.3.0"

// NewMCPServer returns an MCP server exposing the maestro tools.
func NewMCPServer(reg *maestro.Registry, metrics *Metrics) *server.MCPServer {
	srv := server.NewMCPServer("maestro", Version, server.WithToolCapabilities(false))
	RegisterMCPTools(srv, reg, metrics)
	return srv
}

// RegisterMCPTools registers the lookup_key, list_maestros and resolve_csv tools.
func RegisterMCPTools(srv *server.MCPServer, reg *maestro.Registry, metrics *Metrics) {
	registerLookupKey(srv, reg, metrics)
	registerListMaestros(srv, reg)
	registerResolveCSV(srv, reg, metrics)
}

func registerLookupKey(srv *server.MCPServer, reg *maestro.Registry, metrics *Metrics) {
	tool := mcp.NewTool("lookup_key",
		mcp.WithDescription("Resolve a natural key (zone, variety, treatment name) to its surrogate id in a maestro reference table."),
		mcp.WithString("maestro", mcp.Required(), mcp.Description("Maestro id, e.g. zonas")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Natural key; normalized with the maestro's rules before lookup")),
	)

	ep := kit.Chain(kit.Logging("lookup"), metrics.countLookups)(lookupEndpoint(reg))
	kit.RegisterMCPTool(srv, tool, ep, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		id, _ := args["maestro"].(string)
		key, _ := args["key"].(string)
		return &kit.MCPDecodeResult{Request: &lookupReq{Maestro: id, Key: key}}, nil
	})
}

func registerListMaestros(srv *server.MCPServer, reg *maestro.Registry) {
	tool := mcp.NewTool("list_maestros",
		mcp.WithDescription("List loaded maestros with their dimension, kind, version and entry count."),
	)

	kit.RegisterMCPTool(srv, tool, listMaestrosEndpoint(reg), func(_ mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	})
}

func registerResolveCSV(srv *server.MCPServer, reg *maestro.Registry, metrics *Metrics) {
	tool := mcp.NewTool("resolve_csv",
		mcp.WithDescription("Run a registered import job over inline CSV and return entities, re-keyed records and unresolved keys. Nothing is written."),
		mcp.WithString("job", mcp.Required(), mcp.Description("Job id, e.g. caida-de-hojas")),
		mcp.WithString("csv", mcp.Required(), mcp.Description("CSV text with a header row")),
	)

	ep := kit.Chain(kit.Logging("resolve"), metrics.countResolutions)(resolveEndpoint(reg))
	kit.RegisterMCPTool(srv, tool, ep, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		job, _ := args["job"].(string)
		text, _ := args["csv"].(string)
		if job == "" {
			return nil, fmt.Errorf("job is required")
		}
		frame, err := tabular.ReadCSV(strings.NewReader(text), tabular.ReadOptions{LowerHeaders: true})
		if err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &resolveReq{Job: job, Frame: frame}}, nil
	})
}
