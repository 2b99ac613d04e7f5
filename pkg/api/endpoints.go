package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/maestro/pkg/importer"
	"github.com/hazyhaar/maestro/pkg/kit"
	"github.com/hazyhaar/maestro/pkg/maestro"
	"github.com/hazyhaar/maestro/pkg/resolver"
	"github.com/hazyhaar/maestro/pkg/tabular"
)

// Shared request/response types used by both HTTP and MCP transports.

type lookupReq struct {
	Maestro string
	Key     string
}

type resolveReq struct {
	Job   string
	Frame *tabular.Frame
}

type maestrosResponse struct {
	Maestros []maestro.Info `json:"maestros"`
}

type resolveResponse struct {
	Job      string              `json:"job"`
	Mode     string              `json:"mode"`
	Entities []map[string]string `json:"entities,omitempty"`
	Records  []map[string]string `json:"records"`
	Stats    resolver.Stats      `json:"stats"`
}

var (
	// errNotResolvable is returned for adapters that cannot resolve an in-memory frame.
	errNotResolvable  = errors.New("adapter does not support in-memory resolution")
	errInvalidRequest = errors.New("invalid request")
)

func lookupEndpoint(reg *maestro.Registry) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*lookupReq)
		if req.Maestro == "" || req.Key == "" {
			return nil, fmt.Errorf("%w: maestro and key are required", errInvalidRequest)
		}
		return reg.Lookup(req.Maestro, req.Key)
	}
}

func listMaestrosEndpoint(reg *maestro.Registry) kit.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		return maestrosResponse{Maestros: reg.List()}, nil
	}
}

// resolveEndpoint runs a registered job over the request frame. Nothing is
// written: the outputs are returned in the response.
func resolveEndpoint(reg *maestro.Registry) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*resolveReq)
		if req.Frame == nil {
			return nil, fmt.Errorf("%w: no input rows", errInvalidRequest)
		}
		a, err := importer.Get(req.Job)
		if err != nil {
			return nil, err
		}
		job, ok := a.(*importer.Job)
		if !ok {
			return nil, fmt.Errorf("%s: %w", req.Job, errNotResolvable)
		}

		res, err := job.Resolve(req.Frame, reg)
		if err != nil {
			return nil, err
		}
		kit.Logger(ctx).Info("resolved",
			"adapter", job.ID(),
			"records", res.Stats.Records,
			"entities", res.Stats.Entities,
			"unresolved", res.Stats.UnresolvedCount(),
		)

		resp := resolveResponse{
			Job:     job.ID(),
			Mode:    job.Mode,
			Records: res.RecordFrame().Records(),
			Stats:   res.Stats,
		}
		if job.Mode == importer.ModeResolve {
			resp.Entities = res.EntityFrame().Records()
		}
		return resp, nil
	}
}
