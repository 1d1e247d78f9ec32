package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neurocodex/codexdb/pkg/core"
	mcpapi "github.com/neurocodex/codexdb/pkg/mcp"
	"github.com/neurocodex/codexdb/pkg/motif"
)

// mcpBackend answers MCP tool calls through the same query layer as the
// HTTP handlers.
type mcpBackend struct {
	server *Server
}

func newMCPBackend(s *Server) *mcpBackend {
	return &mcpBackend{server: s}
}

func (b *mcpBackend) Search(ctx context.Context, version, query string, caseSensitive, wordMatch bool, limit int) (any, error) {
	return b.server.search(ctx, SearchRequest{
		Version:       version,
		Query:         query,
		CaseSensitive: caseSensitive,
		WordMatch:     wordMatch,
		Limit:         limit,
	})
}

func (b *mcpBackend) Cell(ctx context.Context, version, id string) (any, error) {
	rid, err := parseCellID(id)
	if err != nil {
		return nil, err
	}
	return b.server.cell(ctx, version, rid)
}

func (b *mcpBackend) Connections(ctx context.Context, args mcpapi.ConnectionsArgs) (any, error) {
	ids, err := parseCellIDs(args.IDs)
	if err != nil {
		return nil, err
	}
	return b.server.connections(ctx, ConnectionsRequest{
		Version:     args.Version,
		IDs:         ids,
		Query:       args.Query,
		Induced:     args.Induced,
		MinSynCount: max(args.MinSynCount, 0),
		NTTypes:     args.NTTypes,
		Regions:     args.Regions,
		Limit:       args.Limit,
	})
}

func (b *mcpBackend) Pathways(ctx context.Context, version, source, target string, minSyn int) (any, error) {
	src, err := parseCellID(source)
	if err != nil {
		return nil, err
	}
	dst, err := parseCellID(target)
	if err != nil {
		return nil, err
	}
	return b.server.pathways(ctx, version, src, dst, minSyn)
}

func (b *mcpBackend) MotifSearch(ctx context.Context, args mcpapi.MotifArgs) (any, error) {
	req := MotifRequest{Version: args.Version, Limit: args.Limit}
	if args.Sketch != nil {
		req.Sketch = new(motif.Sketch)
		if err := json.Unmarshal(args.Sketch, req.Sketch); err != nil {
			return nil, core.NewMotifError("sketch is not valid JSON: %v", err)
		}
	} else if err := json.Unmarshal(args.Form, &req.Form); err != nil {
		return nil, core.NewMotifError("form must be a JSON object of strings: %v", err)
	}
	return b.server.motifs(ctx, req)
}

func (b *mcpBackend) Versions(context.Context) (any, error) {
	res := b.server.versions()
	if len(res.Versions) == 0 {
		return nil, fmt.Errorf("%w: no versions registered", core.ErrVersionUnavailable)
	}
	return res, nil
}
