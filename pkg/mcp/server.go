// Package mcp exposes the connectome queries as Model Context Protocol
// tools over streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/time/rate"
)

const (
	toolSearch      = "codexdb_search"
	toolCell        = "codexdb_cell"
	toolConnections = "codexdb_connections"
	toolPathways    = "codexdb_pathways"
	toolMotifSearch = "codexdb_motif_search"
	toolVersions    = "codexdb_versions"
)

// Config controls MCP route behavior.
type Config struct {
	APIKey         string
	Stateless      bool
	RateLimitRPS   float64
	RateLimitBurst int
	EnablePrompts  bool
	AllowedTools   []string
}

// ConnectionsArgs selects connection rows around cells given as ids or as
// a search query. A negative MinSynCount uses the dataset default.
type ConnectionsArgs struct {
	Version     string
	IDs         string
	Query       string
	Induced     bool
	MinSynCount int
	NTTypes     []string
	Regions     []string
	Limit       int
}

// MotifArgs is a motif given as form fields or as a sketch, both raw JSON.
type MotifArgs struct {
	Version string
	Form    json.RawMessage
	Sketch  json.RawMessage
	Limit   int
}

// Backend is the query contract exposed to MCP tools. Results are
// marshalled to JSON as-is.
type Backend interface {
	Search(ctx context.Context, version, query string, caseSensitive, wordMatch bool, limit int) (any, error)
	Cell(ctx context.Context, version, id string) (any, error)
	Connections(ctx context.Context, args ConnectionsArgs) (any, error)
	Pathways(ctx context.Context, version, source, target string, minSyn int) (any, error)
	MotifSearch(ctx context.Context, args MotifArgs) (any, error)
	Versions(ctx context.Context) (any, error)
}

// NewHandler builds an MCP streamable HTTP handler with optional API-key auth
// and endpoint-local rate limiting.
func NewHandler(cfg Config, backend Backend) (http.Handler, error) {
	s, err := newServer(cfg, backend)
	if err != nil {
		return nil, err
	}

	streamable := mcpserver.NewStreamableHTTPServer(s, mcpserver.WithStateLess(cfg.Stateless))
	var h http.Handler = http.HandlerFunc(streamable.ServeHTTP)

	if strings.TrimSpace(cfg.APIKey) != "" {
		h = apiKeyMiddleware(strings.TrimSpace(cfg.APIKey), h)
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		h = rateLimitMiddleware(newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst), h)
	}

	return h, nil
}

func newServer(cfg Config, backend Backend) (*mcpserver.MCPServer, error) {
	if backend == nil {
		return nil, fmt.Errorf("mcp backend is required")
	}

	s := mcpserver.NewMCPServer(
		"codexdb-mcp",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(cfg.EnablePrompts),
		mcpserver.WithRecovery(),
	)

	registerTools(s, backend, cfg.AllowedTools)
	if cfg.EnablePrompts {
		registerPrompts(s)
	}
	return s, nil
}

func registerTools(s *mcpserver.MCPServer, backend Backend, allowed []string) {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		name = strings.TrimSpace(name)
		if name != "" {
			allowedSet[name] = struct{}{}
		}
	}
	isAllowed := func(name string) bool {
		if len(allowedSet) == 0 {
			return true
		}
		_, ok := allowedSet[name]
		return ok
	}
	versionArg := mcpproto.WithString("version", mcpproto.Description("Dataset version (optional, default version when omitted)."))

	if isAllowed(toolSearch) {
		s.AddTool(mcpproto.NewTool(toolSearch,
			mcpproto.WithDescription("Search cells by free text or structured query (e.g. \"side == left && nt_type == GABA\")."),
			versionArg,
			mcpproto.WithString("query", mcpproto.Required(), mcpproto.Description("Search query; empty lists the largest cells.")),
			mcpproto.WithBoolean("case_sensitive", mcpproto.Description("Match case (default false).")),
			mcpproto.WithBoolean("word_match", mcpproto.Description("Match whole words only (default false).")),
			mcpproto.WithNumber("limit", mcpproto.Description("Result page size (optional, default 50).")),
		), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
			args := req.GetArguments()
			result, err := backend.Search(ctx,
				getString(args, "version", ""),
				getString(args, "query", ""),
				getBool(args, "case_sensitive", false),
				getBool(args, "word_match", false),
				getInt(args, "limit", 50))
			if err != nil {
				return errResult(err.Error()), nil
			}
			return structuredResult("search completed", result)
		})
	}

	if isAllowed(toolCell) {
		s.AddTool(mcpproto.NewTool(toolCell,
			mcpproto.WithDescription("Fetch one cell with its labels, similar cells and synapse counts per region."),
			versionArg,
			mcpproto.WithString("id", mcpproto.Required(), mcpproto.Description("Cell root id.")),
		), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
			args := req.GetArguments()
			id := getString(args, "id", "")
			if strings.TrimSpace(id) == "" {
				return errResult("id is required"), nil
			}
			result, err := backend.Cell(ctx, getString(args, "version", ""), id)
			if err != nil {
				return errResult(err.Error()), nil
			}
			return structuredResult("cell fetched", result)
		})
	}

	if isAllowed(toolConnections) {
		s.AddTool(mcpproto.NewTool(toolConnections,
			mcpproto.WithDescription("List synaptic connections touching a set of cells, given as ids or as a search query."),
			versionArg,
			mcpproto.WithString("ids", mcpproto.Description("Comma separated root ids.")),
			mcpproto.WithString("query", mcpproto.Description("Search query selecting the cells (used instead of ids).")),
			mcpproto.WithBoolean("induced", mcpproto.Description("Only connections with both ends in the set (default false).")),
			mcpproto.WithNumber("min_syn_count", mcpproto.Description("Minimum synapses per connection (optional).")),
			mcpproto.WithString("nt_type", mcpproto.Description("Comma separated neurotransmitter codes (e.g. ACH,GABA).")),
			mcpproto.WithString("region", mcpproto.Description("Comma separated neuropil codes (e.g. LH_L).")),
			mcpproto.WithNumber("limit", mcpproto.Description("Maximum rows returned (optional).")),
		), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
			args := req.GetArguments()
			ca := ConnectionsArgs{
				Version:     getString(args, "version", ""),
				IDs:         getString(args, "ids", ""),
				Query:       getString(args, "query", ""),
				Induced:     getBool(args, "induced", false),
				MinSynCount: getInt(args, "min_syn_count", 0),
				NTTypes:     splitList(getString(args, "nt_type", "")),
				Regions:     splitList(getString(args, "region", "")),
				Limit:       getInt(args, "limit", 0),
			}
			if strings.TrimSpace(ca.IDs) == "" && strings.TrimSpace(ca.Query) == "" {
				return errResult("ids or query is required"), nil
			}
			result, err := backend.Connections(ctx, ca)
			if err != nil {
				return errResult(err.Error()), nil
			}
			return structuredResult("connections listed", result)
		})
	}

	if isAllowed(toolPathways) {
		s.AddTool(mcpproto.NewTool(toolPathways,
			mcpproto.WithDescription("Find the shortest synaptic pathways from a source cell to a target cell."),
			versionArg,
			mcpproto.WithString("source", mcpproto.Required(), mcpproto.Description("Source root id.")),
			mcpproto.WithString("target", mcpproto.Required(), mcpproto.Description("Target root id.")),
			mcpproto.WithNumber("min_syn_count", mcpproto.Description("Minimum synapses per hop (optional, dataset default).")),
		), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
			args := req.GetArguments()
			source := getString(args, "source", "")
			target := getString(args, "target", "")
			if source == "" || target == "" {
				return errResult("source and target are required"), nil
			}
			result, err := backend.Pathways(ctx, getString(args, "version", ""), source, target, getInt(args, "min_syn_count", -1))
			if err != nil {
				return errResult(err.Error()), nil
			}
			return structuredResult("pathways computed", result)
		})
	}

	if isAllowed(toolMotifSearch) {
		s.AddTool(mcpproto.NewTool(toolMotifSearch,
			mcpproto.WithDescription("Find up to three cells connected in a given pattern (network motif)."),
			versionArg,
			mcpproto.WithString("form", mcpproto.Description("JSON object of form fields: queryA..queryC, and per edge XY enabledXY=\"on\", regionXY, minSynapseCountXY, ntTypeXY.")),
			mcpproto.WithString("sketch", mcpproto.Description("JSON sketch {nodes:[{index,label,properties:{search_query}}], edges:[{indices:[i,j],properties:{regions}}]} (used instead of form).")),
			mcpproto.WithNumber("limit", mcpproto.Description("Maximum matches (optional).")),
		), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
			args := req.GetArguments()
			ma := MotifArgs{
				Version: getString(args, "version", ""),
				Limit:   getInt(args, "limit", 0),
			}
			if raw := getString(args, "form", ""); raw != "" {
				ma.Form = json.RawMessage(raw)
			}
			if raw := getString(args, "sketch", ""); raw != "" {
				ma.Sketch = json.RawMessage(raw)
			}
			if ma.Form == nil && ma.Sketch == nil {
				return errResult("form or sketch is required"), nil
			}
			result, err := backend.MotifSearch(ctx, ma)
			if err != nil {
				return errResult(err.Error()), nil
			}
			return structuredResult("motif search completed", result)
		})
	}

	if isAllowed(toolVersions) {
		s.AddTool(mcpproto.NewTool(toolVersions,
			mcpproto.WithDescription("List the dataset versions that can be queried."),
		), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
			result, err := backend.Versions(ctx)
			if err != nil {
				return errResult(err.Error()), nil
			}
			return structuredResult("versions listed", result)
		})
	}
}

func registerPrompts(s *mcpserver.MCPServer) {
	s.AddPrompt(mcpproto.NewPrompt("codexdb_explore_cell_type",
		mcpproto.WithPromptDescription("Generate a workflow that characterizes a cell type and its partners."),
		mcpproto.WithArgument("cell_type", mcpproto.RequiredArgument(), mcpproto.ArgumentDescription("Cell type or free text describing the cells.")),
	), func(_ context.Context, req mcpproto.GetPromptRequest) (*mcpproto.GetPromptResult, error) {
		cellType := req.Params.Arguments["cell_type"]
		return &mcpproto.GetPromptResult{
			Description: "codexdb cell type exploration workflow",
			Messages: []mcpproto.PromptMessage{
				{
					Role: mcpproto.RoleUser,
					Content: mcpproto.TextContent{
						Type: "text",
						Text: fmt.Sprintf("Find cells matching %q with codexdb_search, inspect a few with codexdb_cell, then summarize their main input and output partners using codexdb_connections. Cite root ids.", cellType),
					},
				},
			},
		}, nil
	})
}

func errResult(msg string) *mcpproto.CallToolResult {
	return &mcpproto.CallToolResult{
		Content: []mcpproto.Content{
			mcpproto.TextContent{Type: "text", Text: "Error: " + msg},
		},
		IsError: true,
	}
}

func structuredResult(summary string, data any) (*mcpproto.CallToolResult, error) {
	blob, err := json.Marshal(data)
	if err != nil {
		return errResult(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return &mcpproto.CallToolResult{
		Content: []mcpproto.Content{
			mcpproto.TextContent{Type: "text", Text: summary},
			mcpproto.TextContent{Type: "text", Text: string(blob)},
		},
	}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getString(args map[string]any, key string, def string) string {
	if args == nil {
		return def
	}
	switch v := args[key].(type) {
	case string:
		return v
	case float64:
		// numeric ids sent as numbers lose precision above 2^53
		return fmt.Sprintf("%.0f", v)
	}
	return def
}

func getInt(args map[string]any, key string, def int) int {
	if args == nil {
		return def
	}
	v, ok := args[key].(float64)
	if !ok {
		return def
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return int(v)
}

func getBool(args map[string]any, key string, def bool) bool {
	if args == nil {
		return def
	}
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func apiKeyMiddleware(expected string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		provided := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if provided == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				provided = strings.TrimSpace(auth[7:])
			}
		}

		if provided == "" || provided != expected {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter keeps one token bucket per client address.
type rateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*rate.Limiter),
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	l, ok := rl.clients[key]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.clients[key] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

func rateLimitMiddleware(rl *rateLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientAddr(r)
		if !rl.allow(key) {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if strings.TrimSpace(r.RemoteAddr) != "" {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return "unknown"
}
